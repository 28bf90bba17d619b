package docql

import (
	"fmt"
	"strings"
)

// Source is a named reference to a document collection, optionally aliased.
type Source struct {
	Collection string
	Alias      string
}

// Key is the name rows of this source are keyed under: the alias if set,
// otherwise the collection name.
func (s Source) Key() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Collection
}

func (s Source) String() string {
	if s.Alias != "" {
		return s.Collection + " AS " + s.Alias
	}
	return s.Collection
}

// SourceResolver maps a collection name to a Source. An empty name asks for
// the default collection.
type SourceResolver interface {
	ResolveSource(name string) (Source, bool)
}

// SourceFunc adapts a plain function to SourceResolver.
type SourceFunc func(name string) (Source, bool)

func (f SourceFunc) ResolveSource(name string) (Source, bool) { return f(name) }

// Join is a left join of Source on a compiled condition.
type Join struct {
	Source Source
	On     Condition
}

// Column is one projected expression with an optional alias.
type Column struct {
	Expr  Expression
	Alias string
}

// Name is the result key of the column at 1-based position pos: the alias,
// else the property or meta field name, else "$pos".
func (c Column) Name(pos int) string {
	if c.Alias != "" {
		return c.Alias
	}
	switch e := c.Expr.(type) {
	case Property:
		return e.Name
	case Meta:
		return string(e.Kind)
	}
	return fmt.Sprintf("$%d", pos)
}

// Projection is either All (one wildcard column per source) or an ordered
// list of columns.
type Projection struct {
	All     bool
	Columns []Column
}

// Ordering sorts by Expr.
type Ordering struct {
	Expr      Expression
	Ascending bool
}

// Window bounds the result set. It is only attached for a positive limit.
type Window struct {
	Limit  int
	Offset int
}

// QueryPlan is the compiled form of a Request. It is a pure value; building
// it never touches a store.
type QueryPlan struct {
	Source     Source
	Joins      []Join
	Projection Projection
	Filter     Condition
	GroupBy    []Expression
	OrderBy    []Ordering
	Window     *Window
	Warnings   []Warning
}

// Builder compiles Requests into QueryPlans. A nil Resolver accepts every
// non-empty collection name as is.
type Builder struct {
	Resolver SourceResolver
}

// Build compiles req. An unresolvable from or join source fails the whole
// build with ErrMissingSource; two sources sharing a key fail it with
// ErrInvalidParameter.
func (b Builder) Build(req Request) (*QueryPlan, error) {
	from, err := b.resolve(req.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}

	c := NewCompiler()
	plan := &QueryPlan{Source: from}
	scope := Scope{DefaultCommand: CmdProperty, DefaultSource: from.Alias}

	keys := map[string]bool{from.Key(): true}
	for _, jc := range req.Joins {
		src, err := b.resolve(jc.Source)
		if err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
		// Every source needs its own SQL alias; self-joins must be aliased.
		if keys[src.Key()] {
			return nil, fmt.Errorf("join: %w", invalidParam("duplicate source alias %q", src.Key()))
		}
		keys[src.Key()] = true
		plan.Joins = append(plan.Joins, Join{Source: src, On: c.Where(jc.On, src.Key())})
	}

	if len(req.Select) == 0 {
		plan.Projection = Projection{All: true}
	} else {
		for _, col := range req.Select {
			expr, alias, _ := ParseAlias(col)
			plan.Projection.Columns = append(plan.Projection.Columns, Column{
				Expr:  c.Expression(expr, scope),
				Alias: alias,
			})
		}
	}

	plan.Filter = c.Where(req.Where, from.Alias)

	for _, g := range req.GroupBy {
		plan.GroupBy = append(plan.GroupBy, c.Expression(g, scope))
	}
	for _, o := range req.OrderBy {
		plan.OrderBy = append(plan.OrderBy, c.ordering(o, scope))
	}

	if req.Limit > 0 {
		plan.Window = &Window{Limit: req.Limit, Offset: max(req.Offset, 0)}
	}

	plan.Warnings = c.Warnings()
	return plan, nil
}

// resolve turns "collection", "collection AS alias" or "collection=alias"
// into a Source.
func (b Builder) resolve(spec string) (Source, error) {
	expr, alias, _ := ParseAlias(spec)
	name := strings.TrimSpace(expr)

	var (
		src Source
		ok  bool
	)
	if b.Resolver != nil {
		src, ok = b.Resolver.ResolveSource(name)
	} else {
		src, ok = Source{Collection: name}, name != ""
	}
	if !ok {
		if name == "" {
			return Source{}, fmt.Errorf("%w: no default collection", ErrMissingSource)
		}
		return Source{}, fmt.Errorf("%w: %q", ErrMissingSource, name)
	}
	if alias != "" {
		src.Alias = alias
	}
	return src, nil
}

// ordering parses "expr>DESC". Only DESC and DESCENDING sort descending.
func (c *Compiler) ordering(raw string, scope Scope) Ordering {
	direction, expr, found := SplitFirst(raw, '>')
	if !found {
		return Ordering{Expr: c.Expression(raw, scope), Ascending: true}
	}
	desc := strings.EqualFold(direction, "DESC") || strings.EqualFold(direction, "DESCENDING")
	return Ordering{Expr: c.Expression(expr, scope), Ascending: !desc}
}

// Shape post-processes rows returned for this plan. Wildcard rows carry one
// nested map per source; the from source's map becomes the row. Explicit
// projections are returned unchanged.
func (p *QueryPlan) Shape(rows []map[string]any) []map[string]any {
	if !p.Projection.All {
		return rows
	}
	key := p.Source.Key()
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		doc, ok := row[key].(map[string]any)
		if !ok {
			doc = map[string]any{}
		}
		out[i] = doc
	}
	return out
}

// Describe renders the plan as a generic tree for diagnostics.
func (p *QueryPlan) Describe() map[string]any {
	out := map[string]any{
		"source": p.Source.String(),
		"where":  p.Filter.String(),
	}

	if p.Projection.All {
		out["select"] = "*"
	} else {
		cols := make([]any, len(p.Projection.Columns))
		for i, col := range p.Projection.Columns {
			cols[i] = fmt.Sprintf("%s AS %s", col.Expr, col.Name(i+1))
		}
		out["select"] = cols
	}

	if len(p.Joins) > 0 {
		joins := make([]any, len(p.Joins))
		for i, j := range p.Joins {
			joins[i] = map[string]any{"source": j.Source.String(), "on": j.On.String()}
		}
		out["joins"] = joins
	}
	if len(p.GroupBy) > 0 {
		groups := make([]any, len(p.GroupBy))
		for i, g := range p.GroupBy {
			groups[i] = g.String()
		}
		out["groupBy"] = groups
	}
	if len(p.OrderBy) > 0 {
		orders := make([]any, len(p.OrderBy))
		for i, o := range p.OrderBy {
			dir := "ASC"
			if !o.Ascending {
				dir = "DESC"
			}
			orders[i] = o.Expr.String() + " " + dir
		}
		out["orderBy"] = orders
	}
	if p.Window != nil {
		out["limit"] = float64(p.Window.Limit)
		out["offset"] = float64(p.Window.Offset)
	}
	if len(p.Warnings) > 0 {
		warnings := make([]any, len(p.Warnings))
		for i, w := range p.Warnings {
			warnings[i] = w.String()
		}
		out["warnings"] = warnings
	}
	return out
}
