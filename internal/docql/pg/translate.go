package pg

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/docql/internal/docql"
)

// Storage layout. Every document lives in one table keyed by collection.
const (
	Schema           = "docql"
	DocumentsTable   = `"docql"."documents"`
	CollectionsTable = `"docql"."collections"`
)

// QI quotes a SQL identifier.
func QI(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLit wraps s in single quotes for use as a SQL string literal.
func QuoteLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqIdent quotes name for text handed to squirrel, which reads a bare '?'
// as a placeholder and unescapes '??' back to '?'.
func sqIdent(name string) string {
	return sqEscape(QI(name))
}

func sqEscape(s string) string {
	return strings.ReplaceAll(s, "?", "??")
}

// frag is a SQL fragment with '?' placeholders and its arguments. Every
// expression fragment evaluates to jsonb.
type frag struct {
	sql  string
	args []any
}

func (f frag) Sqlizer() sq.Sqlizer { return sq.Expr(f.sql, f.args...) }

// wrap formats f into format, which must contain exactly one %s per fragment.
func wrap(format string, fs ...frag) frag {
	parts := make([]any, len(fs))
	var args []any
	for i, f := range fs {
		parts[i] = f.sql
		args = append(args, f.args...)
	}
	return frag{sql: fmt.Sprintf(format, parts...), args: args}
}

// Translator renders a QueryPlan as PostgreSQL. Params binds Parameter
// expressions by name; unbound parameters are JSON null.
type Translator struct {
	plan   *docql.QueryPlan
	params map[string]any
	keys   map[string]bool
}

// Translate converts plan into a SELECT statement with dollar placeholders.
func Translate(plan *docql.QueryPlan, params map[string]any) (string, []any, error) {
	qb, err := NewTranslator(plan, params).Select()
	if err != nil {
		return "", nil, err
	}
	return qb.ToSql()
}

func NewTranslator(plan *docql.QueryPlan, params map[string]any) *Translator {
	keys := map[string]bool{plan.Source.Key(): true}
	for _, j := range plan.Joins {
		keys[j.Source.Key()] = true
	}
	return &Translator{plan: plan, params: params, keys: keys}
}

// Select builds the statement as a squirrel builder so callers can wrap it.
func (t *Translator) Select() (sq.SelectBuilder, error) {
	plan := t.plan
	main := plan.Source.Key()

	qb := sq.Select().
		From(fmt.Sprintf(`%s %s`, DocumentsTable, sqIdent(main))).
		Where(sq.Eq{col(main, "collection"): plan.Source.Collection}).
		Where(fmt.Sprintf(`%s = false`, col(main, "deleted"))).
		PlaceholderFormat(sq.Dollar)

	for _, j := range plan.Joins {
		key := j.Source.Key()
		on, err := t.Condition(j.On)
		if err != nil {
			return qb, fmt.Errorf("join %s: %w", key, err)
		}
		onSQL, onArgs, err := on.ToSql()
		if err != nil {
			return qb, fmt.Errorf("join %s: %w", key, err)
		}
		args := append([]any{j.Source.Collection}, onArgs...)
		qb = qb.LeftJoin(fmt.Sprintf(`%s %s ON %s = ? AND %s = false AND (%s)`,
			DocumentsTable, sqIdent(key), col(key, "collection"), col(key, "deleted"), onSQL), args...)
	}

	if plan.Projection.All {
		qb = qb.Column(fmt.Sprintf(`%s AS %s`, col(main, "data"), sqIdent(main)))
		for _, j := range plan.Joins {
			key := j.Source.Key()
			qb = qb.Column(fmt.Sprintf(`%s AS %s`, col(key, "data"), sqIdent(key)))
		}
	} else {
		for i, c := range plan.Projection.Columns {
			f, err := t.expression(c.Expr)
			if err != nil {
				return qb, fmt.Errorf("select %s: %w", c.Expr, err)
			}
			qb = qb.Column(sq.Expr(f.sql+" AS "+sqIdent(c.Name(i+1)), f.args...))
		}
	}

	if plan.Filter != nil && !docql.IsTautology(plan.Filter) {
		where, err := t.Condition(plan.Filter)
		if err != nil {
			return qb, fmt.Errorf("where: %w", err)
		}
		qb = qb.Where(where)
	}

	for _, g := range plan.GroupBy {
		f, err := t.expression(g)
		if err != nil {
			return qb, fmt.Errorf("group by %s: %w", g, err)
		}
		if len(f.args) > 0 {
			return qb, fmt.Errorf("group by %s: expression must not carry bound values", g)
		}
		qb = qb.GroupBy(f.sql)
	}

	for _, o := range plan.OrderBy {
		f, err := t.expression(o.Expr)
		if err != nil {
			return qb, fmt.Errorf("order by %s: %w", o.Expr, err)
		}
		dir := "ASC"
		if !o.Ascending {
			dir = "DESC"
		}
		qb = qb.OrderByClause(f.sql+" "+dir, f.args...)
	}

	if w := plan.Window; w != nil {
		qb = qb.Limit(uint64(w.Limit))
		if w.Offset > 0 {
			qb = qb.Offset(uint64(w.Offset))
		}
	}

	return qb, nil
}

func col(alias, column string) string {
	return sqIdent(alias) + "." + sqIdent(column)
}

// source maps an expression's source alias to a FROM/JOIN alias. An empty
// source is the plan's main source.
func (t *Translator) source(name string) (string, error) {
	if name == "" {
		return t.plan.Source.Key(), nil
	}
	if !t.keys[name] {
		return "", fmt.Errorf("%w: unknown source %q", docql.ErrInvalidParameter, name)
	}
	return name, nil
}

// --- Expressions ---

var metaColumns = map[docql.MetaKind]string{
	docql.MetaID:         "id",
	docql.MetaExpiration: "expiration",
	docql.MetaRevisionID: "revision_id",
	docql.MetaSequence:   "sequence",
	docql.MetaIsDeleted:  "deleted",
}

// expression translates e into a jsonb-valued SQL fragment.
func (t *Translator) expression(e docql.Expression) (frag, error) {
	switch e := e.(type) {
	case docql.Property:
		alias, err := t.source(e.Source)
		if err != nil {
			return frag{}, err
		}
		return frag{sql: fmt.Sprintf(`(%s #> %s)`, col(alias, "data"), sqEscape(QuoteLit(textArray(strings.Split(e.Name, ".")))))}, nil

	case docql.Meta:
		alias, err := t.source(e.Source)
		if err != nil {
			return frag{}, err
		}
		return frag{sql: fmt.Sprintf(`to_jsonb(%s)`, col(alias, metaColumns[e.Kind]))}, nil

	case docql.Literal:
		return jsonArg(e.Value.V)

	case docql.Parameter:
		v, ok := t.params[e.Name]
		if !ok {
			return frag{sql: `'null'::jsonb`}, nil
		}
		return jsonArg(v)

	case docql.Wildcard:
		return frag{sql: col(t.plan.Source.Key(), "data")}, nil

	case docql.Arithmetic:
		left, err := t.expression(e.Left)
		if err != nil {
			return frag{}, err
		}
		return arithmetic(e.Op, left, e.Operand), nil

	case docql.FunctionCall:
		return t.function(e)

	default:
		return frag{}, fmt.Errorf("unsupported expression %T", e)
	}
}

func jsonArg(v any) (frag, error) {
	if v == nil {
		return frag{sql: `'null'::jsonb`}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return frag{}, fmt.Errorf("encode literal: %w", err)
	}
	return frag{sql: `?::jsonb`, args: []any{string(b)}}, nil
}

// textArray renders a Postgres text[] literal.
func textArray(elems []string) string {
	quoted := make([]string, len(elems))
	for i, e := range elems {
		e = strings.ReplaceAll(e, `\`, `\\`)
		e = strings.ReplaceAll(e, `"`, `\"`)
		quoted[i] = `"` + e + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func asText(f frag) frag    { return wrap(`(%s #>> '{}')`, f) }
func asNumeric(f frag) frag { return wrap(`(%s #>> '{}')::numeric`, f) }

var arithOps = map[docql.ArithOp]string{
	docql.OpAdd:      "+",
	docql.OpSubtract: "-",
	docql.OpMultiply: "*",
	docql.OpDivide:   "/",
}

func arithmetic(op docql.ArithOp, left frag, operand float64) frag {
	n := asNumeric(left)
	switch op {
	case docql.OpModulo:
		f := wrap(`to_jsonb(mod(%s, ?::numeric))`, n)
		f.args = append(f.args, operand)
		return f
	case docql.OpPower:
		f := wrap(`to_jsonb(power(%s, ?::numeric))`, n)
		f.args = append(f.args, operand)
		return f
	default:
		f := wrap(`to_jsonb(%s `+arithOps[op]+` ?::numeric)`, n)
		f.args = append(f.args, operand)
		return f
	}
}

// numericFuncs map to a Postgres function over a numeric argument.
var numericFuncs = map[string]string{
	"ABS": "abs", "CEIL": "ceil", "FLOOR": "floor", "SQRT": "sqrt",
	"SIN": "sin", "COS": "cos", "TAN": "tan", "ASIN": "asin", "ACOS": "acos", "ATAN": "atan",
	"LN": "ln", "LOG": "log", "EXP": "exp", "SIGN": "sign", "TRUNCATE": "trunc",
	"DEGREES": "degrees", "RADIANS": "radians",
	"SUM": "sum", "AVG": "avg", "MIN": "min", "MAX": "max",
}

// textFuncs map to a Postgres function over a text argument.
var textFuncs = map[string]string{
	"LOWER": "lower", "UPPER": "upper", "TRIM": "btrim", "LTRIM": "ltrim", "RTRIM": "rtrim",
	"LENGTH": "length",
}

const utcFormat = `'YYYY-MM-DD"T"HH24:MI:SS.MS"Z"'`

func (t *Translator) function(fc docql.FunctionCall) (frag, error) {
	switch fc.Name {
	case "PI":
		return frag{sql: `to_jsonb(pi())`}, nil
	case "E":
		return frag{sql: `to_jsonb(exp(1::numeric))`}, nil
	}

	if len(fc.Args) == 0 {
		return frag{}, fmt.Errorf("%s: missing argument", fc.Name)
	}
	if _, ok := fc.Args[0].(docql.Wildcard); ok && fc.Name == "COUNT" {
		return frag{sql: `to_jsonb(count(*))`}, nil
	}
	arg, err := t.expression(fc.Args[0])
	if err != nil {
		return frag{}, err
	}

	if fn, ok := numericFuncs[fc.Name]; ok {
		return wrap(`to_jsonb(`+fn+`(%s))`, asNumeric(arg)), nil
	}
	if fn, ok := textFuncs[fc.Name]; ok {
		return wrap(`to_jsonb(`+fn+`(%s))`, asText(arg)), nil
	}

	switch fc.Name {
	case "ROUND":
		if len(fc.Args) > 1 {
			digits, err := t.expression(fc.Args[1])
			if err != nil {
				return frag{}, err
			}
			return wrap(`to_jsonb(round(%s, %s::int))`, asNumeric(arg), asText(digits)), nil
		}
		return wrap(`to_jsonb(round(%s))`, asNumeric(arg)), nil
	case "COUNT":
		return wrap(`to_jsonb(count(%s))`, arg), nil
	case "ARRAY_LENGTH":
		return wrap(`to_jsonb(CASE WHEN jsonb_typeof(%s) = 'array' THEN jsonb_array_length(%s) END)`, arg, arg), nil
	case "NEGATED":
		return wrap(`to_jsonb(-%s)`, asNumeric(arg)), nil
	case "NOT":
		return wrap(`to_jsonb(NOT %s::boolean)`, asText(arg)), nil
	case "STRINGTOMILLIS":
		return wrap(`to_jsonb((extract(epoch FROM %s::timestamptz) * 1000)::bigint)`, asText(arg)), nil
	case "STRINGTOUTC":
		return wrap(`to_jsonb(to_char(%s::timestamptz AT TIME ZONE 'UTC', `+utcFormat+`))`, asText(arg)), nil
	case "MILLISTOSTRING":
		return wrap(`to_jsonb(to_timestamp(%s / 1000)::text)`, asNumeric(arg)), nil
	case "MILLISTOUTC":
		return wrap(`to_jsonb(to_char(to_timestamp(%s / 1000) AT TIME ZONE 'UTC', `+utcFormat+`))`, asNumeric(arg)), nil
	}
	return frag{}, fmt.Errorf("unsupported function %s", fc.Name)
}

// --- Conditions ---

var compareOps = map[docql.Comparator]string{
	docql.CmpEqualTo:        "=",
	docql.CmpNotEqualTo:     "<>",
	docql.CmpGreaterThan:    ">",
	docql.CmpGreaterOrEqual: ">=",
	docql.CmpLessThan:       "<",
	docql.CmpLessOrEqual:    "<=",
	docql.CmpIs:             "IS NOT DISTINCT FROM",
	docql.CmpIsNot:          "IS DISTINCT FROM",
}

// Condition translates c into a squirrel predicate.
func (t *Translator) Condition(c docql.Condition) (sq.Sqlizer, error) {
	switch c := c.(type) {
	case docql.Boolean:
		children := make([]sq.Sqlizer, len(c.Children))
		for i, ch := range c.Children {
			s, err := t.Condition(ch)
			if err != nil {
				return nil, err
			}
			children[i] = s
		}
		if c.Op == docql.Or {
			return sq.Or(children), nil
		}
		return sq.And(children), nil

	case docql.Compare:
		return t.compare(c)

	default:
		return nil, fmt.Errorf("unsupported condition %T", c)
	}
}

func (t *Translator) compare(c docql.Compare) (sq.Sqlizer, error) {
	if docql.IsTautology(c) {
		return sq.Expr("TRUE"), nil
	}

	left, err := t.expression(c.Left)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case docql.CmpIsNullOrMissing:
		return wrap(`(%s IS NULL OR %s = 'null'::jsonb)`, left, left).Sqlizer(), nil
	case docql.CmpNotNullOrMissing:
		return wrap(`(%s IS NOT NULL AND %s <> 'null'::jsonb)`, left, left).Sqlizer(), nil
	case docql.CmpIn:
		if len(c.Values) == 0 {
			return sq.Expr("FALSE"), nil
		}
		values := make([]frag, len(c.Values))
		for i, v := range c.Values {
			if values[i], err = t.expression(v); err != nil {
				return nil, err
			}
		}
		placeholders := strings.TrimSuffix(strings.Repeat("%s, ", len(values)), ", ")
		return wrap(`%s IN (`+placeholders+`)`, append([]frag{left}, values...)...).Sqlizer(), nil
	}

	if c.Right == nil {
		return nil, fmt.Errorf("%s: missing right operand", c.Op)
	}
	right, err := t.expression(c.Right)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case docql.CmpLike:
		return wrap(`%s LIKE %s`, asText(left), asText(right)).Sqlizer(), nil
	case docql.CmpRegex:
		return wrap(`%s ~ %s`, asText(left), asText(right)).Sqlizer(), nil
	case docql.CmpContains:
		return wrap(`strpos(%s, %s) > 0`, asText(left), asText(right)).Sqlizer(), nil
	case docql.CmpArrayContains:
		return wrap(`%s @> jsonb_build_array(%s)`, left, right).Sqlizer(), nil
	}

	op, ok := compareOps[c.Op]
	if !ok {
		return nil, fmt.Errorf("unsupported comparator %s", c.Op)
	}
	return wrap(`%s `+op+` %s`, left, right).Sqlizer(), nil
}
