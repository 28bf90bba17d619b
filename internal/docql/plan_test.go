package docql

import (
	"errors"
	"reflect"
	"testing"
)

var testSources = SourceFunc(func(name string) (Source, bool) {
	switch name {
	case "":
		return Source{Collection: "people"}, true
	case "people", "orders", "pets":
		return Source{Collection: name}, true
	}
	return Source{}, false
})

func mustBuild(t *testing.T, m map[string]any) *QueryPlan {
	t.Helper()
	req, err := DecodeRequest(m)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	plan, err := Builder{Resolver: testSources}.Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return plan
}

func TestBuildDefaultSource(t *testing.T) {
	plan := mustBuild(t, map[string]any{})
	if plan.Source != (Source{Collection: "people"}) {
		t.Fatalf("source = %+v", plan.Source)
	}
	if !plan.Projection.All {
		t.Fatal("expected wildcard projection")
	}
	if !IsTautology(plan.Filter) {
		t.Fatalf("expected tautology, got %s", plan.Filter)
	}
	if plan.Window != nil {
		t.Fatalf("expected no window, got %+v", plan.Window)
	}
}

func TestBuildFromAlias(t *testing.T) {
	plan := mustBuild(t, map[string]any{
		"from":  "people AS p",
		"where": []any{map[string]any{"age": "GT(30)"}},
	})
	if plan.Source != (Source{Collection: "people", Alias: "p"}) {
		t.Fatalf("source = %+v", plan.Source)
	}
	if got := plan.Filter.String(); got != "GT(prop(p*age), 30.0)" {
		t.Fatalf("filter = %s", got)
	}
}

func TestBuildSelect(t *testing.T) {
	plan := mustBuild(t, map[string]any{
		"select": []any{"name", "age AS years", "COUNT:id", "META:sequence"},
	})
	if plan.Projection.All {
		t.Fatal("expected explicit projection")
	}
	cols := plan.Projection.Columns
	if len(cols) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(cols))
	}
	var names, exprs []string
	for i, c := range cols {
		names = append(names, c.Name(i+1))
		exprs = append(exprs, c.Expr.String())
	}
	if want := []string{"name", "years", "$3", "sequence"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if want := []string{"prop(name)", "prop(age)", "COUNT(meta(id))", "meta(sequence)"}; !reflect.DeepEqual(exprs, want) {
		t.Fatalf("exprs = %v, want %v", exprs, want)
	}
}

func TestBuildJoins(t *testing.T) {
	plan := mustBuild(t, map[string]any{
		"from": "people AS p",
		"join": map[string]any{
			"pets AS x":   []any{map[string]any{"owner": "PROP:p*name"}},
			"orders AS o": map[string]any{"buyer": "PROP:p*id"},
		},
	})
	if len(plan.Joins) != 2 {
		t.Fatalf("expected 2 joins, got %d", len(plan.Joins))
	}
	// Join keys are visited in sorted order.
	if plan.Joins[0].Source != (Source{Collection: "orders", Alias: "o"}) {
		t.Fatalf("join[0] = %+v", plan.Joins[0].Source)
	}
	if got := plan.Joins[0].On.String(); got != "EQ(prop(o*buyer), meta(p*id))" {
		t.Fatalf("join[0].on = %s", got)
	}
	if got := plan.Joins[1].On.String(); got != "EQ(prop(x*owner), prop(p*name))" {
		t.Fatalf("join[1].on = %s", got)
	}
}

func TestBuildUnresolvableSource(t *testing.T) {
	for name, m := range map[string]map[string]any{
		"from": {"from": "ghosts"},
		"join": {"join": map[string]any{"ghosts": []any{}}},
	} {
		t.Run(name, func(t *testing.T) {
			req, err := DecodeRequest(m)
			if err != nil {
				t.Fatal(err)
			}
			plan, err := Builder{Resolver: testSources}.Build(req)
			if plan != nil {
				t.Fatal("expected no partial plan")
			}
			if !errors.Is(err, ErrMissingSource) || !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected missing source, got %v", err)
			}
		})
	}
}

func TestBuildDuplicateSourceKey(t *testing.T) {
	for name, m := range map[string]map[string]any{
		"self join":    {"from": "people", "join": map[string]any{"people": map[string]any{"id": "PROP:people*friend"}}},
		"shared alias": {"from": "people", "join": map[string]any{"pets AS x": []any{}, "orders=x": []any{}}},
		"from alias":   {"from": "people AS p", "join": map[string]any{"pets AS p": []any{}}},
	} {
		t.Run(name, func(t *testing.T) {
			req, err := DecodeRequest(m)
			if err != nil {
				t.Fatal(err)
			}
			plan, err := Builder{Resolver: testSources}.Build(req)
			if plan != nil {
				t.Fatal("expected no partial plan")
			}
			if !errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrMissingSource) {
				t.Fatalf("expected invalid parameter, got %v", err)
			}
		})
	}

	plan := mustBuild(t, map[string]any{
		"from": "people",
		"join": map[string]any{"people AS friend": map[string]any{"id": "PROP:people*friend"}},
	})
	if len(plan.Joins) != 1 || plan.Joins[0].Source.Key() != "friend" {
		t.Fatalf("aliased self join = %+v", plan.Joins)
	}
}

func TestBuildWithoutResolver(t *testing.T) {
	plan, err := Builder{}.Build(Request{From: "things=t"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Source.Key() != "t" || plan.Source.Collection != "things" {
		t.Fatalf("source = %+v", plan.Source)
	}
	if _, err := (Builder{}).Build(Request{}); !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected missing source, got %v", err)
	}
}

func TestBuildOrderingAndGrouping(t *testing.T) {
	plan := mustBuild(t, map[string]any{
		"groupBy": []any{"city"},
		"orderBy": []any{"age>DESC", "name", "score>descending", "city>up"},
	})
	if len(plan.GroupBy) != 1 || plan.GroupBy[0].String() != "prop(city)" {
		t.Fatalf("groupBy = %v", plan.GroupBy)
	}
	want := []struct {
		expr string
		asc  bool
	}{
		{"prop(age)", false},
		{"prop(name)", true},
		{"prop(score)", false},
		{"prop(city)", true},
	}
	if len(plan.OrderBy) != len(want) {
		t.Fatalf("orderBy = %v", plan.OrderBy)
	}
	for i, w := range want {
		got := plan.OrderBy[i]
		if got.Expr.String() != w.expr || got.Ascending != w.asc {
			t.Errorf("orderBy[%d] = (%s, %v), want (%s, %v)", i, got.Expr, got.Ascending, w.expr, w.asc)
		}
	}
}

func TestBuildWindow(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]any
		want *Window
	}{
		{"bounded", map[string]any{"limit": 10.0, "offset": 5.0}, &Window{Limit: 10, Offset: 5}},
		{"zero limit", map[string]any{"limit": 0, "offset": 5}, nil},
		{"absent", map[string]any{"offset": 5}, nil},
		{"negative offset", map[string]any{"limit": 3, "offset": -2}, &Window{Limit: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := mustBuild(t, tt.m)
			if !reflect.DeepEqual(plan.Window, tt.want) {
				t.Fatalf("window = %+v, want %+v", plan.Window, tt.want)
			}
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	m := map[string]any{
		"from":   "people AS p",
		"select": []any{"name"},
		"where": []any{
			map[string]any{"b": "GT(1)", "a": "x", "c": "IN(1,2)"},
			map[string]any{"d": false},
		},
	}
	first := mustBuild(t, m)
	for range 20 {
		again := mustBuild(t, m)
		if again.Source != first.Source || again.Projection.All != first.Projection.All {
			t.Fatal("source or projection kind changed between builds")
		}
		if again.Filter.String() != first.Filter.String() {
			t.Fatalf("filter changed: %s vs %s", again.Filter, first.Filter)
		}
	}
}

func TestBuildCollectsWarnings(t *testing.T) {
	plan := mustBuild(t, map[string]any{
		"where": []any{map[string]any{"age": "GT(old)"}},
	})
	if len(plan.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", plan.Warnings)
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	for name, m := range map[string]map[string]any{
		"from":      {"from": 3},
		"select":    {"select": []any{"a", 1}},
		"where":     {"where": "age"},
		"join":      {"join": []any{}},
		"limit":     {"limit": "ten"},
		"fraction":  {"limit": 2.5},
		"where row": {"where": []any{"x"}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeRequest(m); !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected invalid parameter, got %v", err)
			}
		})
	}
}

func TestShape(t *testing.T) {
	rows := []map[string]any{
		{"p": map[string]any{"name": "Ann"}, "o": map[string]any{"total": 3.0}},
		{"p": nil},
	}

	plan := &QueryPlan{Source: Source{Collection: "people", Alias: "p"}, Projection: Projection{All: true}}
	got := plan.Shape(rows)
	want := []map[string]any{{"name": "Ann"}, {}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Shape = %v, want %v", got, want)
	}

	plan.Projection = Projection{Columns: []Column{{Expr: Property{Name: "name"}}}}
	if got := plan.Shape(rows); !reflect.DeepEqual(got, rows) {
		t.Fatalf("explicit projection rows should pass through, got %v", got)
	}
}
