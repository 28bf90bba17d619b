package pg

import (
	"errors"
	"strings"
	"testing"

	"github.com/atlekbai/docql/internal/docql"
)

func buildPlan(t *testing.T, m map[string]any) *docql.QueryPlan {
	t.Helper()
	req, err := docql.DecodeRequest(m)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	plan, err := docql.Builder{}.Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return plan
}

func translate(t *testing.T, m map[string]any, params map[string]any) (string, []any) {
	t.Helper()
	sql, args, err := Translate(buildPlan(t, m), params)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	return sql, args
}

func assertContains(t *testing.T, sql string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(sql, p) {
			t.Errorf("expected SQL to contain %q\n  got: %s", p, sql)
		}
	}
}

func TestTranslateWildcard(t *testing.T) {
	sql, args := translate(t, map[string]any{"from": "people"}, nil)
	assertContains(t, sql,
		`SELECT "people"."data" AS "people"`,
		`FROM "docql"."documents" "people"`,
		`"people"."collection" = $1`,
		`"people"."deleted" = false`,
	)
	if strings.Contains(sql, "TRUE") {
		t.Errorf("tautology should not produce a WHERE term: %s", sql)
	}
	if len(args) != 1 || args[0] != "people" {
		t.Fatalf("args = %v", args)
	}
}

func TestTranslateWhere(t *testing.T) {
	sql, args := translate(t, map[string]any{
		"from":  "people AS p",
		"where": []any{map[string]any{"age": "GT(30)"}, map[string]any{"status": "active"}},
	}, nil)
	assertContains(t, sql,
		`FROM "docql"."documents" "p"`,
		`("p"."data" #> '{"age"}') > $2::jsonb`,
		`("p"."data" #> '{"status"}') = $3::jsonb`,
		` OR `,
	)
	if len(args) != 3 || args[1] != "30" || args[2] != `"active"` {
		t.Fatalf("args = %v", args)
	}
}

func TestTranslateNestedPath(t *testing.T) {
	sql, _ := translate(t, map[string]any{
		"from":  "people",
		"where": []any{map[string]any{"address.city": "Oslo"}},
	}, nil)
	assertContains(t, sql, `("people"."data" #> '{"address","city"}')`)
}

func TestTranslateComparators(t *testing.T) {
	tests := []struct {
		raw  any
		want string
	}{
		{"ISNULL()", `("people"."data" #> '{"x"}') IS NULL OR ("people"."data" #> '{"x"}') = 'null'::jsonb`},
		{"NOTNULL()", `IS NOT NULL AND`},
		{"IN(1,2)", `("people"."data" #> '{"x"}') IN ($2::jsonb, $3::jsonb)`},
		{"LIKE(a%)", `(("people"."data" #> '{"x"}') #>> '{}') LIKE ($2::jsonb #>> '{}')`},
		{"REGEX(^a)", `#>> '{}') ~ (`},
		{"CONTAINS(a)", `strpos((("people"."data" #> '{"x"}') #>> '{}'), ($2::jsonb #>> '{}')) > 0`},
		{"CONTAINS[](a)", `("people"."data" #> '{"x"}') @> jsonb_build_array($2::jsonb)`},
		{"IS(a)", `IS NOT DISTINCT FROM $2::jsonb`},
		{"ISNOT(a)", `IS DISTINCT FROM $2::jsonb`},
		{"!(a)", `<> $2::jsonb`},
		{"LTE(3)", `<= $2::jsonb`},
	}
	for _, tt := range tests {
		sql, _ := translate(t, map[string]any{
			"from":  "people",
			"where": []any{map[string]any{"x": tt.raw}},
		}, nil)
		assertContains(t, sql, tt.want)
	}
}

func TestTranslateQuestionMarkNames(t *testing.T) {
	sql, args := translate(t, map[string]any{
		"from":   "people AS p?",
		"select": []any{"isActive?", "name AS ok?"},
		"where":  []any{map[string]any{"name": "x"}},
	}, nil)
	assertContains(t, sql,
		`SELECT ("p?"."data" #> '{"isActive?"}') AS "isActive?", ("p?"."data" #> '{"name"}') AS "ok?"`,
		`FROM "docql"."documents" "p?"`,
		`"p?"."collection" = $1`,
		`("p?"."data" #> '{"name"}') = $2::jsonb`,
	)
	if strings.Contains(sql, "$3") {
		t.Fatalf("identifier text became a placeholder: %s", sql)
	}
	if len(args) != 2 || args[0] != "people" || args[1] != `"x"` {
		t.Fatalf("args = %v", args)
	}
}

func TestTranslateMetaAndFunctions(t *testing.T) {
	sql, args := translate(t, map[string]any{
		"from":   "people",
		"select": []any{"id", "UPPER:name AS shout", "ADD/5:age", "ROUND/2:score", "COUNT:ALL:"},
	}, nil)
	assertContains(t, sql,
		`to_jsonb("people"."id") AS "id"`,
		`to_jsonb(upper((("people"."data" #> '{"name"}') #>> '{}'))) AS "shout"`,
		`to_jsonb((("people"."data" #> '{"age"}') #>> '{}')::numeric + $1::numeric) AS "$3"`,
		`to_jsonb(round((("people"."data" #> '{"score"}') #>> '{}')::numeric, ($2::jsonb #>> '{}')::int)) AS "$4"`,
		`to_jsonb(count(*)) AS "$5"`,
	)
	if len(args) != 3 || args[0] != 5.0 || args[1] != "2" || args[2] != "people" {
		t.Fatalf("args = %v", args)
	}
}

func TestTranslateJoin(t *testing.T) {
	sql, args := translate(t, map[string]any{
		"from": "people AS p",
		"join": map[string]any{"pets AS x": map[string]any{"owner": "PROP:p*name"}},
	}, nil)
	assertContains(t, sql,
		`SELECT "p"."data" AS "p", "x"."data" AS "x"`,
		`LEFT JOIN "docql"."documents" "x" ON "x"."collection" = $1 AND "x"."deleted" = false AND (("x"."data" #> '{"owner"}') = ("p"."data" #> '{"name"}'))`,
		`WHERE "p"."collection" = $2`,
	)
	if len(args) != 2 || args[0] != "pets" || args[1] != "people" {
		t.Fatalf("args = %v", args)
	}
}

func TestTranslateGroupOrderWindow(t *testing.T) {
	sql, _ := translate(t, map[string]any{
		"from":    "people",
		"select":  []any{"city", "COUNT:id AS n"},
		"groupBy": []any{"city"},
		"orderBy": []any{"city>DESC", "META:sequence"},
		"limit":   10,
		"offset":  5,
	}, nil)
	assertContains(t, sql,
		`GROUP BY ("people"."data" #> '{"city"}')`,
		`ORDER BY ("people"."data" #> '{"city"}') DESC, to_jsonb("people"."sequence") ASC`,
		`LIMIT 10 OFFSET 5`,
	)

	sql, _ = translate(t, map[string]any{"from": "people", "limit": 0}, nil)
	if strings.Contains(sql, "LIMIT") {
		t.Fatalf("zero limit should not bound the query: %s", sql)
	}
}

func TestTranslateParameters(t *testing.T) {
	sql, args := translate(t, map[string]any{
		"from":  "people",
		"where": []any{map[string]any{"age": "GT(PARAMETER:min)", "name": "PARAMETER:who"}},
	}, map[string]any{"min": 18})
	assertContains(t, sql, `> $2::jsonb`, `= 'null'::jsonb`)
	if len(args) != 2 || args[1] != "18" {
		t.Fatalf("args = %v", args)
	}
}

func TestTranslateUnknownSource(t *testing.T) {
	plan := buildPlan(t, map[string]any{
		"from":  "people AS p",
		"where": []any{map[string]any{"age": "GT(PROP:q*age)"}},
	})
	_, _, err := Translate(plan, nil)
	if !errors.Is(err, docql.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

func TestIndexDDL(t *testing.T) {
	ddl := IndexDDL(docql.IndexSpec{Collection: "pets", Fields: []string{"type", "owner.name"}, Name: "typeowner.nameValueIndex"})
	want := `CREATE INDEX IF NOT EXISTS "pets_typeowner.nameValueIndex" ON "docql"."documents" ((data #> '{"type"}'), (data #> '{"owner","name"}')) WHERE collection = 'pets'`
	if ddl != want {
		t.Fatalf("got  %s\nwant %s", ddl, want)
	}
}

func TestParsePlanRows(t *testing.T) {
	if got := parsePlanRows(`[{"Plan": {"Plan Rows": 42}}]`); got != 42 {
		t.Fatalf("got %d", got)
	}
	if got := parsePlanRows(`nope`); got != 0 {
		t.Fatalf("got %d", got)
	}
}
