package docql

import (
	"sort"
	"strings"
)

// comparators maps every accepted comparator spelling to its Comparator.
var comparators = map[string]Comparator{
	"CONTAINS[]":       CmpArrayContains,
	"ARRAY_CONTAINS":   CmpArrayContains,
	"CONTAINS":         CmpContains,
	"EQUALTO":          CmpEqualTo,
	"GT":               CmpGreaterThan,
	">":                CmpGreaterThan,
	"GTE":              CmpGreaterOrEqual,
	">=":               CmpGreaterOrEqual,
	"LT":               CmpLessThan,
	"<":                CmpLessThan,
	"LTE":              CmpLessOrEqual,
	"<=":               CmpLessOrEqual,
	"IN":               CmpIn,
	"IS":               CmpIs,
	"ISNOT":            CmpIsNot,
	"!IS":              CmpIsNot,
	"ISNULL":           CmpIsNullOrMissing,
	"ISNULLORMISSING":  CmpIsNullOrMissing,
	"NOTNULL":          CmpNotNullOrMissing,
	"NOTNULLORMISSING": CmpNotNullOrMissing,
	"!ISNULL":          CmpNotNullOrMissing,
	"LIKE":             CmpLike,
	"NOTEQUALTO":       CmpNotEqualTo,
	"!":                CmpNotEqualTo,
	"REGEX":            CmpRegex,
}

// LookupComparator resolves a comparator name case-insensitively.
func LookupComparator(name string) (Comparator, bool) {
	cmp, ok := comparators[strings.ToUpper(name)]
	return cmp, ok
}

// Where compiles a where clause: pairs inside one map are AND'd, maps are
// OR'd. Map keys are visited in sorted order so output is reproducible.
// An empty clause compiles to the * = * tautology.
func (c *Compiler) Where(clause []map[string]any, source string) Condition {
	ors := make([]Condition, 0, len(clause))
	for _, spec := range clause {
		ors = append(ors, c.And(spec, source))
	}
	return combine(Or, ors)
}

// And compiles one field -> value map into an AND of comparisons.
func (c *Compiler) And(spec map[string]any, source string) Condition {
	keys := sortedKeys(spec)
	ands := make([]Condition, 0, len(keys))
	for _, field := range keys {
		ands = append(ands, c.Condition(field, spec[field], source))
	}
	return combine(And, ands)
}

// Condition compiles one field -> value pair. Non-string values compare for
// equality against their classified literal; strings may carry a comparator
// such as "GT(30)".
func (c *Compiler) Condition(field string, raw any, source string) Condition {
	left := c.Expression(field, Scope{DefaultCommand: CmdProperty, DefaultSource: source})

	text, isText := raw.(string)
	if !isText {
		return Compare{Op: CmpEqualTo, Left: left, Right: Literal{Value: Classify(raw)}}
	}

	scope := Scope{DefaultCommand: CmdString, DefaultSource: source}
	operand, name, found := ParseComparator(text)
	if !found {
		return Compare{Op: CmpEqualTo, Left: left, Right: c.Expression(text, scope)}
	}
	cmp, ok := LookupComparator(name)
	if !ok {
		c.warn(text, "unrecognized comparator %q, compared for equality", name)
		return Compare{Op: CmpEqualTo, Left: left, Right: c.Expression(text, scope)}
	}
	if !cmp.Unary() && operand == "" {
		c.warn(text, "comparator %q without operand, compared for equality", name)
		return Compare{Op: CmpEqualTo, Left: left, Right: c.Expression(text, scope)}
	}

	switch cmp {
	case CmpIsNullOrMissing, CmpNotNullOrMissing:
		return Compare{Op: cmp, Left: left}
	case CmpGreaterThan, CmpGreaterOrEqual, CmpLessThan, CmpLessOrEqual:
		return Compare{Op: cmp, Left: left, Right: c.Expression(operand, scope.with(CmdDouble))}
	case CmpIn:
		items := strings.Split(operand, ",")
		values := make([]Expression, 0, len(items))
		for _, item := range items {
			if item == "" {
				continue
			}
			values = append(values, c.Expression(item, scope.with(CmdInt64)))
		}
		return Compare{Op: CmpIn, Left: left, Values: values}
	default:
		return Compare{Op: cmp, Left: left, Right: c.Expression(operand, scope)}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
