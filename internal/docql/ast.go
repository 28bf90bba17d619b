package docql

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression is a compiled, immutable computation node.
type Expression interface {
	expression() // marker method
	String() string
}

// MetaKind selects a document metadata field.
type MetaKind string

const (
	MetaID         MetaKind = "id"
	MetaExpiration MetaKind = "expiration"
	MetaRevisionID MetaKind = "revisionID"
	MetaSequence   MetaKind = "sequence"
	MetaIsDeleted  MetaKind = "isDeleted"
)

// ArithOp is a binary arithmetic operator with a constant right operand.
type ArithOp string

const (
	OpAdd      ArithOp = "add"
	OpSubtract ArithOp = "subtract"
	OpMultiply ArithOp = "multiply"
	OpDivide   ArithOp = "divide"
	OpModulo   ArithOp = "modulo"
	OpPower    ArithOp = "power"
)

// Property reads a document field. Source "" binds to the request's implicit source.
type Property struct {
	Name   string
	Source string
}

// Meta reads document metadata.
type Meta struct {
	Kind   MetaKind
	Source string
}

// Literal is a constant value.
type Literal struct {
	Value Value
}

// Parameter is a named placeholder bound at execution time.
type Parameter struct {
	Name string
}

// FunctionCall applies a named function (ABS, LOWER, COUNT, NOT, ...) to its args.
type FunctionCall struct {
	Name string
	Args []Expression
}

// Arithmetic applies Op to Left and a constant operand.
type Arithmetic struct {
	Op      ArithOp
	Left    Expression
	Operand float64
}

// Wildcard selects everything (SELECT *, or the tautology * = *).
type Wildcard struct{}

func (Property) expression()     {}
func (Meta) expression()         {}
func (Literal) expression()      {}
func (Parameter) expression()    {}
func (FunctionCall) expression() {}
func (Arithmetic) expression()   {}
func (Wildcard) expression()     {}

func (p Property) String() string {
	if p.Source != "" {
		return fmt.Sprintf("prop(%s*%s)", p.Source, p.Name)
	}
	return fmt.Sprintf("prop(%s)", p.Name)
}

func (m Meta) String() string {
	if m.Source != "" {
		return fmt.Sprintf("meta(%s*%s)", m.Source, m.Kind)
	}
	return fmt.Sprintf("meta(%s)", m.Kind)
}

func (l Literal) String() string { return l.Value.String() }

func (p Parameter) String() string { return "$" + p.Name }

func (f FunctionCall) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

func (a Arithmetic) String() string {
	return fmt.Sprintf("%s(%s, %s)", strings.ToUpper(string(a.Op)), a.Left, strconv.FormatFloat(a.Operand, 'f', -1, 64))
}

func (Wildcard) String() string { return "*" }

// --- Conditions ---

// Comparator is a comparison operator of a Compare condition.
type Comparator string

const (
	CmpEqualTo          Comparator = "EQ"
	CmpNotEqualTo       Comparator = "NE"
	CmpGreaterThan      Comparator = "GT"
	CmpGreaterOrEqual   Comparator = "GTE"
	CmpLessThan         Comparator = "LT"
	CmpLessOrEqual      Comparator = "LTE"
	CmpIn               Comparator = "IN"
	CmpIs               Comparator = "IS"
	CmpIsNot            Comparator = "ISNOT"
	CmpIsNullOrMissing  Comparator = "ISNULL"
	CmpNotNullOrMissing Comparator = "NOTNULL"
	CmpLike             Comparator = "LIKE"
	CmpRegex            Comparator = "REGEX"
	CmpContains         Comparator = "CONTAINS"
	CmpArrayContains    Comparator = "ARRAY_CONTAINS"
)

// Unary reports whether the comparator takes no right operand.
func (c Comparator) Unary() bool {
	return c == CmpIsNullOrMissing || c == CmpNotNullOrMissing
}

// BoolOp combines child conditions.
type BoolOp string

const (
	And BoolOp = "AND"
	Or  BoolOp = "OR"
)

// Condition is a compiled boolean node.
type Condition interface {
	condition() // marker method
	String() string
}

// Compare applies Op to Left and Right. Right is nil for unary comparators;
// IN carries its candidates in Values.
type Compare struct {
	Op     Comparator
	Left   Expression
	Right  Expression
	Values []Expression
}

// Boolean is an AND/OR over Children.
type Boolean struct {
	Op       BoolOp
	Children []Condition
}

func (Compare) condition() {}
func (Boolean) condition() {}

func (c Compare) String() string {
	switch {
	case c.Op == CmpIn:
		vals := make([]string, len(c.Values))
		for i, v := range c.Values {
			vals[i] = v.String()
		}
		return fmt.Sprintf("IN(%s, [%s])", c.Left, strings.Join(vals, ", "))
	case c.Right == nil:
		return fmt.Sprintf("%s(%s)", c.Op, c.Left)
	default:
		return fmt.Sprintf("%s(%s, %s)", c.Op, c.Left, c.Right)
	}
}

func (b Boolean) String() string {
	parts := make([]string, len(b.Children))
	for i, ch := range b.Children {
		parts[i] = ch.String()
	}
	return fmt.Sprintf("%s(%s)", b.Op, strings.Join(parts, ", "))
}

// Tautology is the always-true condition * = *.
func Tautology() Condition {
	return Compare{Op: CmpEqualTo, Left: Wildcard{}, Right: Wildcard{}}
}

// IsTautology reports whether c is the * = * condition.
func IsTautology(c Condition) bool {
	cmp, ok := c.(Compare)
	if !ok || cmp.Op != CmpEqualTo {
		return false
	}
	_, l := cmp.Left.(Wildcard)
	_, r := cmp.Right.(Wildcard)
	return l && r
}

func combine(op BoolOp, conds []Condition) Condition {
	switch len(conds) {
	case 0:
		return Tautology()
	case 1:
		return conds[0]
	default:
		return Boolean{Op: op, Children: conds}
	}
}
