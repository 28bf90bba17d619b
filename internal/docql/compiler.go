package docql

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Default commands used when a raw string carries no explicit command.
const (
	CmdString   = "STRING"
	CmdProperty = "PROPERTY"
	CmdDouble   = "DOUBLE"
	CmdInt64    = "INT64"
)

// Scope is the context threaded through every recursive compile call: the
// command applied when none is given and the source alias properties bind to.
type Scope struct {
	DefaultCommand string
	DefaultSource  string
}

// with returns a copy of s using cmd as the default command.
func (s Scope) with(cmd string) Scope {
	s.DefaultCommand = cmd
	return s
}

// command is one parsed "NAME/arg:operand" token.
type command struct {
	Name    string   // upper-cased command name
	Args    []string // "/"-separated arguments after the name
	Operand string   // text after the first ':'
	Raw     string   // full input
}

func (cmd command) arg(i int) (string, bool) {
	if i >= len(cmd.Args) || cmd.Args[i] == "" {
		return "", false
	}
	return cmd.Args[i], true
}

// CommandFunc compiles one command.
type CommandFunc func(c *Compiler, cmd command, scope Scope) Expression

// Commands maps upper-cased command names to their compilers. It is populated
// in init and only read afterwards.
var Commands map[string]CommandFunc

// valueCommands may serve as a default command: they interpret the operand
// directly and never recurse into it.
var valueCommands = map[string]bool{
	"STRING": true, "INTEGER": true, "INT": true, "INTEGER64": true, "INT64": true,
	"DOUBLE": true, "FLOAT": true, "BOOLEAN": true, "BOOL": true,
	"ARRAY": true, "JSON": true, "DICTIONARY": true,
	"PARAMETER": true, "PARAM": true,
	"PROPERTY": true, "PROP": true, "META": true,
}

// Compiler turns raw request strings into Expressions and Conditions. It
// collects warnings for input that was accepted leniently. A Compiler is not
// safe for concurrent use; create one per request.
type Compiler struct {
	warnings []Warning
}

// NewCompiler creates a compiler with an empty warning list.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Warnings returns the diagnostics collected so far.
func (c *Compiler) Warnings() []Warning {
	return c.warnings
}

func (c *Compiler) warn(input, format string, args ...any) {
	c.warnings = append(c.warnings, Warning{Input: input, Message: fmt.Sprintf(format, args...)})
}

// CompileExpression compiles raw with a throwaway compiler.
func CompileExpression(raw, defaultCommand, defaultSource string) (Expression, []Warning) {
	c := NewCompiler()
	expr := c.Expression(raw, Scope{DefaultCommand: defaultCommand, DefaultSource: defaultSource})
	return expr, c.Warnings()
}

// Expression compiles raw, a "COMMAND:operand" string or a bare operand.
func (c *Compiler) Expression(raw string, scope Scope) Expression {
	scope.DefaultCommand = strings.ToUpper(scope.DefaultCommand)
	if !valueCommands[scope.DefaultCommand] {
		scope.DefaultCommand = CmdString
	}

	operand, token, _ := ParseCommand(raw)
	parts := strings.Split(token, "/")
	name := strings.ToUpper(parts[0])
	if name == "" {
		name = scope.DefaultCommand
	}

	fn, ok := Commands[name]
	if !ok {
		c.warn(raw, "unrecognized command %q, compiled as %s", parts[0], scope.DefaultCommand)
		return Commands[scope.DefaultCommand](c, command{Name: scope.DefaultCommand, Operand: operand, Raw: raw}, scope)
	}
	return fn(c, command{Name: name, Args: parts[1:], Operand: operand, Raw: raw}, scope)
}

// sub compiles the operand of a wrapping command under the same scope.
func (c *Compiler) sub(cmd command, scope Scope) Expression {
	return c.Expression(cmd.Operand, scope)
}

func init() {
	Commands = map[string]CommandFunc{
		// Literal constructors
		"STRING":     compileString,
		"INTEGER":    compileInteger,
		"INT":        compileInteger,
		"INTEGER64":  compileInteger,
		"INT64":      compileInteger,
		"DOUBLE":     compileDouble,
		"FLOAT":      compileFloat,
		"BOOLEAN":    compileBoolean,
		"BOOL":       compileBoolean,
		"ARRAY":      compileArray,
		"JSON":       compileDictionary,
		"DICTIONARY": compileDictionary,
		"PARAMETER":  compileParameter,
		"PARAM":      compileParameter,

		// Accessors
		"PROPERTY": compileProperty,
		"PROP":     compileProperty,
		"META":     compileMeta,
		"ALL":      func(*Compiler, command, Scope) Expression { return Wildcard{} },

		// Arithmetic
		"ADD":      arithmetic(OpAdd),
		"+":        arithmetic(OpAdd),
		"SUBTRACT": arithmetic(OpSubtract),
		"-":        arithmetic(OpSubtract),
		"MULTIPLY": arithmetic(OpMultiply),
		"DIVIDE":   arithmetic(OpDivide),
		"MODULO":   arithmetic(OpModulo),
		"POWER":    compilePower,
		"NEGATED":  unary("NEGATED"),
		"NOT":      unary("NOT"),

		// Constants
		"PI": constant("PI"),
		"E":  constant("E"),

		"ROUND": compileRound,
	}

	passThrough := map[string]string{
		"ABS": "ABS", "CEIL": "CEIL", "FLOOR": "FLOOR", "SQRT": "SQRT",
		"SIN": "SIN", "COS": "COS", "TAN": "TAN", "ASIN": "ASIN", "ACOS": "ACOS", "ATAN": "ATAN",
		"LN": "LN", "LOG": "LOG", "EXP": "EXP", "SIGN": "SIGN",
		"TRUNCATE": "TRUNCATE", "TRUNC": "TRUNCATE",
		"DEGREES": "DEGREES", "RADIANS": "RADIANS", "RAD": "RADIANS",
		"LOWER": "LOWER", "UPPER": "UPPER", "TRIM": "TRIM", "LTRIM": "LTRIM", "RTRIM": "RTRIM",
		"LENGTH": "LENGTH", "LENGTH[]": "ARRAY_LENGTH", "ARRAY_LENGTH": "ARRAY_LENGTH",
		"COUNT": "COUNT", "SUM": "SUM", "AVG": "AVG", "AVERAGE": "AVG", "MIN": "MIN", "MAX": "MAX",
		"STRINGTOMILLIS": "STRINGTOMILLIS", "STRINGTOUTC": "STRINGTOUTC",
		"MILLISTOSTRING": "MILLISTOSTRING", "MILLISTOUTC": "MILLISTOUTC",
	}
	for name, fn := range passThrough {
		Commands[name] = unary(fn)
	}
}

// --- Literal constructors ---

func compileString(_ *Compiler, cmd command, _ Scope) Expression {
	return Literal{Value: Value{Type: TypeString, V: cmd.Operand}}
}

func compileInteger(c *Compiler, cmd command, _ Scope) Expression {
	n, err := strconv.ParseInt(cmd.Operand, 10, 64)
	if err != nil {
		c.warn(cmd.Raw, "malformed integer %q, compiled as null", cmd.Operand)
		return Literal{Value: NullValue}
	}
	return Literal{Value: Value{Type: TypeInteger, V: n}}
}

func compileDouble(c *Compiler, cmd command, _ Scope) Expression {
	return parseDecimal(c, cmd, 64)
}

func compileFloat(c *Compiler, cmd command, _ Scope) Expression {
	return parseDecimal(c, cmd, 32)
}

func parseDecimal(c *Compiler, cmd command, bits int) Expression {
	f, err := strconv.ParseFloat(cmd.Operand, bits)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		c.warn(cmd.Raw, "malformed number %q, compiled as null", cmd.Operand)
		return Literal{Value: NullValue}
	}
	return Literal{Value: Value{Type: TypeDecimal, V: f}}
}

func compileBoolean(c *Compiler, cmd command, _ Scope) Expression {
	switch {
	case strings.EqualFold(cmd.Operand, "true"):
		return Literal{Value: Value{Type: TypeBool, V: true}}
	case strings.EqualFold(cmd.Operand, "false"):
		return Literal{Value: Value{Type: TypeBool, V: false}}
	}
	c.warn(cmd.Raw, "malformed boolean %q, compiled as null", cmd.Operand)
	return Literal{Value: NullValue}
}

func compileArray(c *Compiler, cmd command, _ Scope) Expression {
	var list []any
	if err := json.Unmarshal([]byte(cmd.Operand), &list); err != nil || list == nil {
		c.warn(cmd.Raw, "malformed JSON array, compiled as null")
		return Literal{Value: NullValue}
	}
	return Literal{Value: Value{Type: TypeArray, V: list}}
}

func compileDictionary(c *Compiler, cmd command, _ Scope) Expression {
	var obj map[string]any
	if err := json.Unmarshal([]byte(cmd.Operand), &obj); err != nil || obj == nil {
		c.warn(cmd.Raw, "malformed JSON object, compiled as null")
		return Literal{Value: NullValue}
	}
	return Literal{Value: Value{Type: TypeDictionary, V: obj}}
}

func compileParameter(_ *Compiler, cmd command, _ Scope) Expression {
	return Parameter{Name: cmd.Operand}
}

// --- Accessors ---

var metaKinds = map[string]MetaKind{
	"id":         MetaID,
	"expiration": MetaExpiration,
	"revisionid": MetaRevisionID,
	"sequence":   MetaSequence,
	"isdeleted":  MetaIsDeleted,
}

func bindSource(source string, scope Scope) string {
	if source != "" {
		return source
	}
	return scope.DefaultSource
}

func compileProperty(_ *Compiler, cmd command, scope Scope) Expression {
	name, source, _ := ParseProperty(cmd.Operand)
	if strings.EqualFold(name, "id") {
		return Meta{Kind: MetaID, Source: bindSource(source, scope)}
	}
	return Property{Name: name, Source: bindSource(source, scope)}
}

func compileMeta(c *Compiler, cmd command, scope Scope) Expression {
	name, source, _ := ParseProperty(cmd.Operand)
	kind, ok := metaKinds[strings.ToLower(name)]
	if !ok {
		c.warn(cmd.Raw, "unknown meta field %q, compiled as id", name)
		kind = MetaID
	}
	return Meta{Kind: kind, Source: bindSource(source, scope)}
}

// --- Arithmetic and functions ---

func arithmetic(op ArithOp) CommandFunc {
	return func(c *Compiler, cmd command, scope Scope) Expression {
		inner := c.sub(cmd, scope)
		raw, ok := cmd.arg(0)
		if !ok {
			return inner
		}
		operand, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.warn(cmd.Raw, "malformed %s operand %q ignored", op, raw)
			return inner
		}
		return Arithmetic{Op: op, Left: inner, Operand: operand}
	}
}

func compilePower(c *Compiler, cmd command, scope Scope) Expression {
	exponent := 2
	if raw, ok := cmd.arg(0); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.warn(cmd.Raw, "malformed exponent %q, using 2", raw)
		} else {
			exponent = n
		}
	}
	return Arithmetic{Op: OpPower, Left: c.sub(cmd, scope), Operand: float64(exponent)}
}

func compileRound(c *Compiler, cmd command, scope Scope) Expression {
	args := []Expression{c.sub(cmd, scope)}
	if raw, ok := cmd.arg(0); ok {
		if digits, err := strconv.Atoi(raw); err == nil && digits >= 0 {
			args = append(args, Literal{Value: Value{Type: TypeInteger, V: int64(digits)}})
		} else {
			c.warn(cmd.Raw, "malformed ROUND digits %q ignored", raw)
		}
	}
	return FunctionCall{Name: "ROUND", Args: args}
}

func unary(name string) CommandFunc {
	return func(c *Compiler, cmd command, scope Scope) Expression {
		return FunctionCall{Name: name, Args: []Expression{c.sub(cmd, scope)}}
	}
}

func constant(name string) CommandFunc {
	return func(*Compiler, command, Scope) Expression {
		return FunctionCall{Name: name}
	}
}
