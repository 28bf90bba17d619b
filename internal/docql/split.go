package docql

import "strings"

// SplitFirst splits s on the first occurrence of delim. The text after the
// delimiter is returned as the remainder and the text before it as the prefix.
// When delim is absent the whole input is the remainder and ok is false.
func SplitFirst(s string, delim byte) (remainder, prefix string, ok bool) {
	i := strings.IndexByte(s, delim)
	if i < 0 {
		return s, "", false
	}
	return s[i+1:], s[:i], true
}

// ParseAlias recognizes "expr AS alias" (exactly three tokens, AS in any case)
// and "expr=alias".
func ParseAlias(s string) (expr, alias string, ok bool) {
	fields := strings.Fields(s)
	if len(fields) == 3 && strings.EqualFold(fields[1], "AS") {
		return fields[0], fields[2], true
	}
	before, after, found := strings.Cut(s, "=")
	if found && before != "" && after != "" {
		return before, after, true
	}
	return s, "", false
}

// ParseComparator extracts a "NAME(operand)" wrapper. The operand is the text
// between the first '(' and the trailing ')'.
func ParseComparator(s string) (operand, comparator string, ok bool) {
	rest, name, found := SplitFirst(s, '(')
	if !found || name == "" || rest == "" || !strings.HasSuffix(rest, ")") {
		return s, "", false
	}
	return strings.TrimSuffix(rest, ")"), name, true
}

// ParseCommand splits "COMMAND:operand".
func ParseCommand(s string) (operand, command string, ok bool) {
	return SplitFirst(s, ':')
}

// ParseProperty splits "source*name AS alias" into its parts.
func ParseProperty(s string) (name, source, alias string) {
	expr, alias, _ := ParseAlias(s)
	name, source, _ = SplitFirst(expr, '*')
	return name, source, alias
}
