package docql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DeletedField is the pseudo-field bound to the document's deletion flag
// instead of its content.
const DeletedField = "_deleted"

// DocumentFlags describe a replicated document event.
type DocumentFlags uint8

const (
	FlagDeleted DocumentFlags = 1 << iota
	FlagAccessRemoved
)

// Has reports whether all bits of f2 are set in f.
func (f DocumentFlags) Has(f2 DocumentFlags) bool { return f&f2 == f2 }

// Document is the body of a document as a generic map.
type Document = map[string]any

// Predicate decides whether a document passes a filter.
type Predicate func(doc Document, flags DocumentFlags) bool

// FieldValues is the configured value list of one filter field. A scalar
// configuration is a one-element list.
type FieldValues struct {
	Field  string
	Values []any
}

// FilterSpec is a {match, not} filter. Fields are kept sorted by name.
type FilterSpec struct {
	Match []FieldValues
	Not   []FieldValues
}

// DecodeFilterSpec reads a {"match": {...}, "not": {...}} map. A nil map
// yields a nil spec, which accepts everything.
func DecodeFilterSpec(m map[string]any) (*FilterSpec, error) {
	if m == nil {
		return nil, nil
	}
	match, err := decodeFieldValues(m, "match")
	if err != nil {
		return nil, err
	}
	not, err := decodeFieldValues(m, "not")
	if err != nil {
		return nil, err
	}
	return &FilterSpec{Match: match, Not: not}, nil
}

func decodeFieldValues(m map[string]any, key string) ([]FieldValues, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return nil, invalidParam("%s must be an object, got %T", key, v)
	}
	out := make([]FieldValues, 0, len(fields))
	for _, name := range sortedKeys(fields) {
		raw := fields[name]
		if list, ok := asArray(raw); ok {
			out = append(out, FieldValues{Field: name, Values: list})
		} else {
			out = append(out, FieldValues{Field: name, Values: []any{raw}})
		}
	}
	return out, nil
}

// Name derives a stable name from the filter's field names, e.g.
// "MatchTypeNotArchived". Keys are capitalized and sorted.
func (s *FilterSpec) Name() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	if len(s.Match) > 0 {
		b.WriteString("Match")
		writeCapitalized(&b, s.Match)
	}
	if len(s.Not) > 0 {
		b.WriteString("Not")
		writeCapitalized(&b, s.Not)
	}
	return b.String()
}

func writeCapitalized(b *strings.Builder, fields []FieldValues) {
	for _, f := range sortFields(fields) {
		r, size := utf8.DecodeRuneInString(f.Field)
		if size == 0 {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(f.Field[size:])
	}
}

// --- Compiled filter ---

type fieldTable struct {
	field  string
	values []Value
}

// Filter is a compiled FilterSpec. It holds only immutable tables and is
// safe for concurrent use.
type Filter struct {
	match    []fieldTable
	not      []fieldTable
	warnings []Warning
}

// CompileFilter classifies every configured value once. A nil spec compiles
// to a filter that accepts everything.
func CompileFilter(spec *FilterSpec) *Filter {
	f := &Filter{}
	if spec == nil {
		return f
	}
	f.match = f.tables("match", spec.Match)
	f.not = f.tables("not", spec.Not)
	return f
}

func (f *Filter) tables(pass string, fields []FieldValues) []fieldTable {
	out := make([]fieldTable, 0, len(fields))
	for _, fv := range sortFields(fields) {
		t := fieldTable{field: fv.Field, values: make([]Value, len(fv.Values))}
		for i, raw := range fv.Values {
			v := Classify(raw)
			switch v.Type {
			case TypeDictionary, TypeArray, TypeNull:
				f.warnings = append(f.warnings, Warning{
					Input:   fmt.Sprintf("%s.%s", pass, fv.Field),
					Message: fmt.Sprintf("%s value can never match", v.Type),
				})
			}
			t.values[i] = v
		}
		out = append(out, t)
	}
	return out
}

// Warnings lists configured values that can never match.
func (f *Filter) Warnings() []Warning {
	return f.warnings
}

// Accept reports whether doc passes: every match field has a hit and no
// not field has one.
func (f *Filter) Accept(doc Document, flags DocumentFlags) bool {
	return f.matches(doc, flags) && !f.excluded(doc, flags)
}

// Predicate returns Accept as a function value.
func (f *Filter) Predicate() Predicate {
	return f.Accept
}

func (f *Filter) matches(doc Document, flags DocumentFlags) bool {
	for _, t := range f.match {
		if !t.hit(doc, flags) {
			return false
		}
	}
	return true
}

func (f *Filter) excluded(doc Document, flags DocumentFlags) bool {
	for _, t := range f.not {
		if t.hit(doc, flags) {
			return true
		}
	}
	return false
}

// hit reports whether the document's value for the field equals any
// configured value.
func (t fieldTable) hit(doc Document, flags DocumentFlags) bool {
	var actual Value
	if t.field == DeletedField {
		actual = Value{Type: TypeBool, V: flags.Has(FlagDeleted)}
	} else {
		actual = Classify(doc[t.field])
	}
	for _, want := range t.values {
		if want.Equal(actual) {
			return true
		}
	}
	return false
}

func sortFields(fields []FieldValues) []FieldValues {
	byName := make(map[string]FieldValues, len(fields))
	for _, f := range fields {
		byName[f.Field] = f
	}
	out := make([]FieldValues, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		out = append(out, byName[name])
	}
	return out
}
