package docql

import (
	"fmt"
	"strings"
)

// IndexSpec is a validated value index request.
type IndexSpec struct {
	Collection string
	Fields     []string
	Name       string
}

// ParseIndexRequest validates {"indexFields": [...], "collection": "..."}.
// The index is named after its fields: ["type", "owner"] -> "typeownerValueIndex".
func ParseIndexRequest(m map[string]any) (IndexSpec, error) {
	raw, ok := m["indexFields"]
	if !ok || raw == nil {
		return IndexSpec{}, invalidRequired("indexFields")
	}
	fields, err := stringList("indexFields", raw)
	if err != nil {
		return IndexSpec{}, err
	}
	if len(fields) == 0 {
		return IndexSpec{}, invalidRequired("indexFields")
	}
	for i, f := range fields {
		if strings.TrimSpace(f) == "" {
			return IndexSpec{}, invalidParam("indexFields[%d] is empty", i)
		}
	}

	collection, err := optString(m, "collection")
	if err != nil {
		return IndexSpec{}, err
	}

	return IndexSpec{
		Collection: collection,
		Fields:     fields,
		Name:       strings.Join(fields, "") + "ValueIndex",
	}, nil
}

// ParseDeleteIndexRequest reads {"indexName": "...", "collection": "..."}.
// An empty or absent name is not an error; ok is false and the caller does
// nothing.
func ParseDeleteIndexRequest(m map[string]any) (collection, name string, ok bool, err error) {
	if name, err = optString(m, "indexName"); err != nil {
		return "", "", false, err
	}
	if collection, err = optString(m, "collection"); err != nil {
		return "", "", false, err
	}
	return collection, name, name != "", nil
}

func invalidRequired(field string) error {
	return fmt.Errorf("%w: %s is required", ErrMissingRequiredField, field)
}
