package docql

import (
	"fmt"
	"math"
)

// Request is a decoded select/from/join/where/groupBy/orderBy/limit request.
type Request struct {
	From    string
	Joins   []JoinClause
	Select  []string // empty selects everything
	Where   []map[string]any
	GroupBy []string
	OrderBy []string
	Limit   int
	Offset  int
}

// JoinClause is one entry of the join map: a source spec and its on-clause.
type JoinClause struct {
	Source string
	On     []map[string]any
}

// DecodeRequest converts a generic request tree (as decoded from JSON or a
// protobuf Struct) into a Request. Join keys are sorted.
func DecodeRequest(m map[string]any) (Request, error) {
	var (
		req Request
		err error
	)

	if req.From, err = optString(m, "from"); err != nil {
		return Request{}, err
	}
	if v, ok := m["select"]; ok && v != nil {
		if req.Select, err = stringList("select", v); err != nil {
			return Request{}, err
		}
	}
	if req.Where, err = optClause(m, "where"); err != nil {
		return Request{}, err
	}
	if req.GroupBy, err = optStringList(m, "groupBy"); err != nil {
		return Request{}, err
	}
	if req.OrderBy, err = optStringList(m, "orderBy"); err != nil {
		return Request{}, err
	}
	if req.Limit, err = optInt(m, "limit"); err != nil {
		return Request{}, err
	}
	if req.Offset, err = optInt(m, "offset"); err != nil {
		return Request{}, err
	}

	if v, ok := m["join"]; ok && v != nil {
		joins, ok := v.(map[string]any)
		if !ok {
			return Request{}, invalidParam("join must be an object, got %T", v)
		}
		for _, key := range sortedKeys(joins) {
			on, err := clause(fmt.Sprintf("join[%s]", key), joins[key])
			if err != nil {
				return Request{}, err
			}
			req.Joins = append(req.Joins, JoinClause{Source: key, On: on})
		}
	}

	return req, nil
}

func optString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidParam("%s must be a string, got %T", key, v)
	}
	return s, nil
}

func optStringList(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	return stringList(key, v)
}

func stringList(key string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalidParam("%s[%d] must be a string, got %T", key, i, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, invalidParam("%s must be a list of strings, got %T", key, v)
	}
}

func optClause(m map[string]any, key string) ([]map[string]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	return clause(key, v)
}

// clause accepts a list of objects, or a single object as a one-element list.
func clause(key string, v any) ([]map[string]any, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{list}, nil
	case []map[string]any:
		return list, nil
	case []any:
		out := make([]map[string]any, len(list))
		for i, item := range list {
			spec, ok := item.(map[string]any)
			if !ok {
				return nil, invalidParam("%s[%d] must be an object, got %T", key, i, item)
			}
			out[i] = spec
		}
		return out, nil
	default:
		return nil, invalidParam("%s must be a list of objects, got %T", key, v)
	}
}

func optInt(m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, invalidParam("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, invalidParam("%s must be a number, got %T", key, v)
	}
}
