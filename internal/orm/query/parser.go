package query

import (
	"sort"
	"strings"
)

// ParseCondition converts a freeform condition, typically decoded from JSON or YAML, into a
// condition tree.
//
// Keys are processed in sorted order so the output is deterministic. "$and" and "$or" take a list
// of objects, "$not" takes an object. Any other key is a field: an object value must consist of
// operator keys, a list value means $in and anything else means $eq.
func ParseCondition(raw map[string]interface{}) (Condition, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	members := make([]Condition, 0, len(keys))
	for _, key := range keys {
		c, err := parseEntry(key, raw[key])
		if err != nil {
			return nil, err
		}
		members = append(members, c)
	}

	if len(members) == 1 {
		return members[0], nil
	}
	return And(members...), nil
}

func parseEntry(key string, value interface{}) (Condition, error) {
	switch Logical(key) {
	case LogicalAnd, LogicalOr:
		items, err := conditionList(key, value)
		if err != nil {
			return nil, err
		}
		return &Group{Logical: Logical(key), Members: items}, nil
	}

	if key == "$not" {
		obj, ok := asObject(value)
		if !ok {
			return nil, compileErrorf("", key, "expects an object, got %T", value)
		}
		inner, err := ParseCondition(obj)
		if err != nil {
			return nil, err
		}
		return Negate(inner), nil
	}

	if strings.HasPrefix(key, "$") {
		return nil, compileErrorf("", key, "unknown operator")
	}

	return parseField(key, value)
}

func conditionList(key string, value interface{}) ([]Condition, error) {
	var items []interface{}
	switch v := value.(type) {
	case []interface{}:
		items = v
	case []map[string]interface{}:
		for _, m := range v {
			items = append(items, m)
		}
	case map[string]interface{}:
		// {"$or": {"a": 1, "b": 2}} is shorthand for one member per key
		sub := make([]string, 0, len(v))
		for k := range v {
			sub = append(sub, k)
		}
		sort.Strings(sub)
		for _, k := range sub {
			items = append(items, map[string]interface{}{k: v[k]})
		}
	default:
		return nil, compileErrorf("", key, "expects a list of conditions, got %T", value)
	}

	out := make([]Condition, 0, len(items))
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok {
			return nil, compileErrorf("", key, "members must be objects, got %T", item)
		}
		c, err := ParseCondition(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseField(field string, value interface{}) (Condition, error) {
	obj, isObject := asObject(value)
	if !isObject {
		if list, ok := value.([]interface{}); ok {
			return Where(field, OpIn, list), nil
		}
		return Eq(field, value), nil
	}

	ops := make([]string, 0, len(obj))
	for k := range obj {
		ops = append(ops, k)
	}
	sort.Strings(ops)

	known := false
	for _, k := range ops {
		if Operator(k).Valid() || k == "$not" {
			known = true
			break
		}
	}
	if !known {
		return nil, compileErrorf(field, "", "object value has no operator keys (%s)", strings.Join(ops, ", "))
	}

	members := make([]Condition, 0, len(ops))
	for _, k := range ops {
		switch {
		case k == "$not":
			inner, err := parseField(field, obj[k])
			if err != nil {
				return nil, err
			}
			members = append(members, Negate(inner))
		case Operator(k).Valid():
			members = append(members, Where(field, Operator(k), obj[k]))
		default:
			return nil, compileErrorf(field, k, "unknown operator")
		}
	}

	if len(members) == 1 {
		return members[0], nil
	}
	return And(members...), nil
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	default:
		return nil, false
	}
}
