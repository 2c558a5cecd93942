package query

import (
	"fmt"
	"strings"
)

// Order sorts by a field. Direction accepts 1 / -1 as well as "asc", "desc" and their
// "nulls first" / "nulls last" variants in any case.
type Order struct {
	Field     string
	Direction interface{}
}

// Asc sorts ascending
func Asc(field string) Order {
	return Order{Field: field, Direction: "asc"}
}

// Desc sorts descending
func Desc(field string) Order {
	return Order{Field: field, Direction: "desc"}
}

var directions = map[string]string{
	"asc":              "asc",
	"desc":             "desc",
	"asc nulls first":  "asc nulls first",
	"asc nulls last":   "asc nulls last",
	"desc nulls first": "desc nulls first",
	"desc nulls last":  "desc nulls last",
}

// normalizeDirection maps a direction code onto its SQL keyword
func normalizeDirection(field string, dir interface{}) (string, error) {
	switch d := dir.(type) {
	case nil:
		return "asc", nil
	case string:
		key := strings.Join(strings.Fields(strings.ToLower(d)), " ")
		if key == "" {
			return "asc", nil
		}
		if sql, ok := directions[key]; ok {
			return sql, nil
		}
	case int:
		return numericDirection(field, float64(d))
	case int64:
		return numericDirection(field, float64(d))
	case float64:
		return numericDirection(field, d)
	}
	return "", compileErrorf(field, "", "invalid order direction %v", dir)
}

func numericDirection(field string, n float64) (string, error) {
	switch n {
	case 1:
		return "asc", nil
	case -1:
		return "desc", nil
	default:
		return "", compileErrorf(field, "", "invalid order direction %v", n)
	}
}

// CompileOrderBy compiles an ordering. Multi-column fields sort by every column in turn.
func (c *Compiler) CompileOrderBy(ctx *Context, orders []Order) (string, error) {
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		dir, err := normalizeDirection(o.Field, o.Direction)
		if err != nil {
			return "", err
		}
		f, err := c.resolveField(ctx, o.Field, ClauseWhere)
		if err != nil {
			return "", err
		}
		for _, col := range f.columns {
			parts = append(parts, fmt.Sprintf("%s %s", col, dir))
		}
	}
	return strings.Join(parts, ", "), nil
}
