package query

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Select describes a SELECT statement over an entity
type Select struct {
	Entity  string
	Alias   string
	Fields  []string // defaults to every column of the root alias
	Joins   []JoinSpec
	Where   Condition
	GroupBy []string
	Having  Condition
	OrderBy []Order
	Limit   *int
	Offset  *int
	Lock    LockOptions
}

// NewSelect creates a select over entity, aliased as alias
func NewSelect(entity, alias string) *Select {
	return &Select{Entity: entity, Alias: alias}
}

// Columns sets the selected fields
func (s *Select) Columns(fields ...string) *Select {
	s.Fields = append(s.Fields, fields...)
	return s
}

// Filter adds a condition, combined with existing ones by AND
func (s *Select) Filter(cond Condition) *Select {
	s.Where = appendAnd(s.Where, cond)
	return s
}

// Join adds an inner join of a relation of the root alias
func (s *Select) Join(property, alias string) *Select {
	return s.JoinSpec(JoinSpec{Property: property, Alias: alias, Type: InnerJoin})
}

// LeftJoin adds a left join of a relation of the root alias
func (s *Select) LeftJoin(property, alias string) *Select {
	return s.JoinSpec(JoinSpec{Property: property, Alias: alias, Type: LeftJoin})
}

// JoinSpec adds a join
func (s *Select) JoinSpec(spec JoinSpec) *Select {
	s.Joins = append(s.Joins, spec)
	return s
}

// Group adds GROUP BY fields
func (s *Select) Group(fields ...string) *Select {
	s.GroupBy = append(s.GroupBy, fields...)
	return s
}

// HavingCond adds a HAVING condition, combined with existing ones by AND
func (s *Select) HavingCond(cond Condition) *Select {
	s.Having = appendAnd(s.Having, cond)
	return s
}

// Order adds orderings
func (s *Select) Order(orders ...Order) *Select {
	s.OrderBy = append(s.OrderBy, orders...)
	return s
}

// Paginate sets LIMIT and OFFSET
func (s *Select) Paginate(limit, offset int) *Select {
	s.Limit, s.Offset = &limit, &offset
	return s
}

// WithLock requests a row lock
func (s *Select) WithLock(opts LockOptions) *Select {
	s.Lock = opts
	return s
}

// Clone creates a copy of the select
func (s *Select) Clone() *Select {
	c := *s
	c.Fields = append([]string(nil), s.Fields...)
	c.Joins = append([]JoinSpec(nil), s.Joins...)
	c.GroupBy = append([]string(nil), s.GroupBy...)
	c.OrderBy = append([]Order(nil), s.OrderBy...)
	if s.Limit != nil {
		n := *s.Limit
		c.Limit = &n
	}
	if s.Offset != nil {
		n := *s.Offset
		c.Offset = &n
	}
	return &c
}

func appendAnd(existing, cond Condition) Condition {
	if isEmpty(existing) {
		return cond
	}
	if g, ok := existing.(*Group); ok && g.Logical == LogicalAnd {
		return And(append(append([]Condition(nil), g.Members...), cond)...)
	}
	return And(existing, cond)
}

// CompileSelect assembles a complete statement. Lock misuse is reported before anything is compiled.
func (c *Compiler) CompileSelect(sel *Select) (Fragment, error) {
	lock, err := c.CompileLock(sel.Entity, sel.Lock)
	if err != nil {
		return Fragment{}, err
	}

	meta, err := c.reg.Find(sel.Entity)
	if err != nil {
		return Fragment{}, &QueryCompilationError{Field: sel.Entity, Message: "cannot resolve entity", Err: err}
	}
	alias := sel.Alias
	if alias == "" {
		alias = "e0"
	}

	ctx := NewContext(meta.Name, alias)
	b := c.newBuilder()

	// joins register their aliases first so every other clause can reference them
	joins, err := c.joins(b, ctx, sel.Joins)
	if err != nil {
		return Fragment{}, err
	}

	fields := c.platform.QuoteIdentifier(alias) + ".*"
	if len(sel.Fields) > 0 {
		var cols []string
		for _, field := range sel.Fields {
			f, err := c.resolveField(ctx, field, ClauseWhere)
			if err != nil {
				return Fragment{}, err
			}
			cols = append(cols, f.columns...)
		}
		fields = strings.Join(cols, ", ")
	}

	var sql strings.Builder
	fmt.Fprintf(&sql, "select %s from %s as %s", fields,
		c.platform.QuoteIdentifier(c.tableName(meta)), c.platform.QuoteIdentifier(alias))
	if joins != "" {
		sql.WriteString(" " + joins)
	}

	// params are numbered in statement order, so the where clause is rendered after the joins
	var where []string
	if disc := c.discriminator(b, alias, meta); disc != "" {
		where = append(where, disc)
	}
	if !isEmpty(sel.Where) {
		cond, err := c.condition(b, ctx, sel.Where, ClauseWhere, len(where) > 0)
		if err != nil {
			return Fragment{}, err
		}
		where = append(where, cond)
	}
	if len(where) > 0 {
		sql.WriteString(" where " + strings.Join(where, " and "))
	}

	if len(sel.GroupBy) > 0 {
		var cols []string
		for _, field := range sel.GroupBy {
			f, err := c.resolveField(ctx, field, ClauseWhere)
			if err != nil {
				return Fragment{}, err
			}
			cols = append(cols, f.columns...)
		}
		sql.WriteString(" group by " + strings.Join(cols, ", "))
	}

	if !isEmpty(sel.Having) {
		cond, err := c.condition(b, ctx, sel.Having, ClauseHaving, false)
		if err != nil {
			return Fragment{}, err
		}
		sql.WriteString(" having " + cond)
	}

	if len(sel.OrderBy) > 0 {
		order, err := c.CompileOrderBy(ctx, sel.OrderBy)
		if err != nil {
			return Fragment{}, err
		}
		sql.WriteString(" order by " + order)
	}

	if sel.Limit != nil {
		sql.WriteString(" limit " + b.param(*sel.Limit))
	}
	if sel.Offset != nil {
		sql.WriteString(" offset " + b.param(*sel.Offset))
	}

	if lock != "" {
		sql.WriteString(" " + lock)
	}

	c.logger.Debug("query compiled",
		zap.String("entity", meta.Name),
		zap.Int("joins", len(sel.Joins)),
		zap.Int("params", len(b.params)))

	return Fragment{SQL: sql.String(), Params: b.params}, nil
}
