package query

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// Clause selects the rules used for fields that do not resolve through metadata
type Clause int

const (
	// ClauseWhere qualifies unknown fields with the root alias
	ClauseWhere Clause = iota
	// ClauseHaving emits unknown bare fields as they are, so select aliases can be referenced
	ClauseHaving
)

// Fragment is compiled SQL with its positional parameters
type Fragment struct {
	SQL    string
	Params []interface{}
}

// Empty reports whether the fragment holds no SQL
func (f Fragment) Empty() bool {
	return f.SQL == ""
}

// Context maps the aliases of one query to their entities
type Context struct {
	Root    string
	aliases map[string]string
	order   []string
}

// NewContext creates a context whose root alias points at entity
func NewContext(entity, alias string) *Context {
	ctx := &Context{Root: alias, aliases: make(map[string]string)}
	ctx.Add(alias, entity)
	return ctx
}

// Add registers an alias
func (c *Context) Add(alias, entity string) {
	if _, ok := c.aliases[alias]; !ok {
		c.order = append(c.order, alias)
	}
	c.aliases[alias] = entity
}

// Entity returns the entity an alias points at
func (c *Context) Entity(alias string) (string, bool) {
	e, ok := c.aliases[alias]
	return e, ok
}

// Aliases returns the aliases in registration order
func (c *Context) Aliases() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Compiler translates condition trees, joins and orderings into SQL for one platform.
// It holds no per-query state and is safe for concurrent use.
type Compiler struct {
	reg      *schema.Registry
	platform platform.Platform
	logger   *zap.Logger
}

// Option configures a Compiler
type Option func(*Compiler)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCompiler creates a new query compiler
func NewCompiler(reg *schema.Registry, p platform.Platform, opts ...Option) *Compiler {
	c := &Compiler{reg: reg, platform: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompileCondition compiles a condition tree. Placeholders are numbered from 1.
func (c *Compiler) CompileCondition(ctx *Context, cond Condition, clause Clause) (Fragment, error) {
	b := c.newBuilder()
	sql, err := c.condition(b, ctx, cond, clause, false)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: sql, Params: b.params}, nil
}

// builder accumulates parameters so placeholders are numbered across a whole statement
type builder struct {
	platform platform.Platform
	params   []interface{}
}

func (c *Compiler) newBuilder() *builder {
	return &builder{platform: c.platform}
}

func (b *builder) param(v interface{}) string {
	b.params = append(b.params, v)
	return b.platform.Placeholder(len(b.params))
}

// raw replaces the "?" markers of sql outside string literals with numbered placeholders
func (b *builder) raw(sql string, params []interface{}) (string, error) {
	var out strings.Builder
	inQuote := false
	n := 0
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			out.WriteByte(ch)
		case ch == '?' && !inQuote:
			if n >= len(params) {
				return "", compileErrorf("", "", "raw expression %q has more markers than parameters", sql)
			}
			out.WriteString(b.param(params[n]))
			n++
		default:
			out.WriteByte(ch)
		}
	}
	if n != len(params) {
		return "", compileErrorf("", "", "raw expression %q expects %d parameters, got %d", sql, n, len(params))
	}
	return out.String(), nil
}

// condition renders one node; siblings reports whether the node shares its parent group
func (c *Compiler) condition(b *builder, ctx *Context, cond Condition, clause Clause, siblings bool) (string, error) {
	if isEmpty(cond) {
		return "", nil
	}

	switch n := cond.(type) {
	case *Leaf:
		sql, err := c.leaf(b, ctx, n, clause)
		if err == nil && siblings && isRawExpression(n.Field) && strings.Contains(n.Field, "?") {
			sql = "(" + sql + ")"
		}
		return sql, err
	case *Raw:
		sql, err := b.raw(n.SQL, n.Params)
		if err == nil && siblings {
			// raw text may hold its own "or"
			sql = "(" + sql + ")"
		}
		return sql, err
	case *Not:
		inner, err := c.condition(b, ctx, n.Inner, clause, false)
		if err != nil {
			return "", err
		}
		return "not (" + inner + ")", nil
	case *Group:
		return c.group(b, ctx, n, clause, siblings)
	default:
		return "", compileErrorf("", "", "unsupported condition node %T", cond)
	}
}

func (c *Compiler) group(b *builder, ctx *Context, g *Group, clause Clause, siblings bool) (string, error) {
	members := nonEmptyMembers(g.Members)
	if len(members) == 1 {
		return c.condition(b, ctx, members[0], clause, siblings)
	}

	var sep string
	switch g.Logical {
	case LogicalAnd, "":
		sep = " and "
	case LogicalOr:
		sep = " or "
	default:
		return "", compileErrorf("", string(g.Logical), "unknown logical operator")
	}

	parts := make([]string, 0, len(members))
	for _, m := range members {
		sql, err := c.condition(b, ctx, m, clause, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	sql := strings.Join(parts, sep)

	if g.Logical != LogicalOr {
		return sql, nil
	}
	if siblings || !c.simpleEqualities(ctx, members) {
		return "(" + sql + ")", nil
	}
	return sql, nil
}

// simpleEqualities reports whether every member is a non-null single column equality
func (c *Compiler) simpleEqualities(ctx *Context, members []Condition) bool {
	for _, m := range members {
		leaf, ok := m.(*Leaf)
		if !ok || leaf.Operator != OpEq || leaf.Value == nil {
			return false
		}
		if _, isList := leaf.Value.([]interface{}); isList {
			return false
		}
		f, err := c.resolveField(ctx, leaf.Field, ClauseWhere)
		if err != nil || f.raw || len(f.columns) != 1 {
			return false
		}
	}
	return true
}

func (c *Compiler) leaf(b *builder, ctx *Context, leaf *Leaf, clause Clause) (string, error) {
	op := leaf.Operator
	if op == "" {
		op = OpEq
	}
	if !op.Valid() {
		return "", compileErrorf(leaf.Field, string(op), "unknown operator")
	}

	f, err := c.resolveField(ctx, leaf.Field, clause)
	if err != nil {
		return "", err
	}

	// a raw expression carrying its own markers takes the value as its parameters
	if f.raw && strings.Contains(leaf.Field, "?") {
		params, ok := leaf.Value.([]interface{})
		if !ok {
			params = []interface{}{leaf.Value}
		}
		return b.raw(leaf.Field, params)
	}

	if len(f.columns) > 1 {
		return c.tupleLeaf(b, f, leaf, op)
	}
	col := f.columns[0]

	switch op {
	case OpEq, OpNe:
		if leaf.Value == nil {
			if op == OpEq {
				return col + " is null", nil
			}
			return col + " is not null", nil
		}
		return fmt.Sprintf("%s %s %s", col, comparisonSQL[op], b.param(leaf.Value)), nil

	case OpGt, OpGte, OpLt, OpLte:
		return fmt.Sprintf("%s %s %s", col, comparisonSQL[op], b.param(leaf.Value)), nil

	case OpIn, OpNin:
		values, ok := toList(leaf.Value)
		if !ok {
			return "", compileErrorf(leaf.Field, string(op), "expects a list, got %T", leaf.Value)
		}
		if len(values) == 0 {
			if op == OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = b.param(v)
		}
		kw := "in"
		if op == OpNin {
			kw = "not in"
		}
		return fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(marks, ", ")), nil

	case OpLike:
		return fmt.Sprintf("%s like %s", col, b.param(leaf.Value)), nil

	case OpRe:
		source, ok := regexSource(leaf.Value)
		if !ok {
			return "", compileErrorf(leaf.Field, string(op), "expects a pattern, got %T", leaf.Value)
		}
		if like, ok := likePattern(source); ok {
			return fmt.Sprintf("%s like %s", col, b.param(like)), nil
		}
		return fmt.Sprintf("%s %s %s", col, c.platform.RegexpOperator(), b.param(source)), nil

	case OpFullText:
		return c.platform.FullTextClause(col, b.param(leaf.Value)), nil
	}

	return "", compileErrorf(leaf.Field, string(op), "unknown operator")
}

// tupleLeaf compares a multi-column field against one or more key tuples
func (c *Compiler) tupleLeaf(b *builder, f resolvedField, leaf *Leaf, op Operator) (string, error) {
	tuple := "(" + strings.Join(f.columns, ", ") + ")"
	arity := len(f.columns)

	row := func(v interface{}) ([]string, error) {
		values, ok := toList(v)
		if !ok || len(values) != arity {
			return nil, compileErrorf(leaf.Field, string(op), "expects %d values per key", arity)
		}
		marks := make([]string, arity)
		for i, x := range values {
			marks[i] = b.param(x)
		}
		return marks, nil
	}

	switch op {
	case OpEq, OpNe:
		if leaf.Value == nil {
			parts := make([]string, arity)
			for i, col := range f.columns {
				if op == OpEq {
					parts[i] = col + " is null"
				} else {
					parts[i] = col + " is not null"
				}
			}
			return "(" + strings.Join(parts, " and ") + ")", nil
		}
		marks, err := row(leaf.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s (%s)", tuple, comparisonSQL[op], strings.Join(marks, ", ")), nil

	case OpIn, OpNin:
		values, ok := toList(leaf.Value)
		if !ok {
			return "", compileErrorf(leaf.Field, string(op), "expects a list of keys, got %T", leaf.Value)
		}
		if len(values) == 0 {
			if op == OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		rows := make([][]string, len(values))
		for i, v := range values {
			marks, err := row(v)
			if err != nil {
				return "", err
			}
			rows[i] = marks
		}
		kw := "in"
		if op == OpNin {
			kw = "not in"
		}
		return fmt.Sprintf("%s %s %s", tuple, kw, c.platform.TupleList(rows)), nil

	default:
		return "", compileErrorf(leaf.Field, string(op), "not supported on composite keys")
	}
}

// toList accepts any slice of values
func toList(v interface{}) ([]interface{}, bool) {
	switch x := v.(type) {
	case []interface{}:
		return x, true
	case []string:
		out := make([]interface{}, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]interface{}, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]interface{}, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
