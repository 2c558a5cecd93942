package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// JoinType represents the type of SQL join
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

// String returns the join keyword
func (j JoinType) String() string {
	switch j {
	case LeftJoin:
		return "left join"
	default:
		return "inner join"
	}
}

// JoinSpec joins the target of a relation property of OwnerAlias under Alias.
//
// Many-to-many relations expand to two joins, owner to pivot and pivot to target. With PivotOnly
// only the pivot is joined and Alias names the pivot table.
type JoinSpec struct {
	OwnerAlias string // defaults to the root alias
	Alias      string
	Property   string
	Type       JoinType
	PivotOnly  bool
	PivotAlias string // defaults to "<alias>_pivot"
	Condition  Condition
}

// JoinPlan is a join resolved against metadata
type JoinPlan struct {
	Spec               JoinSpec
	Target             *schema.EntityMetadata
	Table              string
	Pivot              *schema.EntityMetadata // m:n only
	PivotTable         string
	JoinColumns        []string
	InverseJoinColumns []string
	PrimaryKeys        []string

	owning bool
}

// PlanJoin resolves a join against the metadata and registers its aliases in ctx
func (c *Compiler) PlanJoin(ctx *Context, spec JoinSpec) (*JoinPlan, error) {
	if spec.OwnerAlias == "" {
		spec.OwnerAlias = ctx.Root
	}
	if spec.Alias == "" {
		return nil, compileErrorf(spec.Property, "", "join needs an alias")
	}
	if _, taken := ctx.Entity(spec.Alias); taken {
		return nil, compileErrorf(spec.Property, "", "alias %q is already used", spec.Alias)
	}

	owner, err := c.entity(ctx, spec.OwnerAlias)
	if err != nil {
		return nil, err
	}
	prop, ok := owner.Property(spec.Property)
	if !ok || !prop.Kind.IsRelation() {
		return nil, compileErrorf(spec.OwnerAlias+"."+spec.Property, "", "%s has no relation %q", owner.Name, spec.Property)
	}
	target, err := c.reg.Find(prop.Target)
	if err != nil {
		return nil, &QueryCompilationError{Field: spec.Property, Message: "cannot resolve join target", Err: err}
	}

	plan := &JoinPlan{
		Spec:   spec,
		Target: target,
		Table:  c.tableName(target),
	}

	switch {
	case prop.Kind == schema.ReferenceManyToMany:
		pivot, err := c.reg.Find(prop.PivotEntity)
		if err != nil {
			return nil, &QueryCompilationError{Field: spec.Property, Message: "cannot resolve pivot", Err: err}
		}
		plan.Pivot = pivot
		plan.PivotTable = c.tableName(pivot)
		plan.JoinColumns = prop.JoinColumns
		plan.InverseJoinColumns = prop.InverseJoinColumns
		plan.PrimaryKeys = prop.ReferencedColumnNames
		if spec.PivotOnly {
			ctx.Add(spec.Alias, pivot.Name)
			break
		}
		if plan.Spec.PivotAlias == "" {
			plan.Spec.PivotAlias = spec.Alias + "_pivot"
		}
		if _, taken := ctx.Entity(plan.Spec.PivotAlias); taken {
			return nil, compileErrorf(spec.Property, "", "alias %q is already used", plan.Spec.PivotAlias)
		}
		ctx.Add(plan.Spec.PivotAlias, pivot.Name)
		ctx.Add(spec.Alias, target.Name)

	case prop.IsOwningReference():
		plan.JoinColumns = prop.JoinColumns
		plan.PrimaryKeys = prop.ReferencedColumnNames
		ctx.Add(spec.Alias, target.Name)

	default:
		// the inverse side mirrors the owner's join columns, which live on the target table
		plan.JoinColumns = prop.JoinColumns
		plan.PrimaryKeys = prop.ReferencedColumnNames
		ctx.Add(spec.Alias, target.Name)
	}

	if len(plan.JoinColumns) != len(plan.PrimaryKeys) {
		return nil, compileErrorf(spec.Property, "", "join arity mismatch: %d join columns for %d key columns",
			len(plan.JoinColumns), len(plan.PrimaryKeys))
	}
	plan.owning = prop.IsOwningReference()
	return plan, nil
}

// CompileJoins compiles joins in order, registering their aliases in ctx
func (c *Compiler) CompileJoins(ctx *Context, joins []JoinSpec) (Fragment, error) {
	b := c.newBuilder()
	sql, err := c.joins(b, ctx, joins)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: sql, Params: b.params}, nil
}

func (c *Compiler) joins(b *builder, ctx *Context, joins []JoinSpec) (string, error) {
	parts := make([]string, 0, len(joins))
	seen := make(map[string]JoinSpec, len(joins))
	for _, spec := range joins {
		// a join repeated verbatim is emitted once
		if prev, ok := seen[spec.Alias]; ok && sameJoin(prev, spec) {
			continue
		}
		plan, err := c.PlanJoin(ctx, spec)
		if err != nil {
			return "", err
		}
		seen[spec.Alias] = spec
		sql, err := c.joinSQL(b, ctx, plan)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return strings.Join(parts, " "), nil
}

func sameJoin(a, b JoinSpec) bool {
	return a.OwnerAlias == b.OwnerAlias && a.Property == b.Property && a.Type == b.Type &&
		a.PivotOnly == b.PivotOnly && a.PivotAlias == b.PivotAlias && a.Condition == nil && b.Condition == nil
}

func (c *Compiler) joinSQL(b *builder, ctx *Context, plan *JoinPlan) (string, error) {
	spec := plan.Spec
	owner := spec.OwnerAlias

	if plan.Pivot != nil {
		pivotAlias := spec.PivotAlias
		if spec.PivotOnly {
			pivotAlias = spec.Alias
		}
		// owner key = pivot join column
		on := c.pairs(owner, plan.PrimaryKeys, pivotAlias, plan.JoinColumns)
		if spec.PivotOnly {
			return c.joinClause(b, ctx, spec.Type, plan.PivotTable, pivotAlias, on, nil, spec.Condition)
		}
		hop, err := c.joinClause(b, ctx, spec.Type, plan.PivotTable, pivotAlias, on, nil, nil)
		if err != nil {
			return "", err
		}
		// target key = pivot inverse join column
		on = c.pairs(spec.Alias, plan.Target.PrimaryKeyColumns(), pivotAlias, plan.InverseJoinColumns)
		if len(plan.Target.PrimaryKeyColumns()) != len(plan.InverseJoinColumns) {
			return "", compileErrorf(spec.Property, "", "join arity mismatch on the inverse side")
		}
		target, err := c.joinClause(b, ctx, spec.Type, plan.Table, spec.Alias, on, plan.Target, spec.Condition)
		if err != nil {
			return "", err
		}
		return hop + " " + target, nil
	}

	var on []string
	if plan.owning {
		on = c.pairs(spec.Alias, plan.PrimaryKeys, owner, plan.JoinColumns)
	} else {
		on = c.pairs(owner, plan.PrimaryKeys, spec.Alias, plan.JoinColumns)
	}
	return c.joinClause(b, ctx, spec.Type, plan.Table, spec.Alias, on, plan.Target, spec.Condition)
}

// pairs renders keyAlias.keys[i] = joinAlias.joins[i]
func (c *Compiler) pairs(keyAlias string, keys []string, joinAlias string, joins []string) []string {
	out := make([]string, len(keys))
	for i := range keys {
		out[i] = fmt.Sprintf("%s = %s",
			c.platform.QuoteIdentifier(keyAlias+"."+keys[i]),
			c.platform.QuoteIdentifier(joinAlias+"."+joins[i]))
	}
	return out
}

func (c *Compiler) joinClause(b *builder, ctx *Context, typ JoinType, table, alias string, on []string,
	target *schema.EntityMetadata, extra Condition) (string, error) {
	if target != nil {
		if disc := c.discriminator(b, alias, target); disc != "" {
			on = append(on, disc)
		}
	}
	if !isEmpty(extra) {
		sql, err := c.condition(b, ctx, extra, ClauseWhere, len(on) > 0)
		if err != nil {
			return "", err
		}
		on = append(on, sql)
	}
	return fmt.Sprintf("%s %s as %s on %s", typ, c.platform.QuoteIdentifier(table),
		c.platform.QuoteIdentifier(alias), strings.Join(on, " and ")), nil
}

// tableName returns the table of an entity, which is its root's table under single table inheritance
func (c *Compiler) tableName(meta *schema.EntityMetadata) string {
	root := c.root(meta)
	if root.Schema != "" {
		return root.Schema + "." + root.TableName
	}
	return root.TableName
}

func (c *Compiler) root(meta *schema.EntityMetadata) *schema.EntityMetadata {
	if meta.IsRoot() {
		return meta
	}
	if root, ok := c.reg.Get(meta.Root); ok {
		return root
	}
	return meta
}

// discriminator restricts a subclass of a single table hierarchy to its own rows and its descendants'
func (c *Compiler) discriminator(b *builder, alias string, meta *schema.EntityMetadata) string {
	root := c.root(meta)
	if root == meta || root.DiscriminatorColumn == "" {
		return ""
	}

	var values []string
	for value, name := range root.DiscriminatorMap {
		if name == meta.Name || c.extends(name, meta.Name) {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return ""
	}
	sort.Strings(values)

	column := root.DiscriminatorColumn
	if prop, ok := root.Property(root.DiscriminatorColumn); ok && len(prop.FieldNames) == 1 {
		column = prop.FieldNames[0]
	}
	col := c.platform.QuoteIdentifier(alias + "." + column)

	if len(values) == 1 {
		return fmt.Sprintf("%s = %s", col, b.param(values[0]))
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = b.param(v)
	}
	return fmt.Sprintf("%s in (%s)", col, strings.Join(marks, ", "))
}

// extends reports whether entity name is a descendant of ancestor
func (c *Compiler) extends(name, ancestor string) bool {
	seen := map[string]bool{}
	for name != "" && !seen[name] {
		seen[name] = true
		meta, ok := c.reg.Get(name)
		if !ok {
			return false
		}
		if meta.Extends == ancestor {
			return true
		}
		name = meta.Extends
	}
	return false
}
