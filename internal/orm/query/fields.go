package query

import (
	"strings"
	"unicode"

	"github.com/conduit-lang/entmap/internal/orm/schema"
)

type resolvedField struct {
	alias   string
	prop    *schema.Property
	columns []string // quoted and qualified
	raw     bool
}

// isRawExpression reports whether a field token is SQL rather than a property path
func isRawExpression(field string) bool {
	if field == "" {
		return false
	}
	if unicode.IsDigit(rune(field[0])) {
		return true
	}
	return strings.ContainsAny(field, " \t\n\r=<>!()?+-*/,'")
}

// resolveField maps "alias.prop", "prop" or "alias.embedded.prop" onto columns. An alias prefix
// takes precedence over an embedded path of the same name.
func (c *Compiler) resolveField(ctx *Context, field string, clause Clause) (resolvedField, error) {
	if strings.TrimSpace(field) == "" {
		return resolvedField{}, compileErrorf("", "", "empty field")
	}
	if isRawExpression(field) {
		return resolvedField{columns: []string{field}, raw: true}, nil
	}

	alias, path := ctx.Root, field
	explicit := false
	if i := strings.Index(field, "."); i > 0 {
		if _, ok := ctx.Entity(field[:i]); ok {
			alias, path, explicit = field[:i], field[i+1:], true
		}
	}

	meta, err := c.entity(ctx, alias)
	if err != nil {
		return resolvedField{}, err
	}

	if prop, ok := meta.Property(path); ok {
		cols, err := propertyColumns(meta, prop)
		if err != nil {
			return resolvedField{}, err
		}
		return resolvedField{alias: alias, prop: prop, columns: c.qualify(alias, cols)}, nil
	}

	for _, prop := range meta.Properties() {
		if prop.HasColumns() && len(prop.FieldNames) == 1 && prop.FieldNames[0] == path {
			return resolvedField{alias: alias, prop: prop, columns: c.qualify(alias, prop.FieldNames)}, nil
		}
	}

	if i := strings.Index(path, "."); i > 0 {
		if prop, ok := meta.Property(path[:i]); ok && prop.Kind.IsRelation() {
			return resolvedField{}, compileErrorf(field, "", "relation %s.%s must be joined before filtering on its fields",
				meta.Name, prop.Name)
		}
	}

	// unknown fields pass through as columns
	if clause == ClauseHaving && !explicit {
		return resolvedField{columns: []string{c.platform.QuoteIdentifier(path)}}, nil
	}
	return resolvedField{alias: alias, columns: c.qualify(alias, []string{path})}, nil
}

func (c *Compiler) entity(ctx *Context, alias string) (*schema.EntityMetadata, error) {
	name, ok := ctx.Entity(alias)
	if !ok {
		return nil, compileErrorf(alias, "", "unknown alias")
	}
	meta, err := c.reg.Find(name)
	if err != nil {
		return nil, &QueryCompilationError{Field: alias, Message: "cannot resolve alias", Err: err}
	}
	return meta, nil
}

func propertyColumns(meta *schema.EntityMetadata, prop *schema.Property) ([]string, error) {
	switch {
	case prop.HasColumns():
		if len(prop.FieldNames) > 0 {
			return prop.FieldNames, nil
		}
		if len(prop.JoinColumns) > 0 {
			return prop.JoinColumns, nil
		}
		return nil, compileErrorf(prop.Name, "", "property of %s has no columns", meta.Name)
	case prop.Kind == schema.ReferenceEmbedded:
		return nil, compileErrorf(prop.Name, "", "embedded property of %s must be compared through its fields", meta.Name)
	default:
		return nil, compileErrorf(prop.Name, "", "relation %s of %s has no columns on its table; join it instead",
			prop.Kind, meta.Name)
	}
}

func (c *Compiler) qualify(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = c.platform.QuoteIdentifier(alias + "." + col)
	}
	return out
}
