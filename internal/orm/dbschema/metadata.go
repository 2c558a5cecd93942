package dbschema

import (
	"fmt"

	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// FromMetadata projects every table-owning entity of a resolved registry, in registration order,
// into the schema it implies on the given platform
func FromMetadata(reg *schema.Registry, p platform.Platform) (*DatabaseSchema, error) {
	out := &DatabaseSchema{}
	for _, meta := range reg.All() {
		if !meta.HasTable() {
			continue
		}
		t, err := TableFromEntity(reg, p, meta)
		if err != nil {
			return nil, err
		}
		out.Tables = append(out.Tables, t)
	}
	return out, nil
}

// TableFromEntity builds the table of a single table-owning entity
func TableFromEntity(reg *schema.Registry, p platform.Platform, meta *schema.EntityMetadata) (*Table, error) {
	t := &Table{
		Name:       meta.TableName,
		Schema:     meta.Schema,
		PrimaryKey: meta.PrimaryKeyColumns(),
	}

	for _, prop := range meta.Properties() {
		if !prop.HasColumns() {
			continue
		}
		nullable := prop.Nullable && !prop.Primary

		if prop.Kind == schema.ReferenceScalar {
			for _, name := range prop.FieldNames {
				t.addColumn(&Column{
					Name:          name,
					Type:          p.ColumnType(prop),
					Nullable:      nullable,
					Default:       prop.Default,
					Autoincrement: prop.Autoincrement,
					Primary:       prop.Primary,
					Unique:        prop.Unique && len(prop.FieldNames) == 1,
				})
			}
			continue
		}

		for i, name := range prop.JoinColumns {
			typ, err := referencedColumnType(reg, p, prop.Target, prop.ReferencedColumnNames[i])
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", t.Name, name, err)
			}
			t.addColumn(&Column{
				Name:     name,
				Type:     typ,
				Nullable: nullable,
				Primary:  prop.Primary,
				Unique:   prop.Kind == schema.ReferenceOneToOne && len(prop.JoinColumns) == 1,
			})
		}
	}

	if len(t.PrimaryKey) > 0 {
		t.addIndex(&Index{
			Name:    p.IndexName(t.Name, t.PrimaryKey, platform.IndexPrimary),
			Columns: t.PrimaryKey,
			Unique:  true,
			Primary: true,
		})
	}

	for _, prop := range meta.Properties() {
		if !prop.HasColumns() {
			continue
		}
		cols := prop.FieldNames
		switch {
		case prop.Kind == schema.ReferenceScalar:
			if prop.Index {
				t.addIndex(&Index{Name: p.IndexName(t.Name, cols, platform.IndexPlain), Columns: cols})
			}
			if prop.Unique {
				t.addIndex(&Index{Name: p.IndexName(t.Name, cols, platform.IndexUnique), Columns: cols, Unique: true})
			}
		case prop.Primary:
		case prop.Kind == schema.ReferenceOneToOne || prop.Unique:
			t.addIndex(&Index{Name: p.IndexName(t.Name, cols, platform.IndexUnique), Columns: cols, Unique: true})
		default:
			t.addIndex(&Index{Name: p.IndexName(t.Name, cols, platform.IndexPlain), Columns: cols})
		}
	}

	for _, def := range meta.Indexes {
		t.addIndex(declaredIndex(p, meta, t.Name, def, false))
	}
	for _, def := range meta.Uniques {
		t.addIndex(declaredIndex(p, meta, t.Name, def, true))
	}

	for _, prop := range meta.Properties() {
		if !prop.IsOwningReference() {
			continue
		}
		target, err := rootEntity(reg, prop.Target)
		if err != nil {
			return nil, err
		}

		fk := &ForeignKey{
			Name:              p.IndexName(t.Name, prop.JoinColumns, platform.IndexForeign),
			Columns:           prop.JoinColumns,
			ReferencedTable:   qualified(target.Schema, target.TableName),
			ReferencedColumns: prop.ReferencedColumnNames,
			OnDelete:          string(prop.OnDelete),
			OnUpdate:          string(prop.OnUpdate),
		}
		if fk.OnUpdate == "" {
			fk.OnUpdate = string(schema.ActionCascade)
		}
		if fk.OnDelete == "" && prop.Nullable && !prop.Primary {
			fk.OnDelete = string(schema.ActionSetNull)
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}

	return t, nil
}

func declaredIndex(p platform.Platform, meta *schema.EntityMetadata, table string, def schema.IndexDef, unique bool) *Index {
	var cols []string
	for _, name := range def.Properties {
		if prop, ok := meta.Property(name); ok && len(prop.FieldNames) > 0 {
			cols = append(cols, prop.FieldNames...)
		} else {
			cols = append(cols, name)
		}
	}

	kind := platform.IndexPlain
	if unique {
		kind = platform.IndexUnique
	}
	name := def.Name
	if name == "" {
		name = p.IndexName(table, cols, kind)
	}
	return &Index{Name: name, Columns: cols, Unique: unique, Expression: def.Expression}
}

// referencedColumnType follows relational primary keys down to the scalar that defines the column
func referencedColumnType(reg *schema.Registry, p platform.Platform, entity, column string) (string, error) {
	meta, err := rootEntity(reg, entity)
	if err != nil {
		return "", err
	}

	for _, prop := range meta.Properties() {
		switch {
		case prop.Kind == schema.ReferenceScalar:
			for _, f := range prop.FieldNames {
				if f == column {
					c := prop.Clone()
					c.Autoincrement = false
					return p.ColumnType(c), nil
				}
			}
		case prop.IsOwningReference():
			for i, jc := range prop.JoinColumns {
				if jc == column {
					return referencedColumnType(reg, p, prop.Target, prop.ReferencedColumnNames[i])
				}
			}
		}
	}
	return "", fmt.Errorf("referenced column %s.%s not found", meta.TableName, column)
}

func rootEntity(reg *schema.Registry, name string) (*schema.EntityMetadata, error) {
	meta, err := reg.Find(name)
	if err != nil {
		return nil, err
	}
	if !meta.IsRoot() {
		return reg.Find(meta.Root)
	}
	return meta, nil
}

func qualified(schemaName, table string) string {
	if schemaName == "" {
		return table
	}
	return schemaName + "." + table
}

func (t *Table) addColumn(c *Column) {
	if _, ok := t.Column(c.Name); ok {
		return
	}
	t.Columns = append(t.Columns, c)
}

func (t *Table) addIndex(idx *Index) {
	if _, ok := t.Index(idx.Name); ok {
		return
	}
	t.Indexes = append(t.Indexes, idx)
}
