package schema

import (
	"fmt"
	"strings"
)

// EntityBuilder builds a partial EntityMetadata from an explicit description
type EntityBuilder struct {
	meta   *EntityMetadata
	props  []*PropertyBuilder
	errors []error
}

// NewEntity starts the description of an entity
func NewEntity(name string) *EntityBuilder {
	return &EntityBuilder{meta: NewEntityMetadata(name)}
}

// Table sets an explicit table name
func (b *EntityBuilder) Table(name string) *EntityBuilder {
	b.meta.TableName = name
	return b
}

// Schema sets the database schema the table lives in
func (b *EntityBuilder) Schema(name string) *EntityBuilder {
	b.meta.Schema = name
	return b
}

// Extends declares the parent entity
func (b *EntityBuilder) Extends(parent string) *EntityBuilder {
	b.meta.Extends = parent
	return b
}

// Abstract marks the entity abstract
func (b *EntityBuilder) Abstract() *EntityBuilder {
	b.meta.Abstract = true
	return b
}

// Embeddable marks the entity as an embeddable value object
func (b *EntityBuilder) Embeddable() *EntityBuilder {
	b.meta.Embeddable = true
	return b
}

// Discriminator declares single table inheritance rooted at this entity
func (b *EntityBuilder) Discriminator(column string) *EntityBuilder {
	b.meta.DiscriminatorColumn = column
	return b
}

// DiscriminatorValue sets an explicit discriminator value
func (b *EntityBuilder) DiscriminatorValue(value string) *EntityBuilder {
	b.meta.DiscriminatorValue = value
	return b
}

// DiscriminatorMap sets explicit value -> entity mappings on a root
func (b *EntityBuilder) DiscriminatorMap(m map[string]string) *EntityBuilder {
	b.meta.DiscriminatorMap = m
	return b
}

// Prop adds properties
func (b *EntityBuilder) Prop(props ...*PropertyBuilder) *EntityBuilder {
	b.props = append(b.props, props...)
	return b
}

// Index declares an index over the given properties
func (b *EntityBuilder) Index(name string, properties ...string) *EntityBuilder {
	b.meta.Indexes = append(b.meta.Indexes, IndexDef{Name: name, Properties: properties})
	return b
}

// Unique declares a unique constraint over the given properties
func (b *EntityBuilder) Unique(name string, properties ...string) *EntityBuilder {
	b.meta.Uniques = append(b.meta.Uniques, IndexDef{Name: name, Properties: properties})
	return b
}

// Build returns the described entity or every error found while building it
func (b *EntityBuilder) Build() (*EntityMetadata, error) {
	b.errors = b.errors[:0]
	meta := b.meta.Clone()
	meta.properties = nil
	meta.propIndex = make(map[string]int)

	for _, pb := range b.props {
		if pb.err != nil {
			b.errors = append(b.errors, fmt.Errorf("property %s: %w", pb.prop.Name, pb.err))
			continue
		}
		if meta.HasProperty(pb.prop.Name) {
			b.errors = append(b.errors, fmt.Errorf("property %s: declared twice", pb.prop.Name))
			continue
		}
		meta.AddProperty(pb.prop.Clone())
	}

	if len(b.errors) > 0 {
		var msgs []string
		for _, err := range b.errors {
			msgs = append(msgs, err.Error())
		}
		return nil, fmt.Errorf("entity %s: building failed with %d errors:\n%s",
			b.meta.Name, len(b.errors), strings.Join(msgs, "\n"))
	}

	return meta, nil
}

// MustBuild is Build that panics on error; intended for statically declared entities
func (b *EntityBuilder) MustBuild() *EntityMetadata {
	meta, err := b.Build()
	if err != nil {
		panic(err)
	}
	return meta
}

// PropertyBuilder describes one property
type PropertyBuilder struct {
	prop *Property
	err  error
}

// Scalar describes a scalar property with a logical type tag
func Scalar(name, typ string) *PropertyBuilder {
	return &PropertyBuilder{prop: &Property{Name: name, Kind: ReferenceScalar, Type: typ}}
}

// ManyToOne describes an owning reference to target
func ManyToOne(name, target string) *PropertyBuilder {
	return &PropertyBuilder{prop: &Property{Name: name, Kind: ReferenceManyToOne, Target: target, Owner: true}}
}

// OneToOne describes an owning 1:1 reference; use MappedBy for the inverse side
func OneToOne(name, target string) *PropertyBuilder {
	return &PropertyBuilder{prop: &Property{Name: name, Kind: ReferenceOneToOne, Target: target, Owner: true}}
}

// OneToMany describes the inverse side of a m:1 reference
func OneToMany(name, target, mappedBy string) *PropertyBuilder {
	return &PropertyBuilder{prop: &Property{Name: name, Kind: ReferenceOneToMany, Target: target, MappedBy: mappedBy}}
}

// ManyToMany describes a m:n collection; use MappedBy for the inverse side
func ManyToMany(name, target string) *PropertyBuilder {
	return &PropertyBuilder{prop: &Property{Name: name, Kind: ReferenceManyToMany, Target: target, Owner: true}}
}

// Embedded describes an embedded value object
func Embedded(name, embeddable string) *PropertyBuilder {
	return &PropertyBuilder{prop: &Property{Name: name, Kind: ReferenceEmbedded, Target: embeddable}}
}

// Primary marks the property as (part of) the primary key
func (p *PropertyBuilder) Primary() *PropertyBuilder {
	p.prop.Primary = true
	return p
}

// Nullable marks the property nullable
func (p *PropertyBuilder) Nullable() *PropertyBuilder {
	p.prop.Nullable = true
	return p
}

// Unique marks the property unique
func (p *PropertyBuilder) Unique() *PropertyBuilder {
	p.prop.Unique = true
	return p
}

// Index requests an index on the property's columns
func (p *PropertyBuilder) Index() *PropertyBuilder {
	p.prop.Index = true
	return p
}

// Version marks the property as the optimistic lock version
func (p *PropertyBuilder) Version() *PropertyBuilder {
	p.prop.Version = true
	return p
}

// Autoincrement marks the property as database generated
func (p *PropertyBuilder) Autoincrement() *PropertyBuilder {
	p.prop.Autoincrement = true
	return p
}

// FieldName overrides the column name(s)
func (p *PropertyBuilder) FieldName(names ...string) *PropertyBuilder {
	p.prop.FieldNames = names
	return p
}

// JoinColumns overrides the foreign key columns
func (p *PropertyBuilder) JoinColumns(names ...string) *PropertyBuilder {
	p.prop.JoinColumns = names
	return p
}

// InverseJoinColumns overrides the pivot columns referencing the target
func (p *PropertyBuilder) InverseJoinColumns(names ...string) *PropertyBuilder {
	p.prop.InverseJoinColumns = names
	return p
}

// PivotTable overrides the m:n pivot table name
func (p *PropertyBuilder) PivotTable(name string) *PropertyBuilder {
	p.prop.PivotTable = name
	return p
}

// PivotEntity uses an explicitly declared pivot entity
func (p *PropertyBuilder) PivotEntity(name string) *PropertyBuilder {
	p.prop.PivotEntity = name
	return p
}

// FixedOrder keeps collection order through an autoincrement pivot column
func (p *PropertyBuilder) FixedOrder(column string) *PropertyBuilder {
	p.prop.FixedOrder = true
	p.prop.FixedOrderColumn = column
	return p
}

// MappedBy declares the inverse side of a bidirectional relation
func (p *PropertyBuilder) MappedBy(name string) *PropertyBuilder {
	if p.prop.Kind == ReferenceManyToOne {
		p.err = fmt.Errorf("m:1 relation is always the owning side")
		return p
	}
	p.prop.MappedBy = name
	p.prop.Owner = false
	return p
}

// InversedBy names the inverse property on the target
func (p *PropertyBuilder) InversedBy(name string) *PropertyBuilder {
	p.prop.InversedBy = name
	return p
}

// Length sets the length of string columns
func (p *PropertyBuilder) Length(n int) *PropertyBuilder {
	if n <= 0 {
		p.err = fmt.Errorf("length must be positive, got %d", n)
		return p
	}
	p.prop.Length = n
	return p
}

// Precision sets precision and scale of decimal columns
func (p *PropertyBuilder) Precision(precision, scale int) *PropertyBuilder {
	if precision <= 0 || scale < 0 || scale > precision {
		p.err = fmt.Errorf("invalid precision %d,%d", precision, scale)
		return p
	}
	p.prop.Precision = precision
	p.prop.Scale = scale
	return p
}

// ColumnType sets an explicit column type
func (p *PropertyBuilder) ColumnType(t string) *PropertyBuilder {
	p.prop.ColumnType = t
	return p
}

// Default sets a raw SQL default expression
func (p *PropertyBuilder) Default(expr string) *PropertyBuilder {
	p.prop.Default = &expr
	return p
}

// Enum restricts a scalar to the given values
func (p *PropertyBuilder) Enum(values ...string) *PropertyBuilder {
	p.prop.Enum = values
	return p
}

// OnDelete sets the foreign key delete rule
func (p *PropertyBuilder) OnDelete(action ReferentialAction) *PropertyBuilder {
	p.prop.OnDelete = action
	return p
}

// OnUpdate sets the foreign key update rule
func (p *PropertyBuilder) OnUpdate(action ReferentialAction) *PropertyBuilder {
	p.prop.OnUpdate = action
	return p
}

// Prefix sets the column prefix of an embedded property; "" disables prefixing
func (p *PropertyBuilder) Prefix(prefix string) *PropertyBuilder {
	p.prop.Prefix = &prefix
	return p
}

// Property returns a copy of the described property
func (p *PropertyBuilder) Property() *Property {
	return p.prop.Clone()
}
