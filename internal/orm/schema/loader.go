package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Description is the document form of a set of entity descriptions
type Description struct {
	Entities []EntityDescription `yaml:"entities"`
}

// EntityDescription describes one entity in a description document
type EntityDescription struct {
	Name               string                `yaml:"name"`
	Table              string                `yaml:"table"`
	Schema             string                `yaml:"schema"`
	Extends            string                `yaml:"extends"`
	Abstract           bool                  `yaml:"abstract"`
	Embeddable         bool                  `yaml:"embeddable"`
	Discriminator      string                `yaml:"discriminator"`
	DiscriminatorValue string                `yaml:"discriminator_value"`
	DiscriminatorMap   map[string]string     `yaml:"discriminator_map"`
	Properties         []PropertyDescription `yaml:"properties"`
	Indexes            []IndexDescription    `yaml:"indexes"`
	Uniques            []IndexDescription    `yaml:"uniques"`
}

// PropertyDescription describes one property in a description document
type PropertyDescription struct {
	Name               string   `yaml:"name"`
	Kind               string   `yaml:"kind"`
	Type               string   `yaml:"type"`
	Target             string   `yaml:"target"`
	Primary            bool     `yaml:"primary"`
	Nullable           bool     `yaml:"nullable"`
	Unique             bool     `yaml:"unique"`
	Index              bool     `yaml:"index"`
	Version            bool     `yaml:"version"`
	Autoincrement      bool     `yaml:"autoincrement"`
	FieldNames         []string `yaml:"field_names"`
	JoinColumns        []string `yaml:"join_columns"`
	InverseJoinColumns []string `yaml:"inverse_join_columns"`
	PivotTable         string   `yaml:"pivot_table"`
	PivotEntity        string   `yaml:"pivot_entity"`
	FixedOrder         bool     `yaml:"fixed_order"`
	FixedOrderColumn   string   `yaml:"fixed_order_column"`
	MappedBy           string   `yaml:"mapped_by"`
	InversedBy         string   `yaml:"inversed_by"`
	Length             int      `yaml:"length"`
	Precision          int      `yaml:"precision"`
	Scale              int      `yaml:"scale"`
	ColumnType         string   `yaml:"column_type"`
	Default            *string  `yaml:"default"`
	Enum               []string `yaml:"enum"`
	OnDelete           string   `yaml:"on_delete"`
	OnUpdate           string   `yaml:"on_update"`
	Prefix             *string  `yaml:"prefix"`
}

// IndexDescription describes an index in a description document
type IndexDescription struct {
	Name       string   `yaml:"name"`
	Properties []string `yaml:"properties"`
	Expression string   `yaml:"expression"`
}

// LoadDescriptionFile reads entity descriptions from a YAML file
func LoadDescriptionFile(path string) ([]*EntityMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity descriptions: %w", err)
	}
	defer f.Close()

	return LoadDescriptions(f)
}

// LoadDescriptions decodes entity descriptions from YAML
func LoadDescriptions(r io.Reader) ([]*EntityMetadata, error) {
	var doc Description
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode entity descriptions: %w", err)
	}

	entities := make([]*EntityMetadata, 0, len(doc.Entities))
	for i := range doc.Entities {
		meta, err := doc.Entities[i].Builder().Build()
		if err != nil {
			return nil, err
		}
		entities = append(entities, meta)
	}
	return entities, nil
}

// Builder converts the description into an EntityBuilder
func (d *EntityDescription) Builder() *EntityBuilder {
	b := NewEntity(d.Name).
		Table(d.Table).
		Schema(d.Schema).
		Extends(d.Extends).
		Discriminator(d.Discriminator).
		DiscriminatorValue(d.DiscriminatorValue)
	if d.Abstract {
		b.Abstract()
	}
	if d.Embeddable {
		b.Embeddable()
	}
	if len(d.DiscriminatorMap) > 0 {
		b.DiscriminatorMap(d.DiscriminatorMap)
	}
	for _, idx := range d.Indexes {
		b.meta.Indexes = append(b.meta.Indexes, IndexDef{Name: idx.Name, Properties: idx.Properties, Expression: idx.Expression})
	}
	for _, idx := range d.Uniques {
		b.meta.Uniques = append(b.meta.Uniques, IndexDef{Name: idx.Name, Properties: idx.Properties, Expression: idx.Expression})
	}
	for i := range d.Properties {
		b.Prop(d.Properties[i].builder())
	}
	return b
}

func (d *PropertyDescription) builder() *PropertyBuilder {
	pb := &PropertyBuilder{prop: &Property{Name: d.Name}}

	kind, err := ParseReferenceKind(d.Kind)
	if err != nil {
		pb.err = err
		return pb
	}

	p := pb.prop
	p.Kind = kind
	p.Type = d.Type
	p.Target = d.Target
	p.Owner = kind.IsRelation() && d.MappedBy == "" && kind != ReferenceOneToMany
	p.Primary = d.Primary
	p.Nullable = d.Nullable
	p.Unique = d.Unique
	p.Index = d.Index
	p.Version = d.Version
	p.Autoincrement = d.Autoincrement
	p.FieldNames = d.FieldNames
	p.JoinColumns = d.JoinColumns
	p.InverseJoinColumns = d.InverseJoinColumns
	p.PivotTable = d.PivotTable
	p.PivotEntity = d.PivotEntity
	p.FixedOrder = d.FixedOrder || d.FixedOrderColumn != ""
	p.FixedOrderColumn = d.FixedOrderColumn
	p.InversedBy = d.InversedBy
	p.ColumnType = d.ColumnType
	p.Default = d.Default
	p.Enum = d.Enum
	p.Prefix = d.Prefix
	p.OnDelete = ReferentialAction(strings.ToLower(d.OnDelete))
	p.OnUpdate = ReferentialAction(strings.ToLower(d.OnUpdate))

	if d.MappedBy != "" {
		pb.MappedBy(d.MappedBy)
	}
	if d.Length != 0 {
		pb.Length(d.Length)
	}
	if d.Precision != 0 {
		pb.Precision(d.Precision, d.Scale)
	}
	return pb
}
