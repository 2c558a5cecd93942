// Package schema provides the canonical metadata model for entmap.
// It defines entities, their properties and relation kinds, the naming strategies that map logical
// names onto physical identifiers, and the resolver that completes partial descriptions into a
// frozen metadata graph shared by the schema differ and the query compiler.
package schema

import (
	"fmt"
	"strings"
)

// ReferenceKind represents the relation kind of a property
type ReferenceKind int

const (
	ReferenceScalar ReferenceKind = iota
	ReferenceManyToOne
	ReferenceOneToOne
	ReferenceOneToMany
	ReferenceManyToMany
	ReferenceEmbedded
)

// String returns the string representation of the reference kind
func (k ReferenceKind) String() string {
	switch k {
	case ReferenceScalar:
		return "scalar"
	case ReferenceManyToOne:
		return "m:1"
	case ReferenceOneToOne:
		return "1:1"
	case ReferenceOneToMany:
		return "1:m"
	case ReferenceManyToMany:
		return "m:n"
	case ReferenceEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// ParseReferenceKind converts a string to a ReferenceKind
func ParseReferenceKind(s string) (ReferenceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scalar":
		return ReferenceScalar, nil
	case "m:1", "many_to_one", "manytoone":
		return ReferenceManyToOne, nil
	case "1:1", "one_to_one", "onetoone":
		return ReferenceOneToOne, nil
	case "1:m", "one_to_many", "onetomany":
		return ReferenceOneToMany, nil
	case "m:n", "many_to_many", "manytomany":
		return ReferenceManyToMany, nil
	case "embedded":
		return ReferenceEmbedded, nil
	default:
		return 0, fmt.Errorf("unknown relation kind: %s", s)
	}
}

// IsRelation reports whether the kind points at another entity
func (k ReferenceKind) IsRelation() bool {
	return k == ReferenceManyToOne ||
		k == ReferenceOneToOne ||
		k == ReferenceOneToMany ||
		k == ReferenceManyToMany
}

// ReferentialAction represents ON DELETE / ON UPDATE rules for foreign keys
type ReferentialAction string

const (
	ActionNone     ReferentialAction = ""
	ActionCascade  ReferentialAction = "cascade"
	ActionSetNull  ReferentialAction = "set null"
	ActionRestrict ReferentialAction = "restrict"
	ActionNoAction ReferentialAction = "no action"
)

// Property describes a single property of an entity.
//
// Before resolution only Name, Kind, Type/Target and the explicit overrides are expected to be set.
// The resolver fills FieldNames, JoinColumns, InverseJoinColumns, ReferencedColumnNames and the
// pivot information.
type Property struct {
	Name   string
	Kind   ReferenceKind
	Type   string // logical type tag for scalars ("string", "int", "uuid", ...)
	Target string // target entity for relations, embeddable for embedded properties

	FieldNames            []string
	JoinColumns           []string
	InverseJoinColumns    []string
	ReferencedColumnNames []string

	// m:n
	PivotTable       string
	PivotEntity      string
	FixedOrder       bool
	FixedOrderColumn string

	MappedBy   string
	InversedBy string
	Owner      bool

	Primary       bool
	Nullable      bool
	Unique        bool
	Index         bool
	Version       bool
	Autoincrement bool

	Length     int
	Precision  int
	Scale      int
	ColumnType string  // explicit column type, bypasses type mapping
	Default    *string // raw SQL default expression
	Enum       []string

	OnDelete ReferentialAction
	OnUpdate ReferentialAction

	// Embedded
	Prefix       *string  // nil means "<name>_", empty string disables the prefix
	EmbeddedPath []string // set on flattened properties, e.g. ["address", "city"]

	// Inherited marks properties copied from another class of the same hierarchy
	Inherited bool
}

// Clone returns a deep copy of the property
func (p *Property) Clone() *Property {
	c := *p
	c.FieldNames = cloneStrings(p.FieldNames)
	c.JoinColumns = cloneStrings(p.JoinColumns)
	c.InverseJoinColumns = cloneStrings(p.InverseJoinColumns)
	c.ReferencedColumnNames = cloneStrings(p.ReferencedColumnNames)
	c.Enum = cloneStrings(p.Enum)
	c.EmbeddedPath = cloneStrings(p.EmbeddedPath)
	if p.Default != nil {
		d := *p.Default
		c.Default = &d
	}
	if p.Prefix != nil {
		pre := *p.Prefix
		c.Prefix = &pre
	}
	return &c
}

// IsOwningReference reports whether the property stores foreign key columns on its own table
func (p *Property) IsOwningReference() bool {
	if p.Kind == ReferenceManyToOne {
		return true
	}
	return p.Kind == ReferenceOneToOne && p.MappedBy == ""
}

// HasColumns reports whether the property maps onto columns of its entity's table
func (p *Property) HasColumns() bool {
	switch p.Kind {
	case ReferenceScalar:
		return true
	case ReferenceManyToOne:
		return true
	case ReferenceOneToOne:
		return p.IsOwningReference()
	default:
		return false
	}
}

// IndexDef is an index or unique constraint declared on an entity
type IndexDef struct {
	Name       string
	Properties []string
	Expression string // raw index expression, used verbatim when set
}

// EntityMetadata is the resolved, canonical description of an entity
type EntityMetadata struct {
	Name      string
	TableName string
	Schema    string

	properties []*Property
	propIndex  map[string]int

	PrimaryKeys []string
	Indexes     []IndexDef
	Uniques     []IndexDef

	Extends    string
	Abstract   bool
	Embeddable bool
	Pivot      bool

	// Single table inheritance
	DiscriminatorColumn string
	DiscriminatorValue  string
	DiscriminatorMap    map[string]string // value -> entity name, kept on the root
	Root                string            // root entity of the hierarchy; equals Name for roots

	VersionProperty string
}

// NewEntityMetadata creates a new EntityMetadata
func NewEntityMetadata(name string) *EntityMetadata {
	return &EntityMetadata{
		Name:      name,
		propIndex: make(map[string]int),
	}
}

// AddProperty appends a property, replacing an existing one with the same name in place
func (m *EntityMetadata) AddProperty(p *Property) {
	if m.propIndex == nil {
		m.propIndex = make(map[string]int)
	}
	if i, ok := m.propIndex[p.Name]; ok {
		m.properties[i] = p
		return
	}
	m.propIndex[p.Name] = len(m.properties)
	m.properties = append(m.properties, p)
}

// Property returns the property with the given name
func (m *EntityMetadata) Property(name string) (*Property, bool) {
	i, ok := m.propIndex[name]
	if !ok {
		return nil, false
	}
	return m.properties[i], true
}

// HasProperty returns true if the entity has a property with the given name
func (m *EntityMetadata) HasProperty(name string) bool {
	_, ok := m.propIndex[name]
	return ok
}

// Properties returns the properties in declaration order
func (m *EntityMetadata) Properties() []*Property {
	out := make([]*Property, len(m.properties))
	copy(out, m.properties)
	return out
}

// PrimaryKeyProperties returns the primary key properties in key order
func (m *EntityMetadata) PrimaryKeyProperties() []*Property {
	out := make([]*Property, 0, len(m.PrimaryKeys))
	for _, name := range m.PrimaryKeys {
		if p, ok := m.Property(name); ok {
			out = append(out, p)
		}
	}
	return out
}

// PrimaryKeyColumns returns the physical primary key columns in key order
func (m *EntityMetadata) PrimaryKeyColumns() []string {
	var cols []string
	for _, p := range m.PrimaryKeyProperties() {
		cols = append(cols, p.FieldNames...)
	}
	return cols
}

// IsCompositePK reports whether the primary key spans more than one column
func (m *EntityMetadata) IsCompositePK() bool {
	return len(m.PrimaryKeyColumns()) > 1
}

// IsRoot reports whether the entity owns its table
func (m *EntityMetadata) IsRoot() bool {
	return m.Root == "" || m.Root == m.Name
}

// HasTable reports whether the entity maps onto a table of its own
func (m *EntityMetadata) HasTable() bool {
	return !m.Embeddable && !(m.Abstract && m.DiscriminatorColumn == "") && m.IsRoot()
}

// Clone returns a deep copy of the entity metadata
func (m *EntityMetadata) Clone() *EntityMetadata {
	c := *m
	c.properties = make([]*Property, 0, len(m.properties))
	c.propIndex = make(map[string]int, len(m.properties))
	for _, p := range m.properties {
		c.AddProperty(p.Clone())
	}
	c.PrimaryKeys = cloneStrings(m.PrimaryKeys)
	c.Indexes = cloneIndexes(m.Indexes)
	c.Uniques = cloneIndexes(m.Uniques)
	if m.DiscriminatorMap != nil {
		c.DiscriminatorMap = make(map[string]string, len(m.DiscriminatorMap))
		for k, v := range m.DiscriminatorMap {
			c.DiscriminatorMap[k] = v
		}
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneIndexes(idx []IndexDef) []IndexDef {
	if idx == nil {
		return nil
	}
	out := make([]IndexDef, len(idx))
	for i, d := range idx {
		out[i] = IndexDef{Name: d.Name, Properties: cloneStrings(d.Properties), Expression: d.Expression}
	}
	return out
}

// toSnakeCase converts a string to snake_case
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// Add underscore on a camelCase boundary or at the end of an acronym ("HTTPServer" -> "http_server")
			if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' && prev != '_' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
