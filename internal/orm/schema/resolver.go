package schema

import (
	"go.uber.org/zap"
)

// Resolver completes partial entity descriptions into a frozen metadata graph
type Resolver struct {
	naming NamingStrategy
	logger *zap.Logger
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithLogger sets the logger used during resolution
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver using the given naming strategy
func NewResolver(naming NamingStrategy, opts ...ResolverOption) *Resolver {
	if naming == nil {
		naming = NewUnderscoreNamingStrategy()
	}
	r := &Resolver{
		naming: naming,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NamingStrategy returns the naming strategy used by the resolver
func (r *Resolver) NamingStrategy() NamingStrategy {
	return r.naming
}

// Resolve runs a full resolution pass over the given entities.
//
// The input is never modified: every entity is copied into a new registry first. Any
// MetadataResolutionError aborts the whole pass and no registry is returned.
func (r *Resolver) Resolve(entities []*EntityMetadata) (*Registry, error) {
	reg := NewRegistry()
	for _, e := range entities {
		if err := reg.Register(e.Clone()); err != nil {
			return nil, &MetadataResolutionError{Entity: e.Name, Message: err.Error()}
		}
	}

	res := &resolution{
		naming:    r.naming,
		logger:    r.logger,
		reg:       reg,
		pkCache:   make(map[string][]string),
		pkPending: make(map[string]bool),
		owning:    make(map[*Property]bool),
		pivots:    make(map[string]*EntityMetadata),
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"extends", res.checkExtends},
		{"inheritance", res.resolveInheritance},
		{"references", res.checkReferences},
		{"embeddables", res.flattenEmbeddables},
		{"scalars", res.initScalars},
		{"primary keys", res.initPrimaryKeys},
		{"bidirectional", res.wireBidirectional},
		{"owning references", res.initOwningReferences},
		{"pivots", res.resolvePivots},
		{"inverse references", res.initInverseReferences},
		{"inverse collections", res.initInverseCollections},
		{"arity", res.checkArity},
		{"versions", res.initVersions},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			r.logger.Debug("metadata resolution aborted",
				zap.String("step", step.name),
				zap.Error(err))
			return nil, err
		}
	}

	reg.freeze()

	stats := reg.GetStats()
	r.logger.Info("metadata resolved",
		zap.Int("entities", stats.TotalEntities),
		zap.Int("tables", stats.TotalTables),
		zap.Int("relations", stats.TotalRelations),
		zap.Int("pivots", stats.PivotEntities))

	return reg, nil
}

// resolution holds the state of a single resolution pass
type resolution struct {
	naming NamingStrategy
	logger *zap.Logger
	reg    *Registry

	pkCache   map[string][]string
	pkPending map[string]bool
	owning    map[*Property]bool
	pivots    map[string]*EntityMetadata // pivot table -> synthesized entity
}

func (res *resolution) entity(name string) *EntityMetadata {
	meta, _ := res.reg.Get(name)
	return meta
}

// rootOf returns the entity owning the table of meta
func (res *resolution) rootOf(meta *EntityMetadata) *EntityMetadata {
	if meta.IsRoot() {
		return meta
	}
	if root := res.entity(meta.Root); root != nil {
		return root
	}
	return meta
}

// mapped reports whether meta lives in a table, directly or through its single table root
func (res *resolution) mapped(meta *EntityMetadata) bool {
	return res.rootOf(meta).HasTable()
}

// checkReferences verifies every relation target, embeddable and mappedBy/inversedBy name
func (res *resolution) checkReferences() error {
	for _, meta := range res.reg.All() {
		for _, prop := range meta.Properties() {
			if prop.Kind == ReferenceScalar {
				continue
			}

			target := res.entity(prop.Target)
			if target == nil {
				return resolutionErrorf(meta.Name, prop.Name, "unknown %s target %q", prop.Kind, prop.Target)
			}

			if prop.Kind == ReferenceEmbedded {
				if !target.Embeddable {
					return resolutionErrorf(meta.Name, prop.Name, "%s is not embeddable", target.Name)
				}
				continue
			}
			if target.Embeddable {
				return resolutionErrorf(meta.Name, prop.Name, "relation target %s is an embeddable", target.Name)
			}
			if !res.mapped(target) {
				return resolutionErrorf(meta.Name, prop.Name, "relation target %s has no table", target.Name)
			}

			if prop.MappedBy != "" {
				if err := res.checkCounterpart(meta, prop, target, prop.MappedBy, "mappedBy"); err != nil {
					return err
				}
			}
			if prop.InversedBy != "" {
				if err := res.checkCounterpart(meta, prop, target, prop.InversedBy, "inversedBy"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (res *resolution) checkCounterpart(meta *EntityMetadata, prop *Property, target *EntityMetadata, name, attr string) error {
	other, ok := target.Property(name)
	if !ok {
		return resolutionErrorf(meta.Name, prop.Name, "%s references missing property %s.%s", attr, target.Name, name)
	}
	if !res.sameHierarchy(other.Target, meta.Name) {
		return resolutionErrorf(meta.Name, prop.Name, "%s property %s.%s points at %s", attr, target.Name, name, other.Target)
	}
	if !counterpartKinds(prop.Kind, other.Kind) {
		return resolutionErrorf(meta.Name, prop.Name, "%s relation cannot pair with %s property %s.%s",
			prop.Kind, other.Kind, target.Name, name)
	}
	return nil
}

// sameHierarchy reports whether entity a is b or one of b's ancestors or descendants
func (res *resolution) sameHierarchy(a, b string) bool {
	if a == b {
		return true
	}
	for _, name := range []string{a, b} {
		other := b
		if name == b {
			other = a
		}
		for cur := res.entity(name); cur != nil && cur.Extends != ""; cur = res.entity(cur.Extends) {
			if cur.Extends == other {
				return true
			}
		}
	}
	return false
}

func counterpartKinds(a, b ReferenceKind) bool {
	switch a {
	case ReferenceOneToMany:
		return b == ReferenceManyToOne
	case ReferenceManyToOne:
		return b == ReferenceOneToMany
	default:
		return a == b
	}
}

// initScalars assigns default table and column names
func (res *resolution) initScalars() error {
	all := res.reg.All()
	for _, meta := range all {
		if meta.IsRoot() && meta.TableName == "" && !meta.Embeddable {
			meta.TableName = res.naming.ClassToTableName(meta.Name)
		}
	}
	for _, meta := range all {
		if !meta.IsRoot() {
			meta.TableName = res.rootOf(meta).TableName
		}
		for _, prop := range meta.properties {
			if prop.Kind == ReferenceScalar && len(prop.FieldNames) == 0 {
				prop.FieldNames = []string{res.naming.PropertyToColumnName(prop.Name)}
			}
		}
	}
	return nil
}

// initPrimaryKeys collects primary keys in declaration order
func (res *resolution) initPrimaryKeys() error {
	for _, meta := range res.reg.All() {
		if meta.Embeddable {
			continue
		}
		if len(meta.PrimaryKeys) == 0 {
			for _, prop := range meta.properties {
				if prop.Primary {
					meta.PrimaryKeys = append(meta.PrimaryKeys, prop.Name)
				}
			}
		} else {
			for _, name := range meta.PrimaryKeys {
				prop, ok := meta.Property(name)
				if !ok {
					return resolutionErrorf(meta.Name, name, "primary key references missing property")
				}
				prop.Primary = true
			}
		}

		for _, name := range meta.PrimaryKeys {
			prop, _ := meta.Property(name)
			if prop.Kind != ReferenceScalar && !prop.IsOwningReference() {
				return resolutionErrorf(meta.Name, name, "%s property cannot be part of the primary key", prop.Kind)
			}
			prop.Nullable = false
		}

		if len(meta.PrimaryKeys) == 0 && meta.HasTable() {
			return resolutionErrorf(meta.Name, "", "entity has no primary key")
		}
	}
	return nil
}

// wireBidirectional fills the unset side of bidirectional pairs
func (res *resolution) wireBidirectional() error {
	for _, meta := range res.reg.All() {
		for _, prop := range meta.properties {
			if !prop.Kind.IsRelation() {
				continue
			}
			target := res.entity(prop.Target)

			if prop.MappedBy != "" {
				other, _ := target.Property(prop.MappedBy)
				if other.InversedBy == "" && other.MappedBy == "" {
					other.InversedBy = prop.Name
					res.logger.Debug("wired inversedBy",
						zap.String("entity", target.Name),
						zap.String("property", other.Name),
						zap.String("inversedBy", prop.Name))
				}
				continue
			}

			if prop.InversedBy != "" {
				other, _ := target.Property(prop.InversedBy)
				if other.MappedBy == "" && other.InversedBy == "" && other.Kind != ReferenceManyToOne {
					other.MappedBy = prop.Name
					other.Owner = false
					res.logger.Debug("wired mappedBy",
						zap.String("entity", target.Name),
						zap.String("property", other.Name),
						zap.String("mappedBy", prop.Name))
				}
			}
		}
	}

	for _, meta := range res.reg.All() {
		for _, prop := range meta.properties {
			if prop.Kind == ReferenceOneToOne || prop.Kind == ReferenceManyToMany {
				prop.Owner = prop.MappedBy == ""
			}
			if prop.Kind == ReferenceManyToOne {
				prop.Owner = true
			}
		}
	}
	return nil
}

// initOwningReferences derives join columns of m:1 and owning 1:1 properties
func (res *resolution) initOwningReferences() error {
	for _, meta := range res.reg.All() {
		if !res.mapped(meta) {
			continue
		}
		for _, prop := range meta.properties {
			if prop.IsOwningReference() {
				if err := res.resolveOwning(meta, prop); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolveOwning derives one join column per target primary key column, in key order
func (res *resolution) resolveOwning(meta *EntityMetadata, prop *Property) error {
	if res.owning[prop] {
		return nil
	}

	target := res.entity(prop.Target)
	refCols, err := res.primaryKeyColumns(target)
	if err != nil {
		return err
	}

	if len(prop.ReferencedColumnNames) == 0 {
		prop.ReferencedColumnNames = cloneStrings(refCols)
	}
	if len(prop.JoinColumns) == 0 {
		if len(prop.FieldNames) > 0 {
			prop.JoinColumns = cloneStrings(prop.FieldNames)
		} else {
			for _, col := range prop.ReferencedColumnNames {
				prop.JoinColumns = append(prop.JoinColumns, res.naming.JoinKeyColumnName(prop.Name, col))
			}
		}
	}
	prop.FieldNames = cloneStrings(prop.JoinColumns)
	res.owning[prop] = true

	res.logger.Debug("resolved join columns",
		zap.String("entity", meta.Name),
		zap.String("property", prop.Name),
		zap.Strings("columns", prop.JoinColumns))
	return nil
}

// primaryKeyColumns returns the physical primary key columns of meta, resolving relational keys on demand
func (res *resolution) primaryKeyColumns(meta *EntityMetadata) ([]string, error) {
	root := res.rootOf(meta)
	if cols, ok := res.pkCache[root.Name]; ok {
		return cols, nil
	}
	if res.pkPending[root.Name] {
		return nil, resolutionErrorf(root.Name, "", "primary key references form a cycle")
	}
	res.pkPending[root.Name] = true
	defer delete(res.pkPending, root.Name)

	var cols []string
	for _, prop := range root.PrimaryKeyProperties() {
		if prop.IsOwningReference() {
			if err := res.resolveOwning(root, prop); err != nil {
				return nil, err
			}
		}
		cols = append(cols, prop.FieldNames...)
	}
	if len(cols) == 0 {
		return nil, resolutionErrorf(root.Name, "", "entity has no primary key")
	}

	res.pkCache[root.Name] = cols
	return cols, nil
}

// initInverseReferences mirrors the owner's join columns on 1:m and inverse 1:1 properties
func (res *resolution) initInverseReferences() error {
	for _, meta := range res.reg.All() {
		if !res.mapped(meta) {
			continue
		}
		for _, prop := range meta.properties {
			inverse := prop.Kind == ReferenceOneToMany || (prop.Kind == ReferenceOneToOne && prop.MappedBy != "")
			if !inverse {
				continue
			}

			target := res.entity(prop.Target)
			owner, _ := target.Property(prop.MappedBy)
			if owner != nil && len(owner.JoinColumns) > 0 {
				prop.JoinColumns = cloneStrings(owner.JoinColumns)
				prop.ReferencedColumnNames = cloneStrings(owner.ReferencedColumnNames)
			} else {
				prop.JoinColumns = []string{res.naming.JoinColumnName(prop.MappedBy)}
				cols, err := res.primaryKeyColumns(meta)
				if err != nil {
					return err
				}
				prop.ReferencedColumnNames = cloneStrings(cols)
			}
			prop.FieldNames = nil
		}
	}
	return nil
}

// initInverseCollections copies pivot information from the owning side of m:n pairs
func (res *resolution) initInverseCollections() error {
	for _, meta := range res.reg.All() {
		if !res.mapped(meta) {
			continue
		}
		for _, prop := range meta.properties {
			if prop.Kind != ReferenceManyToMany || prop.MappedBy == "" {
				continue
			}

			target := res.entity(prop.Target)
			owner, _ := target.Property(prop.MappedBy)
			if owner.PivotEntity == "" {
				return resolutionErrorf(meta.Name, prop.Name, "owning side %s.%s has no pivot", target.Name, owner.Name)
			}

			prop.PivotTable = owner.PivotTable
			prop.PivotEntity = owner.PivotEntity
			prop.FixedOrder = owner.FixedOrder
			prop.FixedOrderColumn = owner.FixedOrderColumn
			prop.JoinColumns = cloneStrings(owner.InverseJoinColumns)
			prop.InverseJoinColumns = cloneStrings(owner.JoinColumns)

			cols, err := res.primaryKeyColumns(meta)
			if err != nil {
				return err
			}
			prop.ReferencedColumnNames = cloneStrings(cols)
		}
	}
	return nil
}

// checkArity enforces that every relation carries one join column per target primary key column
func (res *resolution) checkArity() error {
	for _, meta := range res.reg.All() {
		if !res.mapped(meta) {
			continue
		}
		for _, prop := range meta.properties {
			if !prop.Kind.IsRelation() {
				continue
			}

			var want []string
			var got []string
			var err error
			switch {
			case prop.IsOwningReference():
				want, err = res.primaryKeyColumns(res.entity(prop.Target))
				got = prop.JoinColumns
			case prop.Kind == ReferenceManyToMany:
				if want, err = res.primaryKeyColumns(res.entity(prop.Target)); err == nil {
					got = prop.InverseJoinColumns
					if own, _ := res.primaryKeyColumns(meta); len(own) != len(prop.JoinColumns) {
						return resolutionErrorf(meta.Name, prop.Name, "expected %d join columns, got %d",
							len(own), len(prop.JoinColumns))
					}
				}
			default:
				want, err = res.primaryKeyColumns(meta)
				got = prop.JoinColumns
			}
			if err != nil {
				return err
			}
			if len(want) != len(got) {
				return resolutionErrorf(meta.Name, prop.Name, "expected %d join columns, got %d", len(want), len(got))
			}
		}
	}
	return nil
}

// initVersions records the optimistic lock version property
func (res *resolution) initVersions() error {
	for _, meta := range res.reg.All() {
		meta.VersionProperty = ""
		for _, prop := range meta.properties {
			if prop.Version {
				if meta.VersionProperty != "" && !prop.Inherited {
					return resolutionErrorf(meta.Name, prop.Name, "duplicate version property (already %s)", meta.VersionProperty)
				}
				if meta.VersionProperty == "" {
					meta.VersionProperty = prop.Name
				}
			}
		}
	}
	return nil
}
