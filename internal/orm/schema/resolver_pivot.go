package schema

import (
	"go.uber.org/zap"
)

const defaultFixedOrderColumn = "id"

// pivotPlan is a m:n owning side waiting for its pivot entity
type pivotPlan struct {
	owner *EntityMetadata
	prop  *Property
	table string
}

// resolvePivots runs in two phases: every pivot is planned against the unchanged graph, then
// the planned pivot entities are synthesized and registered.
func (res *resolution) resolvePivots() error {
	plans, err := res.planPivots()
	if err != nil {
		return err
	}
	for _, plan := range plans {
		if err := res.synthesizePivot(plan); err != nil {
			return err
		}
	}
	return nil
}

func (res *resolution) planPivots() ([]pivotPlan, error) {
	var plans []pivotPlan
	for _, meta := range res.reg.All() {
		if !res.mapped(meta) {
			continue
		}
		for _, prop := range meta.properties {
			if prop.Kind != ReferenceManyToMany || prop.MappedBy != "" {
				continue
			}

			plan := pivotPlan{owner: meta, prop: prop}
			if prop.PivotEntity != "" {
				pivot := res.entity(prop.PivotEntity)
				if pivot == nil {
					return nil, resolutionErrorf(meta.Name, prop.Name, "unknown pivot entity %q", prop.PivotEntity)
				}
				plan.table = pivot.TableName
			} else if prop.PivotTable != "" {
				plan.table = prop.PivotTable
			} else {
				target := res.rootOf(res.entity(prop.Target))
				plan.table = res.naming.JoinTableName(res.rootOf(meta).TableName, target.TableName, prop.Name)
			}
			plans = append(plans, plan)
		}
	}
	return plans, nil
}

func (res *resolution) synthesizePivot(plan pivotPlan) error {
	if plan.prop.PivotEntity != "" {
		return res.useExplicitPivot(plan)
	}

	owner := res.rootOf(plan.owner)
	target := res.rootOf(res.entity(plan.prop.Target))

	if pivot, ok := res.pivots[plan.table]; ok {
		// The same relation reached again through a single table hierarchy
		ownerProp, inverseProp := pivotReferences(pivot)
		if ownerProp.Target == owner.Name && inverseProp.Target == target.Name {
			return res.bindPivot(plan.prop, pivot, ownerProp, inverseProp, owner)
		}
		return resolutionErrorf(plan.owner.Name, plan.prop.Name, "pivot table %s is already used by another relation", plan.table)
	}
	if res.reg.Exists(plan.table) {
		return resolutionErrorf(plan.owner.Name, plan.prop.Name, "pivot table %s clashes with entity of the same name", plan.table)
	}

	ownerName := toSnakeCase(owner.Name)
	inverseName := toSnakeCase(target.Name)
	if ownerName == inverseName {
		ownerName += "_1"
		inverseName += "_2"
	}

	pivot := NewEntityMetadata(plan.table)
	pivot.TableName = plan.table
	pivot.Schema = owner.Schema
	pivot.Pivot = true
	pivot.Root = pivot.Name

	if plan.prop.FixedOrder {
		col := plan.prop.FixedOrderColumn
		if col == "" {
			col = defaultFixedOrderColumn
		}
		plan.prop.FixedOrderColumn = col
		pivot.AddProperty(&Property{
			Name:          col,
			Kind:          ReferenceScalar,
			Type:          "int",
			Primary:       true,
			Autoincrement: true,
			FieldNames:    []string{res.naming.PropertyToColumnName(col)},
		})
		pivot.PrimaryKeys = []string{col}
	}

	ownerProp := &Property{
		Name:        ownerName,
		Kind:        ReferenceManyToOne,
		Target:      owner.Name,
		Owner:       true,
		Primary:     !plan.prop.FixedOrder,
		JoinColumns: cloneStrings(plan.prop.JoinColumns),
		OnDelete:    ActionCascade,
		OnUpdate:    ActionCascade,
	}
	inverseProp := &Property{
		Name:        inverseName,
		Kind:        ReferenceManyToOne,
		Target:      target.Name,
		Owner:       true,
		Primary:     !plan.prop.FixedOrder,
		JoinColumns: cloneStrings(plan.prop.InverseJoinColumns),
		OnDelete:    ActionCascade,
		OnUpdate:    ActionCascade,
	}
	pivot.AddProperty(ownerProp)
	pivot.AddProperty(inverseProp)
	if !plan.prop.FixedOrder {
		pivot.PrimaryKeys = []string{ownerName, inverseName}
	}

	res.reg.register(pivot)
	res.pivots[plan.table] = pivot

	if err := res.resolveOwning(pivot, ownerProp); err != nil {
		return err
	}
	if err := res.resolveOwning(pivot, inverseProp); err != nil {
		return err
	}

	res.logger.Debug("synthesized pivot entity",
		zap.String("pivot", pivot.Name),
		zap.String("owner", plan.owner.Name),
		zap.String("property", plan.prop.Name),
		zap.Strings("columns", append(cloneStrings(ownerProp.JoinColumns), inverseProp.JoinColumns...)))

	return res.bindPivot(plan.prop, pivot, ownerProp, inverseProp, owner)
}

// useExplicitPivot binds a relation to a declared pivot entity with m:1 properties to both sides
func (res *resolution) useExplicitPivot(plan pivotPlan) error {
	pivot := res.entity(plan.prop.PivotEntity)
	if !pivot.HasTable() {
		return resolutionErrorf(plan.owner.Name, plan.prop.Name, "pivot entity %s has no table", pivot.Name)
	}

	owner := res.rootOf(plan.owner)
	target := res.rootOf(res.entity(plan.prop.Target))

	var ownerProp, inverseProp *Property
	for _, p := range pivot.properties {
		if p.Kind != ReferenceManyToOne {
			continue
		}
		t := res.rootOf(res.entity(p.Target)).Name
		if ownerProp == nil && t == owner.Name {
			ownerProp = p
			continue
		}
		if inverseProp == nil && t == target.Name {
			inverseProp = p
		}
	}
	if ownerProp == nil || inverseProp == nil {
		return resolutionErrorf(plan.owner.Name, plan.prop.Name,
			"pivot entity %s needs m:1 properties to both %s and %s", pivot.Name, owner.Name, target.Name)
	}

	pivot.Pivot = true
	if err := res.resolveOwning(pivot, ownerProp); err != nil {
		return err
	}
	if err := res.resolveOwning(pivot, inverseProp); err != nil {
		return err
	}
	return res.bindPivot(plan.prop, pivot, ownerProp, inverseProp, owner)
}

func (res *resolution) bindPivot(prop *Property, pivot *EntityMetadata, ownerProp, inverseProp *Property, owner *EntityMetadata) error {
	cols, err := res.primaryKeyColumns(owner)
	if err != nil {
		return err
	}

	prop.PivotTable = pivot.TableName
	prop.PivotEntity = pivot.Name
	prop.JoinColumns = cloneStrings(ownerProp.JoinColumns)
	prop.InverseJoinColumns = cloneStrings(inverseProp.JoinColumns)
	prop.ReferencedColumnNames = cloneStrings(cols)
	prop.FieldNames = nil
	return nil
}

// pivotReferences returns the owner and inverse m:1 properties of a synthesized pivot
func pivotReferences(pivot *EntityMetadata) (*Property, *Property) {
	var refs []*Property
	for _, p := range pivot.properties {
		if p.Kind == ReferenceManyToOne {
			refs = append(refs, p)
		}
	}
	return refs[0], refs[1]
}
