package schema

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// checkExtends verifies parents exist and hierarchies are acyclic
func (res *resolution) checkExtends() error {
	for _, meta := range res.reg.All() {
		if meta.Extends == "" {
			continue
		}
		parent := res.entity(meta.Extends)
		if parent == nil {
			return resolutionErrorf(meta.Name, "", "extends unknown entity %q", meta.Extends)
		}
		if parent.Embeddable != meta.Embeddable {
			return resolutionErrorf(meta.Name, "", "cannot extend %s across entity and embeddable", parent.Name)
		}

		seen := map[string]bool{meta.Name: true}
		for cur := parent; cur != nil && cur.Extends != ""; cur = res.entity(cur.Extends) {
			if seen[cur.Name] {
				return resolutionErrorf(meta.Name, "", "inheritance cycle through %s", cur.Name)
			}
			seen[cur.Name] = true
		}
	}
	return nil
}

func (res *resolution) depth(meta *EntityMetadata) int {
	d := 0
	for cur := meta; cur.Extends != ""; cur = res.entity(cur.Extends) {
		d++
	}
	return d
}

// resolveInheritance merges ancestor properties into children and builds single table hierarchies
func (res *resolution) resolveInheritance() error {
	ordered := res.reg.All()
	sort.SliceStable(ordered, func(i, j int) bool {
		return res.depth(ordered[i]) < res.depth(ordered[j])
	})

	for _, meta := range ordered {
		if meta.Extends == "" {
			meta.Root = meta.Name
			continue
		}

		parent := res.entity(meta.Extends)
		inheritFrom(meta, parent)

		root := res.rootOf(parent)
		if root.DiscriminatorColumn != "" {
			meta.Root = root.Name
			meta.DiscriminatorColumn = root.DiscriminatorColumn
		} else {
			meta.Root = meta.Name
		}
	}

	for _, meta := range ordered {
		if meta.IsRoot() && meta.DiscriminatorColumn != "" && !meta.Embeddable {
			if err := res.resolveSingleTable(meta, ordered); err != nil {
				return err
			}
		}
	}
	return nil
}

// inheritFrom places the parent's properties ahead of the child's own; the child wins on name clashes
func inheritFrom(child, parent *EntityMetadata) {
	own := child.properties
	child.properties = nil
	child.propIndex = make(map[string]int)

	for _, p := range parent.properties {
		overridden := false
		for _, o := range own {
			if o.Name == p.Name {
				overridden = true
				break
			}
		}
		if !overridden {
			child.AddProperty(p.Clone())
		}
	}
	for _, p := range own {
		child.AddProperty(p)
	}

	if len(child.PrimaryKeys) == 0 {
		child.PrimaryKeys = cloneStrings(parent.PrimaryKeys)
	}
	child.Indexes = mergeIndexes(child.Indexes, parent.Indexes)
	child.Uniques = mergeIndexes(child.Uniques, parent.Uniques)
}

func mergeIndexes(dst, src []IndexDef) []IndexDef {
	for _, idx := range src {
		dup := false
		for _, d := range dst {
			if idx.Name != "" && d.Name == idx.Name {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, IndexDef{Name: idx.Name, Properties: cloneStrings(idx.Properties), Expression: idx.Expression})
		}
	}
	return dst
}

// resolveSingleTable completes discriminator values and folds subclass properties into the root
func (res *resolution) resolveSingleTable(root *EntityMetadata, ordered []*EntityMetadata) error {
	var descendants []*EntityMetadata
	for _, meta := range ordered {
		if meta.Root == root.Name && meta.Name != root.Name {
			descendants = append(descendants, meta)
		}
	}

	if root.DiscriminatorMap == nil {
		root.DiscriminatorMap = make(map[string]string)
	}
	values := make([]string, 0, len(root.DiscriminatorMap))
	for v := range root.DiscriminatorMap {
		values = append(values, v)
	}
	sort.Strings(values)

	for _, meta := range append([]*EntityMetadata{root}, descendants...) {
		if meta.DiscriminatorValue == "" {
			for _, v := range values {
				if root.DiscriminatorMap[v] == meta.Name {
					meta.DiscriminatorValue = v
					break
				}
			}
		}
		if meta.DiscriminatorValue == "" && !meta.Abstract {
			meta.DiscriminatorValue = res.naming.DiscriminatorValue(meta.Name)
		}
		if meta.DiscriminatorValue == "" {
			continue
		}
		if existing, ok := root.DiscriminatorMap[meta.DiscriminatorValue]; ok && existing != meta.Name {
			return resolutionErrorf(meta.Name, "", "discriminator value %q already maps to %s",
				meta.DiscriminatorValue, existing)
		}
		root.DiscriminatorMap[meta.DiscriminatorValue] = meta.Name
	}

	for v, name := range root.DiscriminatorMap {
		target := res.entity(name)
		if target == nil || (target.Name != root.Name && target.Root != root.Name) {
			return resolutionErrorf(root.Name, "", "discriminator value %q maps to %q outside the hierarchy", v, name)
		}
	}

	for _, d := range descendants {
		for _, p := range d.properties {
			if root.HasProperty(p.Name) {
				continue
			}
			c := p.Clone()
			c.Nullable = true
			c.Primary = false
			c.Inherited = true
			root.AddProperty(c)
		}
		root.Indexes = mergeIndexes(root.Indexes, d.Indexes)
		root.Uniques = mergeIndexes(root.Uniques, d.Uniques)
	}

	if !root.HasProperty(root.DiscriminatorColumn) {
		root.AddProperty(&Property{
			Name:  root.DiscriminatorColumn,
			Kind:  ReferenceScalar,
			Type:  "string",
			Index: true,
		})
	}

	res.logger.Debug("resolved single table inheritance",
		zap.String("root", root.Name),
		zap.Int("subclasses", len(descendants)),
		zap.String("discriminator", root.DiscriminatorColumn))
	return nil
}

// flattenEmbeddables copies embeddable properties into their owners
func (res *resolution) flattenEmbeddables() error {
	for _, meta := range res.reg.All() {
		if meta.Embeddable {
			continue
		}
		for _, prop := range meta.Properties() {
			if prop.Kind != ReferenceEmbedded {
				continue
			}
			if err := res.embed(meta, prop, "", nil, prop.Nullable, map[string]bool{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (res *resolution) embed(owner *EntityMetadata, prop *Property, prefix string, path []string, nullable bool, seen map[string]bool) error {
	emb := res.entity(prop.Target)
	if seen[emb.Name] {
		return resolutionErrorf(owner.Name, prop.Name, "embeddable %s embeds itself", emb.Name)
	}
	seen[emb.Name] = true
	defer delete(seen, emb.Name)

	prefix += res.embeddedPrefix(prop)
	path = append(cloneStrings(path), prop.Name)

	for _, ep := range emb.properties {
		switch {
		case ep.Kind == ReferenceEmbedded:
			if err := res.embed(owner, ep, prefix, path, nullable || ep.Nullable, seen); err != nil {
				return err
			}
		case ep.Kind.IsRelation():
			return resolutionErrorf(owner.Name, prop.Name, "embeddable %s declares relation %s", emb.Name, ep.Name)
		default:
			flat := ep.Clone()
			flat.EmbeddedPath = append(cloneStrings(path), ep.Name)
			flat.Name = strings.Join(flat.EmbeddedPath, ".")
			flat.FieldNames = nil
			if len(ep.FieldNames) > 0 {
				for _, f := range ep.FieldNames {
					flat.FieldNames = append(flat.FieldNames, prefix+f)
				}
			} else {
				flat.FieldNames = []string{prefix + res.naming.PropertyToColumnName(ep.Name)}
			}
			flat.Nullable = ep.Nullable || nullable
			flat.Primary = false
			flat.Inherited = prop.Inherited

			if owner.HasProperty(flat.Name) {
				return resolutionErrorf(owner.Name, flat.Name, "embedded property clashes with an existing property")
			}
			owner.AddProperty(flat)
		}
	}
	return nil
}

func (res *resolution) embeddedPrefix(prop *Property) string {
	if prop.Prefix != nil {
		return *prop.Prefix
	}
	return res.naming.PropertyToColumnName(prop.Name) + "_"
}
