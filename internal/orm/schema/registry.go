package schema

import (
	"fmt"
	"sync"
)

// Registry owns a set of entity metadata.
//
// A Registry is passed explicitly to the resolver, the schema differ and the query compiler; there is
// no process-wide instance. The resolver returns a frozen Registry which rejects further registration
// and is safe to share between goroutines.
type Registry struct {
	entities  map[string]*EntityMetadata
	order     []string
	validator *Validator
	frozen    bool
	mu        sync.RWMutex
}

// NewRegistry creates a new, empty registry
func NewRegistry() *Registry {
	return &Registry{
		entities:  make(map[string]*EntityMetadata),
		validator: NewValidator(),
	}
}

// Register registers a new entity
func (r *Registry) Register(meta *EntityMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", meta.Name, ErrRegistryFrozen)
	}
	if _, exists := r.entities[meta.Name]; exists {
		return fmt.Errorf("entity %s is already registered", meta.Name)
	}

	// Cross-entity references are checked by the resolver
	if err := r.validator.ValidateStructural(meta); err != nil {
		return fmt.Errorf("entity validation failed for %s: %w", meta.Name, err)
	}

	r.entities[meta.Name] = meta
	r.order = append(r.order, meta.Name)
	return nil
}

// register adds an entity bypassing validation; used by the resolver for synthesized pivots
func (r *Registry) register(meta *EntityMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[meta.Name]; !exists {
		r.order = append(r.order, meta.Name)
	}
	r.entities[meta.Name] = meta
}

// Get retrieves an entity by name
func (r *Registry) Get(name string) (*EntityMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, exists := r.entities[name]
	return meta, exists
}

// Find retrieves an entity by name or returns ErrEntityNotFound
func (r *Registry) Find(name string) (*EntityMetadata, error) {
	meta, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, name)
	}
	return meta, nil
}

// FindByTable retrieves the root entity owning the given table
func (r *Registry) FindByTable(table string) (*EntityMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		meta := r.entities[name]
		if meta.TableName == table && meta.IsRoot() && !meta.Embeddable {
			return meta, true
		}
	}
	return nil, false
}

// All returns the registered entities in registration order
func (r *Registry) All() []*EntityMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*EntityMetadata, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entities[name])
	}
	return result
}

// Names returns the registered entity names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered entities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entities)
}

// Exists checks if an entity is registered
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.entities[name]
	return exists
}

// Frozen reports whether the registry has been resolved
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.frozen
}

func (r *Registry) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
}

// RegistryStats summarizes a registry
type RegistryStats struct {
	TotalEntities      int
	TotalTables        int
	TotalProperties    int
	TotalRelations     int
	PivotEntities      int
	EmbeddableEntities int
}

// GetStats returns statistics about the registry
func (r *Registry) GetStats() *RegistryStats {
	stats := &RegistryStats{}
	for _, meta := range r.All() {
		stats.TotalEntities++
		if meta.HasTable() {
			stats.TotalTables++
		}
		if meta.Pivot {
			stats.PivotEntities++
		}
		if meta.Embeddable {
			stats.EmbeddableEntities++
		}
		for _, prop := range meta.Properties() {
			stats.TotalProperties++
			if prop.Kind.IsRelation() {
				stats.TotalRelations++
			}
		}
	}
	return stats
}
