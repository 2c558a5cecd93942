package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMetadataResolution is returned when the metadata graph cannot be completed
	ErrMetadataResolution = errors.New("metadata resolution failed")

	// ErrSchemaDependency is returned when entities form a cycle of required foreign keys
	ErrSchemaDependency = errors.New("unresolvable schema dependency")

	// ErrRegistryFrozen is returned when registering into a resolved registry
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrEntityNotFound is returned when an entity is not registered
	ErrEntityNotFound = errors.New("entity not found")
)

// MetadataResolutionError describes why a resolution pass was aborted
type MetadataResolutionError struct {
	Entity   string
	Property string
	Message  string
}

// Error implements the error interface
func (e *MetadataResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("metadata resolution: ")
	if e.Entity != "" {
		b.WriteString(e.Entity)
		if e.Property != "" {
			b.WriteString(".")
			b.WriteString(e.Property)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Is allows errors.Is(err, ErrMetadataResolution)
func (e *MetadataResolutionError) Is(target error) bool {
	return target == ErrMetadataResolution
}

func resolutionErrorf(entity, property, format string, args ...interface{}) error {
	return &MetadataResolutionError{
		Entity:   entity,
		Property: property,
		Message:  fmt.Sprintf(format, args...),
	}
}

// SchemaDependencyError reports a cycle composed entirely of required foreign keys
type SchemaDependencyError struct {
	Cycle []string
}

// Error implements the error interface
func (e *SchemaDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return "schema dependency: cycle of required foreign keys"
	}
	return fmt.Sprintf("schema dependency: cycle of required foreign keys: %s -> %s",
		strings.Join(e.Cycle, " -> "), e.Cycle[0])
}

// Is allows errors.Is(err, ErrSchemaDependency)
func (e *SchemaDependencyError) Is(target error) bool {
	return target == ErrSchemaDependency
}
