package schema

import (
	"fmt"
	"strings"
)

// ValidationError represents a structural problem in an entity description
type ValidationError struct {
	Entity   string
	Property string
	Message  string
	Hint     string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder

	if e.Entity != "" {
		b.WriteString(e.Entity)
		if e.Property != "" {
			b.WriteString(".")
			b.WriteString(e.Property)
		}
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}

	return b.String()
}

// Validator checks a single entity description without looking at other entities
type Validator struct {
	errors []*ValidationError
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateStructural validates one entity; references to other entities are checked during resolution
func (v *Validator) ValidateStructural(meta *EntityMetadata) error {
	v.errors = make([]*ValidationError, 0)

	if strings.TrimSpace(meta.Name) == "" {
		v.addError("", "", "entity name cannot be empty", "")
	}

	versions := 0
	seen := make(map[string]bool, len(meta.properties))
	for _, prop := range meta.properties {
		v.validateProperty(meta, prop)
		if seen[prop.Name] {
			v.addError(meta.Name, prop.Name, "duplicate property", "")
		}
		seen[prop.Name] = true
		if prop.Version {
			versions++
		}
	}
	if versions > 1 {
		v.addError(meta.Name, "", "only one version property is allowed", "")
	}

	for _, idx := range append(cloneIndexes(meta.Indexes), meta.Uniques...) {
		if len(idx.Properties) == 0 && idx.Expression == "" {
			v.addError(meta.Name, "", fmt.Sprintf("index %q has no properties", idx.Name), "")
		}
	}

	if len(v.errors) > 0 {
		msgs := make([]string, 0, len(v.errors))
		for _, err := range v.errors {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("validation failed with %d errors:\n%s", len(v.errors), strings.Join(msgs, "\n"))
	}

	return nil
}

func (v *Validator) validateProperty(meta *EntityMetadata, prop *Property) {
	if strings.TrimSpace(prop.Name) == "" {
		v.addError(meta.Name, "", "property name cannot be empty", "")
		return
	}

	switch prop.Kind {
	case ReferenceScalar:
		if prop.Type == "" && prop.ColumnType == "" {
			v.addError(meta.Name, prop.Name, "scalar property has no type",
				"declare a logical type such as string, int or uuid")
		}
	case ReferenceEmbedded:
		if prop.Target == "" {
			v.addError(meta.Name, prop.Name, "embedded property has no embeddable", "")
		}
	case ReferenceOneToMany:
		if prop.Target == "" {
			v.addError(meta.Name, prop.Name, "relation has no target entity", "")
		}
		if prop.MappedBy == "" {
			v.addError(meta.Name, prop.Name, "1:m relation requires mappedBy",
				"name the m:1 property on the target entity")
		}
	default:
		if prop.Target == "" {
			v.addError(meta.Name, prop.Name, "relation has no target entity", "")
		}
	}

	if prop.MappedBy != "" && prop.InversedBy != "" {
		v.addError(meta.Name, prop.Name, "property cannot declare both mappedBy and inversedBy", "")
	}
	if prop.Version && prop.Kind != ReferenceScalar {
		v.addError(meta.Name, prop.Name, "version property must be a scalar", "")
	}
}

func (v *Validator) addError(entity, property, message, hint string) {
	v.errors = append(v.errors, &ValidationError{
		Entity:   entity,
		Property: property,
		Message:  message,
		Hint:     hint,
	})
}
