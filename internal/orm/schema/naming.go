package schema

import (
	"strings"

	"github.com/go-openapi/inflect"
)

// NamingStrategy maps logical names (entities, properties) onto physical identifiers
type NamingStrategy interface {
	ClassToTableName(entityName string) string
	PropertyToColumnName(propertyName string) string
	// JoinColumnName is the default foreign key column for a single-column reference property
	JoinColumnName(propertyName string) string
	// JoinKeyColumnName derives one foreign key column per referenced primary key column
	JoinKeyColumnName(name, referencedColumnName string) string
	JoinTableName(sourceTable, targetTable, propertyName string) string
	ReferenceColumnName() string
	DiscriminatorValue(entityName string) string
}

// UnderscoreNamingStrategy converts names to snake_case
type UnderscoreNamingStrategy struct{}

// NewUnderscoreNamingStrategy creates the default naming strategy
func NewUnderscoreNamingStrategy() *UnderscoreNamingStrategy {
	return &UnderscoreNamingStrategy{}
}

// ClassToTableName converts an entity name to a table name
func (s *UnderscoreNamingStrategy) ClassToTableName(entityName string) string {
	return toSnakeCase(entityName)
}

// PropertyToColumnName converts a property name to a column name
func (s *UnderscoreNamingStrategy) PropertyToColumnName(propertyName string) string {
	return toSnakeCase(propertyName)
}

// JoinColumnName returns "<property>_id"
func (s *UnderscoreNamingStrategy) JoinColumnName(propertyName string) string {
	return toSnakeCase(propertyName) + "_" + s.ReferenceColumnName()
}

// JoinKeyColumnName returns "<name>_<referenced column>"
func (s *UnderscoreNamingStrategy) JoinKeyColumnName(name, referencedColumnName string) string {
	if referencedColumnName == "" {
		referencedColumnName = s.ReferenceColumnName()
	}
	return toSnakeCase(name) + "_" + referencedColumnName
}

// JoinTableName returns "<source table>_<property>"
func (s *UnderscoreNamingStrategy) JoinTableName(sourceTable, targetTable, propertyName string) string {
	if propertyName == "" {
		return sourceTable + "_" + targetTable
	}
	return sourceTable + "_" + toSnakeCase(propertyName)
}

// ReferenceColumnName returns the default primary key column name
func (s *UnderscoreNamingStrategy) ReferenceColumnName() string {
	return "id"
}

// DiscriminatorValue returns the default discriminator value of an entity
func (s *UnderscoreNamingStrategy) DiscriminatorValue(entityName string) string {
	return toSnakeCase(entityName)
}

// PluralizingNamingStrategy behaves like UnderscoreNamingStrategy but pluralizes table names
type PluralizingNamingStrategy struct {
	UnderscoreNamingStrategy
}

// NewPluralizingNamingStrategy creates a naming strategy producing plural table names ("book" -> "books")
func NewPluralizingNamingStrategy() *PluralizingNamingStrategy {
	return &PluralizingNamingStrategy{}
}

// ClassToTableName converts an entity name to a pluralized snake_case table name
func (s *PluralizingNamingStrategy) ClassToTableName(entityName string) string {
	snake := toSnakeCase(entityName)
	i := strings.LastIndex(snake, "_")
	return snake[:i+1] + inflect.Pluralize(snake[i+1:])
}

// NamingStrategyByName returns the naming strategy registered under name
func NamingStrategyByName(name string) (NamingStrategy, bool) {
	switch strings.ToLower(name) {
	case "", "underscore", "snake":
		return NewUnderscoreNamingStrategy(), true
	case "plural", "pluralizing":
		return NewPluralizingNamingStrategy(), true
	default:
		return nil, false
	}
}
