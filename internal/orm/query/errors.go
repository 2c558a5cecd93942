package query

import (
	"errors"
	"fmt"
)

var (
	// ErrQueryCompilation is matched by every QueryCompilationError
	ErrQueryCompilation = errors.New("query compilation failed")

	// ErrConfiguration is matched by every ConfigurationError
	ErrConfiguration = errors.New("invalid query configuration")
)

// QueryCompilationError reports a condition, join or ordering that cannot be translated.
// It is fatal for the query being compiled only.
type QueryCompilationError struct {
	Field    string
	Operator string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *QueryCompilationError) Error() string {
	msg := "query compilation: "
	if e.Field != "" {
		msg += e.Field
		if e.Operator != "" {
			msg += " " + e.Operator
		}
		msg += ": "
	}
	msg += e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is allows errors.Is(err, ErrQueryCompilation)
func (e *QueryCompilationError) Is(target error) bool {
	return target == ErrQueryCompilation
}

func (e *QueryCompilationError) Unwrap() error {
	return e.Err
}

func compileErrorf(field, op, format string, args ...interface{}) error {
	return &QueryCompilationError{Field: field, Operator: op, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports lock misuse: an optimistic lock on an unversioned entity or a
// version mismatch
type ConfigurationError struct {
	Entity  string
	Message string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Entity == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration: %s: %s", e.Entity, e.Message)
}

// Is allows errors.Is(err, ErrConfiguration)
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
