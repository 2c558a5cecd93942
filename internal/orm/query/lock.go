package query

import (
	"fmt"
	"time"

	"github.com/conduit-lang/entmap/internal/orm/platform"
)

// LockOptions requests row locking
type LockOptions struct {
	Mode platform.LockMode
	// Version is the expected value of the version property for optimistic locks
	Version interface{}
}

// CompileLock returns the lock clause for entity. An optimistic lock on an entity without a version
// property is a ConfigurationError; optimistic locks add no SQL.
func (c *Compiler) CompileLock(entity string, opts LockOptions) (string, error) {
	switch {
	case opts.Mode == platform.LockNone:
		return "", nil
	case opts.Mode == platform.LockOptimistic:
		if _, err := c.versionProperty(entity); err != nil {
			return "", err
		}
		return "", nil
	case opts.Mode.IsPessimistic():
		return c.platform.LockClause(opts.Mode), nil
	default:
		return "", &ConfigurationError{Entity: entity, Message: fmt.Sprintf("unknown lock mode %d", opts.Mode)}
	}
}

// VerifyLockVersion compares the version loaded from the database with the expected one
func (c *Compiler) VerifyLockVersion(entity string, expected, actual interface{}) error {
	if _, err := c.versionProperty(entity); err != nil {
		return err
	}
	if !sameVersion(expected, actual) {
		return &ConfigurationError{
			Entity:  entity,
			Message: fmt.Sprintf("the optimistic lock failed, version %v was expected, but is actually %v", expected, actual),
		}
	}
	return nil
}

func (c *Compiler) versionProperty(entity string) (string, error) {
	meta, err := c.reg.Find(entity)
	if err != nil {
		return "", &ConfigurationError{Entity: entity, Message: err.Error()}
	}
	if meta.VersionProperty == "" {
		return "", &ConfigurationError{Entity: entity, Message: "cannot obtain optimistic lock on unversioned entity"}
	}
	return meta.VersionProperty, nil
}

func sameVersion(a, b interface{}) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
