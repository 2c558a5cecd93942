package platform

import "errors"

var (
	// ErrUnknownPlatform is returned by ByName for unsupported dialects
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrUnsupported is returned when a dialect cannot express an operation
	ErrUnsupported = errors.New("operation not supported by platform")
)
