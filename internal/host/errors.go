package host

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	ErrHostNotFound = errors.New("host not found")
	ErrGridNotFound = errors.New("grid not found")

	// ErrInvalidID is returned for strings that are not a uuid.
	ErrInvalidID = errors.New("invalid id")

	ErrInvalidHost = errors.New("invalid host")
	ErrInvalidGrid = errors.New("invalid grid")
)
