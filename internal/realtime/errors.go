package realtime

import "errors"

var (
	// ErrEmptyEventName is returned when an event is built without a name.
	ErrEmptyEventName = errors.New("realtime: event name cannot be empty")

	// ErrEventTooLarge is returned when event data exceeds MaxEventDataSize.
	ErrEventTooLarge = errors.New("realtime: event data too large")

	// ErrHandleClosed is returned by handles that can no longer be written to.
	ErrHandleClosed = errors.New("realtime: handle closed")
)
