package realtime

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// MaxEventDataSize caps the data carried by one event (1MB).
const MaxEventDataSize = 1 << 20

// Event is one named, timestamped notification pushed to listeners.
// Events are values; once built they are never modified.
type Event struct {
	Name      string
	Data      string
	Timestamp time.Time
}

// wireEvent is the JSON frame listeners receive.
type wireEvent struct {
	Event     string `json:"event"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(name, data string) (Event, error) {
	return newEventAt(name, data, time.Now())
}

func newEventAt(name, data string, at time.Time) (Event, error) {
	if strings.TrimSpace(name) == "" {
		return Event{}, ErrEmptyEventName
	}
	if len(data) > MaxEventDataSize {
		return Event{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrEventTooLarge, len(data), MaxEventDataSize)
	}
	return Event{Name: name, Data: data, Timestamp: at.UTC()}, nil
}

// MarshalJSON encodes the event in its wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Event:     e.Name,
		Data:      e.Data,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON decodes an event from its wire form.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing event timestamp: %w", err)
	}
	*e = Event{Name: w.Event, Data: w.Data, Timestamp: ts}
	return nil
}
