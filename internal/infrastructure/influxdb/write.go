package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the client.
const (
	// MeasurementFanout is written once per broadcast.
	MeasurementFanout = "fanout"

	// MeasurementListeners is written once per liveness sweep.
	MeasurementListeners = "listeners"
)

// FanoutSample is the outcome of one broadcast.
type FanoutSample struct {
	Event     string
	Attempted int
	Delivered int
	Pruned    int
	At        time.Time
}

// newFanoutPoint builds the point for one broadcast. The event name is a tag
// so series stay bounded by the set of event names.
func newFanoutPoint(s FanoutSample) *write.Point {
	return write.NewPoint(
		MeasurementFanout,
		map[string]string{"event": s.Event},
		map[string]any{
			"attempted": int64(s.Attempted),
			"delivered": int64(s.Delivered),
			"pruned":    int64(s.Pruned),
		},
		s.At,
	)
}

// WriteFanout records the outcome of one broadcast.
//
// This is non-blocking: the point is buffered and sent in the next batch.
// Write errors are reported via the SetOnError callback.
//
// Parameters:
//   - s: Event name (already bounded by the caller) and delivery counts
func (c *Client) WriteFanout(s FanoutSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newFanoutPoint(s))
}

// ListenerSample is the outcome of one liveness sweep.
type ListenerSample struct {
	Registered int
	Pinged     int
	At         time.Time
}

// WriteListeners records one liveness sweep. Non-blocking; dropped after Close.
func (c *Client) WriteListeners(s ListenerSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementListeners,
		nil,
		map[string]any{
			"registered": int64(s.Registered),
			"pinged":     int64(s.Pinged),
		},
		s.At,
	))
}
