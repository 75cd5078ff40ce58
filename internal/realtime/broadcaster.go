package realtime

import (
	"sync"
	"time"
)

// Delivery summarises one broadcast.
type Delivery struct {
	Attempted int // handles in the snapshot
	Delivered int // handles that accepted the message
	Pruned    int // handles removed because they were closed or failed
}

// Broadcaster delivers events to every live handle in a Registry.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   Logger
	now      func() time.Time

	observers []Observer
	obsMu     sync.RWMutex
}

// Option configures a Broadcaster, Prober or Lifecycle.
type Option func(*options)

type options struct {
	metrics   *Metrics
	logger    Logger
	now       func() time.Time
	observers []Observer
}

// WithMetrics records fan-out activity on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithObserver attaches an observer at construction time.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: nopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewBroadcaster creates a broadcaster over reg.
func NewBroadcaster(reg *Registry, opts ...Option) *Broadcaster {
	o := buildOptions(opts)
	return &Broadcaster{
		registry:  reg,
		metrics:   o.metrics,
		logger:    o.logger,
		now:       o.now,
		observers: o.observers,
	}
}

// AddObserver attaches obs to all subsequent broadcasts.
func (b *Broadcaster) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.obsMu.Lock()
	b.observers = append(b.observers, obs)
	b.obsMu.Unlock()
}

// Publish builds an event and broadcasts it. The returned error is only ever
// a rejected event; delivery failures are handled internally.
func (b *Broadcaster) Publish(name, data string) error {
	ev, err := newEventAt(name, data, b.now())
	if err != nil {
		return err
	}
	b.Broadcast(ev)
	return nil
}

// Broadcast sends ev to every handle in a snapshot of the registry.
//
// Closed handles are skipped and removed. A handle whose Send fails is
// removed and the broadcast moves on to the next one.
func (b *Broadcaster) Broadcast(ev Event) Delivery {
	msg, err := ev.MarshalJSON()
	if err != nil {
		// Only reachable with a broken encoder; nothing was sent.
		b.logger.Warn("failed to encode event", "event", ev.Name, "error", err)
		return Delivery{}
	}

	handles := b.registry.Snapshot()
	d := Delivery{Attempted: len(handles)}

	for _, h := range handles {
		if !h.IsOpen() {
			b.prune(h, PruneClosed, nil)
			d.Pruned++
			continue
		}
		if err := h.Send(msg); err != nil {
			b.prune(h, PruneSendFailed, err)
			d.Pruned++
			continue
		}
		d.Delivered++
	}

	b.metrics.published(ev.Name, d)
	if d.Attempted > 0 {
		b.logger.Debug("event broadcast",
			"event", ev.Name,
			"recipients", d.Delivered,
			"pruned", d.Pruned,
		)
	}

	b.notify(ev, d)
	return d
}

func (b *Broadcaster) prune(h Handle, reason string, cause error) {
	if !b.registry.Remove(h) {
		return // already removed by a concurrent broadcast or disconnect
	}
	b.metrics.pruned(reason)
	if cause != nil {
		b.logger.Debug("listener pruned", "listener", h.ID(), "reason", reason, "error", cause)
		return
	}
	b.logger.Debug("listener pruned", "listener", h.ID(), "reason", reason)
}

func (b *Broadcaster) notify(ev Event, d Delivery) {
	b.obsMu.RLock()
	observers := b.observers
	b.obsMu.RUnlock()

	for _, obs := range observers {
		obs.Observe(ev, d)
	}
}
