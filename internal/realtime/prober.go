package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultProbeInterval is the liveness ping period used when none is configured.
const DefaultProbeInterval = 5 * time.Second

// Prober pings every registered handle on a fixed interval.
//
// It keeps idle connections from being closed by intermediaries. It does not
// decide liveness and never removes handles: dead listeners are pruned by the
// Broadcaster or by the transport's own close notification.
type Prober struct {
	registry *Registry
	interval time.Duration
	metrics  *Metrics
	logger   Logger
	now      func() time.Time

	mu      sync.RWMutex
	onSweep func(SweepStats)
}

// SweepStats summarises one pass over the registry.
type SweepStats struct {
	Listeners int
	Pinged    int
	At        time.Time
}

// NewProber creates a prober over reg. A non-positive interval selects
// DefaultProbeInterval.
func NewProber(reg *Registry, interval time.Duration, opts ...Option) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	o := buildOptions(opts)
	return &Prober{
		registry: reg,
		interval: interval,
		metrics:  o.metrics,
		logger:   o.logger,
		now:      o.now,
	}
}

// OnSweep sets a callback run after every sweep with its outcome.
// It runs on the prober's goroutine and must not block.
func (p *Prober) OnSweep(fn func(SweepStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSweep = fn
}

// Interval returns the ping period.
func (p *Prober) Interval() time.Duration {
	return p.interval
}

// Run sweeps the registry every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Sweep pings every handle in a snapshot of the registry and returns the
// number of successful pings.
//
// Handles are pinged concurrently, so a handle whose Ping is slow or fails
// does not delay or affect the others. Sweep returns once every ping has.
func (p *Prober) Sweep() int {
	handles := p.registry.Snapshot()

	var ok atomic.Int64
	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			if err := p.probe(h); err != nil {
				p.metrics.probed(false)
				p.logger.Debug("liveness probe failed", "listener", h.ID(), "error", err)
				return nil
			}
			p.metrics.probed(true)
			ok.Add(1)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // probe goroutines never return an error

	pinged := int(ok.Load())
	p.mu.RLock()
	fn := p.onSweep
	p.mu.RUnlock()
	if fn != nil {
		fn(SweepStats{Listeners: len(handles), Pinged: pinged, At: p.now()})
	}
	return pinged
}

// probe pings one handle, converting a panic into an error.
func (p *Prober) probe(h Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ping panicked: %v", r)
		}
	}()
	if !h.IsOpen() {
		return ErrHandleClosed
	}
	return h.Ping()
}
