package realtime

// Lifecycle is the entry point the transport calls as connections come and go.
type Lifecycle struct {
	registry *Registry
	prober   *Prober
	logger   Logger
}

// NewLifecycle creates a lifecycle hook. Handles registered through it are
// pinged by prober on every sweep.
func NewLifecycle(reg *Registry, prober *Prober, opts ...Option) *Lifecycle {
	o := buildOptions(opts)
	return &Lifecycle{
		registry: reg,
		prober:   prober,
		logger:   o.logger,
	}
}

// OnConnect registers a newly accepted connection. It must be called before
// any event can reach h. Returns false if an open handle with the same ID is
// already registered.
func (l *Lifecycle) OnConnect(h Handle) bool {
	if !l.registry.Register(h) {
		l.logger.Warn("duplicate listener ignored", "listener", h.ID())
		return false
	}
	l.logger.Debug("listener connected",
		"listener", h.ID(),
		"listeners", l.registry.Len(),
		"ping_interval", l.prober.Interval().String(),
	)
	return true
}

// OnDisconnect removes h. Safe to call after the broadcaster already pruned it.
func (l *Lifecycle) OnDisconnect(h Handle) {
	if l.registry.Remove(h) {
		l.logger.Debug("listener disconnected", "listener", h.ID(), "listeners", l.registry.Len())
	}
}
