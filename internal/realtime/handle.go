package realtime

// Handle is the core's view of one listener's live channel.
//
// Implementations must be comparable (use pointer receivers): the registry
// removes a handle only when the stored value is the same handle.
type Handle interface {
	// ID identifies the connection for set membership. Assigned by the
	// transport when the connection is accepted.
	ID() string

	// IsOpen reports whether the channel can still be written to. The answer
	// can change at any moment; callers check it at the point of use.
	IsOpen() bool

	// Send hands one encoded message to the channel. It must not block
	// indefinitely; a closed or stalled channel returns an error.
	Send(msg []byte) error

	// Ping issues a protocol-level keep-alive that carries no event data.
	// Like Send it must not wait on the peer; transports queue the ping
	// for their writer.
	Ping() error
}

// Observer is notified after every broadcast. Observers run on the
// publishing goroutine and must not block.
type Observer interface {
	Observe(ev Event, d Delivery)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event, d Delivery)

// Observe calls f(ev, d).
func (f ObserverFunc) Observe(ev Event, d Delivery) { f(ev, d) }

// Logger is the subset of logging.Logger used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
