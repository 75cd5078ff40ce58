package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeHandle is an in-memory Handle that records what it was sent.
type fakeHandle struct {
	id string

	mu          sync.Mutex
	open        bool
	sendErr     error
	pingErr     error
	panicOnPing bool
	pingGate    chan struct{}
	onIsOpen    func()
	sent        [][]byte
	pings       int
	onSend      func()
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, open: true}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) IsOpen() bool {
	h.mu.Lock()
	hook := h.onIsOpen
	h.onIsOpen = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *fakeHandle) Send(msg []byte) error {
	h.mu.Lock()
	hook := h.onSend
	h.onSend = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return ErrHandleClosed
	}
	if h.sendErr != nil {
		return h.sendErr
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)
	h.sent = append(h.sent, cp)
	return nil
}

func (h *fakeHandle) Ping() error {
	h.mu.Lock()
	gate := h.pingGate
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicOnPing {
		panic("ping exploded")
	}
	if h.pingErr != nil {
		return h.pingErr
	}
	h.pings++
	return nil
}

func (h *fakeHandle) close() {
	h.mu.Lock()
	h.open = false
	h.mu.Unlock()
}

func (h *fakeHandle) messages() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *fakeHandle) pingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings
}

// decodeOne asserts h received exactly one message and decodes it.
func decodeOne(t *testing.T, h *fakeHandle) Event {
	t.Helper()
	msgs := h.messages()
	if len(msgs) != 1 {
		t.Fatalf("%s received %d messages, want 1", h.id, len(msgs))
	}
	var ev Event
	if err := ev.UnmarshalJSON(msgs[0]); err != nil {
		t.Fatalf("%s: decoding message: %v", h.id, err)
	}
	return ev
}

func memberIDs(r *Registry) []string {
	var ids []string
	for _, h := range r.Snapshot() {
		ids = append(ids, h.ID())
	}
	return ids
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}
