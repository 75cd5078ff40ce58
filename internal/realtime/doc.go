// Package realtime fans server-originated events out to connected listeners.
//
// The package is transport-agnostic. A transport (the websocket endpoint in
// internal/api) wraps each accepted connection in a Handle and reports it to a
// Lifecycle. From then on:
//
//   - Registry owns the set of live handles, keyed by handle ID.
//   - Broadcaster snapshots the registry for every event and delivers it to
//     each handle, pruning handles that are closed or whose send fails.
//   - Prober pings every registered handle on a fixed interval so idle
//     connections are not reaped by proxies or load balancers.
//
// # Delivery
//
// Delivery is best effort. A publisher never sees per-listener failures; the
// only error Publish returns is a rejected event (empty name, oversized data).
// Handles registered after a broadcast has taken its snapshot are picked up
// by the next broadcast.
//
// # Wire Format
//
// Each event is one JSON text frame:
//
//	{"event":"gridCreated","data":"{\"gridId\":\"...\"}","timestamp":"2026-01-18T12:00:00.123Z"}
//
// # Thread Safety
//
// All exported types are safe for concurrent use. No registry lock is held
// while a handle is written to or pinged.
package realtime
