// Package api implements the HTTP REST API and the listener websocket for gridhost.
//
// This package provides:
//   - REST endpoints for hosts and grids
//   - The /ws/host websocket that turns each connection into a realtime.Handle
//   - An MQTT relay that republishes external events to listeners
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus exposition on /metrics
//
// # Architecture
//
// Handlers persist through host.Repository and then announce the change with
// realtime.Broadcaster.Publish. Publishing is fire-and-forget: a listener that
// fails a send is pruned by the broadcaster and never affects the HTTP
// response. The websocket writer owns the connection; the broadcaster and the
// liveness prober only enqueue frames or send control pings.
//
// # Graceful Degradation
//
// MQTT and the metrics gatherer are optional. Without MQTT the relay is
// skipped and listeners still receive every event published by the CRUD
// handlers.
package api
