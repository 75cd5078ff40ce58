package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gridhost/internal/host"
	"github.com/nerrad567/gridhost/internal/infrastructure/mqtt"
	"github.com/nerrad567/gridhost/internal/realtime"
)

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close() //nolint:errcheck // test
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck // test cleanup
	return conn
}

// startWS serves env over httptest and returns the websocket URL.
func startWS(t *testing.T, env *testEnv) (httpURL, wsURL string) {
	t.Helper()
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/host"
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", typ)
	}
	var ev realtime.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decoding %q: %v", msg, err)
	}
	return ev
}

func TestWebSocket_ReceivesPublishedEvents(t *testing.T) {
	env := testServer(t)
	httpURL, wsURL := startWS(t, env)

	a := dialWS(t, wsURL)
	b := dialWS(t, wsURL)
	waitFor(t, func() bool { return env.registry.Len() == 3 })

	resp, err := http.Post(httpURL+"/api/hosts", "application/json", strings.NewReader(`{"name":"Barbara"}`))
	if err != nil {
		t.Fatalf("POST /api/hosts: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // test
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		ev := readEvent(t, conn)
		if ev.Name != "hostCreated" {
			t.Errorf("listener %s got %q, want hostCreated", name, ev.Name)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("listener %s got event without timestamp", name)
		}
	}
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	env := testServer(t)
	_, wsURL := startWS(t, env)

	conn := dialWS(t, wsURL)
	waitFor(t, func() bool { return env.registry.Len() == 2 })

	//nolint:errcheck // test
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close() //nolint:errcheck // test

	waitFor(t, func() bool { return env.registry.Len() == 1 })
}

func TestWebSocket_GridUpdateFrame(t *testing.T) {
	env := testServer(t)
	_, wsURL := startWS(t, env)

	owner := host.NewID()
	id := env.createGrid(t, owner)

	editor := dialWS(t, wsURL)
	watcher := dialWS(t, wsURL)
	waitFor(t, func() bool { return env.registry.Len() == 3 })

	frame := map[string]any{
		"type":  "GRID_UPDATE",
		"id":    id,
		"owner": owner,
		"grid":  [][]host.Cell{{{Value: "W", Editable: true}}},
	}
	if err := editor.WriteJSON(frame); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	ev := readEvent(t, watcher)
	if ev.Name != "gridUpdated" {
		t.Fatalf("event = %q, want gridUpdated", ev.Name)
	}
	var data gridUpdate
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		t.Fatalf("event data: %v", err)
	}
	if data.ID != id || data.Grid[0][0].Value != "W" {
		t.Errorf("gridUpdated data = %+v", data)
	}

	stored, err := env.repo.GetGrid(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGrid() error = %v", err)
	}
	if stored.Cells[0][0].Value != "W" {
		t.Errorf("stored cells = %+v", stored.Cells)
	}
}

func TestWebSocket_IgnoresUnknownFrames(t *testing.T) {
	env := testServer(t)
	_, wsURL := startWS(t, env)

	conn := dialWS(t, wsURL)
	waitFor(t, func() bool { return env.registry.Len() == 2 })

	for _, msg := range []string{`not json`, `{"type":"CHAT","text":"hi"}`, `{"type":"GRID_UPDATE","id":"bad"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}

	// The connection survives and no event was published.
	time.Sleep(100 * time.Millisecond)
	if env.registry.Len() != 2 {
		t.Errorf("registry size = %d, want 2", env.registry.Len())
	}
	if n := len(env.listener.received()); n != 0 {
		t.Errorf("ignored frames published %d events", n)
	}
}

func TestWebSocket_AnswersProbes(t *testing.T) {
	env := testServer(t)
	_, wsURL := startWS(t, env)

	conn := dialWS(t, wsURL)
	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	waitFor(t, func() bool { return env.registry.Len() == 2 })

	// Control frames are processed inside ReadMessage.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if ok := env.srv.prober.Sweep(); ok != 2 {
		t.Errorf("Sweep() = %d, want 2", ok)
	}
	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		t.Fatal("no ping reached the client")
	}
}

func TestWebSocket_StalledListenerDoesNotDelayProbes(t *testing.T) {
	env := testServer(t)
	_, wsURL := startWS(t, env)

	// This client never reads, so its writer blocks once the socket buffers fill.
	dialWS(t, wsURL)
	waitFor(t, func() bool { return env.registry.Len() == 2 })
	var stalled *wsConn
	for _, h := range env.registry.Snapshot() {
		if c, ok := h.(*wsConn); ok {
			stalled = c
		}
	}
	if stalled == nil {
		t.Fatal("stalled listener not registered")
	}

	healthy := dialWS(t, wsURL)
	pinged := make(chan struct{}, 1)
	healthy.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return healthy.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := healthy.ReadMessage(); err != nil {
				return
			}
		}
	}()
	waitFor(t, func() bool { return env.registry.Len() == 3 })

	big := bytes.Repeat([]byte("x"), 1<<20)
	for range 14 {
		if err := stalled.Send(big); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	start := time.Now()
	if ok := env.srv.prober.Sweep(); ok != 3 {
		t.Errorf("Sweep() = %d, want 3", ok)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("Sweep() took %v with a stalled listener", took)
	}

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy listener was not pinged")
	}
	if env.registry.Len() != 3 {
		t.Errorf("registry size = %d, want 3", env.registry.Len())
	}
}

// ─── wsConn ─────────────────────────────────────────────────────────

func TestWSConn_PingIsQueuedForWriter(t *testing.T) {
	// No connection and no writer: Ping must only enqueue.
	c := newWSConn(nil, 1)

	for range 3 {
		if err := c.Ping(); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	}
	if len(c.ping) != 1 {
		t.Errorf("pending pings = %d, want 1", len(c.ping))
	}
}

func TestWSConn_SlowConsumerIsClosed(t *testing.T) {
	c := newWSConn(nil, 1)

	if err := c.Send([]byte("one")); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if err := c.Send([]byte("two")); !errors.Is(err, errSendBufferFull) {
		t.Fatalf("second Send() error = %v, want errSendBufferFull", err)
	}
	if c.IsOpen() {
		t.Error("IsOpen() = true after overflow")
	}
	if c.closeCode != websocket.CloseTryAgainLater {
		t.Errorf("close code = %d, want %d", c.closeCode, websocket.CloseTryAgainLater)
	}
	if err := c.Send([]byte("three")); !errors.Is(err, realtime.ErrHandleClosed) {
		t.Errorf("Send() after close error = %v, want ErrHandleClosed", err)
	}
	if err := c.Ping(); !errors.Is(err, realtime.ErrHandleClosed) {
		t.Errorf("Ping() after close error = %v, want ErrHandleClosed", err)
	}
}

func TestWSConn_CloseIsIdempotent(t *testing.T) {
	c := newWSConn(nil, 0)
	if cap(c.send) != defaultSendBuffer {
		t.Errorf("send buffer = %d, want %d", cap(c.send), defaultSendBuffer)
	}
	if _, err := host.ParseID(c.ID()); err != nil {
		t.Errorf("ID() = %q is not a uuid", c.ID())
	}

	for range 3 {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
	if c.IsOpen() || c.closeCode != websocket.CloseGoingAway {
		t.Errorf("after Close: open=%v code=%d", c.IsOpen(), c.closeCode)
	}
}

// ─── MQTT relay ─────────────────────────────────────────────────────

func TestRelayHandler(t *testing.T) {
	env := testServer(t)
	relay := env.srv.relayHandler(mqtt.NewTopics("gridhost"))

	if err := relay("gridhost/event/scoreChanged", []byte(`{"score":7}`)); err != nil {
		t.Fatalf("relay() error = %v", err)
	}
	if err := relay("gridhost/fanout/scoreChanged", []byte("mirror")); err != nil {
		t.Errorf("relay() outside namespace error = %v", err)
	}
	if err := relay("gridhost/event/binary", []byte{0xff, 0xfe}); !errors.Is(err, errNotUTF8) {
		t.Errorf("relay() binary payload error = %v, want errNotUTF8", err)
	}

	events := env.listener.received()
	if len(events) != 1 {
		t.Fatalf("events = %+v, want exactly one", events)
	}
	if events[0].Name != "scoreChanged" || events[0].Data != `{"score":7}` {
		t.Errorf("event = %+v", events[0])
	}
}

func TestRelayHandler_BoundsMetricLabels(t *testing.T) {
	env := testServer(t)
	relay := env.srv.relayHandler(mqtt.NewTopics("gridhost"))

	for i := range 20 {
		if err := relay(fmt.Sprintf("gridhost/event/noise-%d", i), []byte("{}")); err != nil {
			t.Fatalf("relay() error = %v", err)
		}
	}
	if err := relay("gridhost/event/gridUpdated", []byte("{}")); err != nil {
		t.Fatalf("relay() error = %v", err)
	}

	// Listeners still see the relayed names unchanged.
	if events := env.listener.received(); len(events) != 21 || events[0].Name != "noise-0" {
		t.Errorf("listener got %d events, first %+v", len(events), events)
	}

	body := env.do(t, http.MethodGet, "/metrics", "").Body.String()
	for _, want := range []string{
		`gridhost_events_published_total{event="external"} 20`,
		`gridhost_events_published_total{event="gridUpdated"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if strings.Contains(body, "noise-") {
		t.Error("relayed event name leaked into a metric label")
	}
}
