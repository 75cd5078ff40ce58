package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gridhost/internal/host"
	"github.com/nerrad567/gridhost/internal/realtime"
)

const (
	// frameTypeGridUpdate is the inbound collaborative edit frame.
	frameTypeGridUpdate = "GRID_UPDATE"

	// defaultSendBuffer is the outbound queue length when none is configured.
	defaultSendBuffer = 256

	// writeWait bounds every write to the peer, data and control alike.
	writeWait = 10 * time.Second

	// frameTimeout bounds the store work triggered by one inbound frame.
	frameTimeout = 5 * time.Second
)

// errSendBufferFull is returned by Send when a listener has stopped draining.
var errSendBufferFull = errors.New("api: listener send buffer full")

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsConn adapts one websocket connection to realtime.Handle.
//
// Only writePump writes to the peer. Send and Ping enqueue without blocking,
// and Close signals the writer to send a close frame and drop the connection.
// A peer that stops reading therefore stalls only its own writer.
type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	ping chan struct{}
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string
}

func newWSConn(conn *websocket.Conn, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &wsConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		ping: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// ID returns the connection's uuid.
func (c *wsConn) ID() string { return c.id }

// IsOpen reports whether the connection has not been closed.
func (c *wsConn) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send queues msg for the writer. A full queue closes the connection.
func (c *wsConn) Send(msg []byte) error {
	select {
	case <-c.done:
		return realtime.ErrHandleClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return realtime.ErrHandleClosed
	default:
		c.closeWith(websocket.CloseTryAgainLater, "slow consumer")
		return errSendBufferFull
	}
}

// Ping asks the writer to send a ping control frame. A ping that is still
// pending absorbs the new one.
func (c *wsConn) Ping() error {
	if !c.IsOpen() {
		return realtime.ErrHandleClosed
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return nil
}

// Close tells the peer the server is going away. Safe to call repeatedly.
func (c *wsConn) Close() error {
	c.closeWith(websocket.CloseGoingAway, "server shutting down")
	return nil
}

// closeWith marks the connection closed. The first caller's code and text
// are sent in the close frame.
func (c *wsConn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// writePump drains the send and ping queues until the connection is closed.
func (c *wsConn) writePump() {
	defer c.conn.Close() //nolint:errcheck // read side observes the close

	for {
		select {
		case msg := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.ping:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeText),
					time.Now().Add(writeWait))
			}
			return
		}
	}
}

// handleWebSocket upgrades the request and serves the connection as a listener
// until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSConn(conn, s.wsCfg.SendBuffer)
	if !s.lifecycle.OnConnect(c) {
		c.closeWith(websocket.CloseInternalServerErr, "duplicate connection id")
		c.writePump()
		return
	}

	go c.writePump()
	s.readPump(r.Context(), c)
}

// readPump reads frames until the connection fails, then unregisters c.
//
// A peer that answers no ping within the probe interval plus the pong
// timeout hits the read deadline and is disconnected here.
func (s *Server) readPump(ctx context.Context, c *wsConn) {
	defer func() {
		s.lifecycle.OnDisconnect(c)
		c.closeWith(websocket.CloseNormalClosure, "")
	}()

	if s.wsCfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	wait := s.prober.Interval() + s.wsCfg.GetPongTimeout()
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "listener", c.id, "error", err)
			}
			return
		}
		// Any frame counts as a sign of life.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		s.handleFrame(ctx, c, message)
	}
}

// handleFrame applies one inbound frame. Only GRID_UPDATE is understood.
func (s *Server) handleFrame(ctx context.Context, c *wsConn, data []byte) {
	var frame struct {
		Type string `json:"type"`
		gridUpdate
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("ignoring malformed frame", "listener", c.id, "error", err)
		return
	}
	if frame.Type != frameTypeGridUpdate {
		s.logger.Debug("ignoring frame", "listener", c.id, "type", frame.Type)
		return
	}

	g, err := parseGridUpdate(frame.gridUpdate)
	if err != nil {
		s.logger.Debug("rejected grid update", "listener", c.id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()
	if err := s.updateGrid(ctx, g); err != nil {
		s.logger.Warn("grid update from listener failed", "listener", c.id, "grid_id", g.ID, "error", err)
	}
}

// parseGridUpdate turns a frame into a validated grid with canonical ids.
func parseGridUpdate(u gridUpdate) (*host.Grid, error) {
	id, err := host.ParseID(u.ID)
	if err != nil {
		return nil, err
	}
	g := &host.Grid{ID: id, Owner: u.Owner, Cells: u.Grid}
	if err := host.ValidateGrid(g); err != nil {
		return nil, err
	}
	g.Owner, _ = host.ParseID(g.Owner) //nolint:errcheck // checked by ValidateGrid
	return g, nil
}
