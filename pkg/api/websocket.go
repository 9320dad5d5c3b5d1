package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/goodnight-ai/goodnight/pkg/events"
)

const (
	// wsWriteTimeout bounds one send so a stalled client cannot block
	// the feed goroutine indefinitely.
	wsWriteTimeout = 10 * time.Second
	// wsPingInterval is how often an idle connection gets a keepalive.
	wsPingInterval = 30 * time.Second
	// wsRecentOnConnect is how many buffered events a new client
	// receives before live delivery begins.
	wsRecentOnConnect = 10
	// wsQueueSize buffers live events per connection; slow consumers
	// drop rather than stall the emitting agent.
	wsQueueSize = 256
)

// ConnectionManager tracks WebSocket clients on the event feed.
type ConnectionManager struct {
	stream *events.Stream

	mu    sync.RWMutex
	conns map[string]*wsConn
}

// wsConn is one client. The queue decouples stream fan-out from the
// connection's write pacing.
type wsConn struct {
	id    string
	conn  *websocket.Conn
	ctx   context.Context
	queue chan events.AgentEvent
}

// NewConnectionManager creates a manager over the given stream.
func NewConnectionManager(stream *events.Stream) *ConnectionManager {
	return &ConnectionManager{
		stream: stream,
		conns:  make(map[string]*wsConn),
	}
}

// ActiveConnections returns the number of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// HandleConnection serves the event feed to one client: recent events
// first, then live events, with a JSON ping on idle. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	// The feed is send-only; CloseRead keeps control frames serviced
	// and cancels the context when the client goes away.
	ctx := conn.CloseRead(parentCtx)

	c := &wsConn{
		id:    uuid.NewString(),
		conn:  conn,
		ctx:   ctx,
		queue: make(chan events.AgentEvent, wsQueueSize),
	}
	m.register(c)
	defer m.unregister(c)

	token := m.stream.Subscribe(func(e events.AgentEvent) {
		select {
		case c.queue <- e:
		default:
			// Full queue: the client is too slow, drop the event.
		}
	})
	defer m.stream.Unsubscribe(token)

	for _, e := range m.stream.Recent(wsRecentOnConnect) {
		if err := m.sendJSON(c, e); err != nil {
			return
		}
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.queue:
			if err := m.sendJSON(c, e); err != nil {
				return
			}
		case <-ticker.C:
			if err := m.sendJSON(c, map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}
}

func (m *ConnectionManager) register(c *wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.id] = c
}

func (m *ConnectionManager) unregister(c *wsConn) {
	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends one message with a write timeout.
func (m *ConnectionManager) sendJSON(c *wsConn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.id, "error", err)
		return err
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// wsHandler handles GET /api/v1/ws/events.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Loopback control surface; any local origin may connect.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	s.conns.HandleConnection(c.Request.Context(), conn)
}
