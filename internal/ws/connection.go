package ws

import (
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/classnet/classchat/config"
	"github.com/classnet/classchat/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateReceiving
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateReceiving:
		return "receiving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one client socket bound to a single room for its lifetime.
// Frames reach the socket only through the send queue, which is drained by
// WritePump.
type Connection struct {
	id        string
	room      string
	principal auth.Principal
	conn      *websocket.Conn
	cfg       config.WebSocketConfig
	limiter   *rate.Limiter

	mu     sync.RWMutex
	send   chan []byte
	closed bool

	state     atomic.Int32
	writeDone chan struct{}
}

func NewConnection(conn *websocket.Conn, room string, principal auth.Principal, cfg config.WebSocketConfig) *Connection {
	cfg = withDefaults(cfg)

	var limiter *rate.Limiter
	if cfg.RateLimit.Burst > 0 && cfg.RateLimit.Interval > 0 {
		every := rate.Limit(float64(cfg.RateLimit.Burst) / cfg.RateLimit.Interval.Seconds())
		limiter = rate.NewLimiter(every, cfg.RateLimit.Burst)
	}

	return &Connection{
		id:        uuid.NewString(),
		room:      room,
		principal: principal,
		conn:      conn,
		cfg:       cfg,
		limiter:   limiter,
		send:      make(chan []byte, cfg.SendBufferSize),
		writeDone: make(chan struct{}),
	}
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	def := config.Default().WebSocket
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	return cfg
}

func (c *Connection) ID() string                { return c.id }
func (c *Connection) Room() string              { return c.room }
func (c *Connection) Principal() auth.Principal { return c.principal }
func (c *Connection) State() State              { return State(c.state.Load()) }

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// Enqueue queues frame for delivery without blocking. It returns false when
// the queue is closed or full.
func (c *Connection) Enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// CloseSend closes the send queue. WritePump flushes what is queued, sends a
// close frame and exits. Safe to call more than once.
func (c *Connection) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Close closes the socket, unblocking both pumps.
func (c *Connection) Close() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Connection %s close error: %v", c.id, err)
	}
}

// evict drops a connection the registry could not deliver to.
func (c *Connection) evict() {
	c.CloseSend()
	c.Close()
}

// allow reports whether another inbound frame fits the rate limit.
func (c *Connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// ReadPump reads frames and hands each to handle until the socket fails or
// is closed. Frames over MaxMessageSize are drained and dropped. It runs on
// the connection's own goroutine.
func (c *Connection) ReadPump(handle func(frame []byte)) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		log.Printf("Connection %s read deadline error: %v", c.id, err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, r, err := c.conn.NextReader()
		if err != nil {
			c.logReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			if _, err := io.Copy(io.Discard, r); err != nil {
				c.logReadError(err)
				return
			}
			continue
		}

		frame, oversize, err := c.readFrame(r)
		if err != nil {
			c.logReadError(err)
			return
		}
		if oversize {
			log.Printf("Connection %s sent a frame over %d bytes, dropping it", c.id, c.cfg.MaxMessageSize)
			continue
		}
		handle(frame)
	}
}

// readFrame reads one message, reporting oversize when it exceeds
// MaxMessageSize. An oversize message is consumed without being buffered.
func (c *Connection) readFrame(r io.Reader) ([]byte, bool, error) {
	if c.cfg.MaxMessageSize <= 0 {
		frame, err := io.ReadAll(r)
		return frame, false, err
	}

	frame, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxMessageSize+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(frame)) <= c.cfg.MaxMessageSize {
		return frame, false, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, true, err
	}
	return nil, true, nil
}

func (c *Connection) logReadError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !isExpectedCloseError(err) {
		log.Printf("Connection %s unexpected close: %v", c.id, err)
	}
}

// WritePump writes queued frames and keepalive pings until the queue is
// closed or a write fails.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil && !isExpectedCloseError(err) {
					log.Printf("Connection %s failed to close websocket: %v", c.id, err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Connection %s write error: %v", c.id, err)
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError reports errors that only mean the peer or we already
// closed the socket.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
