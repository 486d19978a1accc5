package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/classnet/classchat/internal/auth"
	"github.com/classnet/classchat/internal/store"
)

// ErrUnauthorized is returned for connections without an authenticated principal.
var ErrUnauthorized = errors.New("unauthorized")

// MessageStore is the persistence the hub needs.
type MessageStore interface {
	Append(ctx context.Context, room string, author store.Author, body string) (store.Record, error)
	RecentHistory(ctx context.Context, room string, limit int) ([]store.Record, error)
}

type HubOptions struct {
	HistoryLimit int
	StoreTimeout time.Duration
	Debug        bool
}

// Hub drives each connection through its lifecycle: send history, join the
// room, relay inbound messages, leave on disconnect.
type Hub struct {
	registry *Registry
	store    MessageStore
	opts     HubOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	connections map[*Connection]struct{}
	closing     bool
	wg          sync.WaitGroup
}

func NewHub(registry *Registry, st MessageStore, opts HubOptions) *Hub {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:    registry,
		store:       st,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		connections: make(map[*Connection]struct{}),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// Serve runs c until its socket closes. It blocks on the caller's goroutine.
func (h *Hub) Serve(c *Connection) error {
	if c.principal.UserID == "" || c.principal.Username == "" {
		c.Close()
		c.setState(StateClosed)
		return ErrUnauthorized
	}
	if !h.track(c) {
		c.Close()
		c.setState(StateClosed)
		return context.Canceled
	}
	defer h.untrack(c)

	c.setState(StateConnecting)
	go c.WritePump()
	defer h.disconnect(c)

	h.connect(c)

	c.setState(StateReceiving)
	c.ReadPump(func(frame []byte) {
		h.receive(c, frame)
	})
	return nil
}

// connect queues the room history and then joins the room, so history is
// always the first envelope a client sees.
func (h *Hub) connect(c *Connection) {
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.StoreTimeout)
	records, err := h.store.RecentHistory(ctx, c.room, h.opts.HistoryLimit)
	cancel()
	if err != nil {
		log.Printf("[Hub] History for room %q unavailable, sending none: %v", c.room, err)
		records = nil
	}

	frame, err := EncodeHistory(records)
	if err != nil {
		log.Printf("[Hub] Failed to encode history for room %q: %v", c.room, err)
	} else if !c.Enqueue(frame) {
		log.Printf("[Hub] Connection %s could not take history", c.id)
	}

	h.registry.Join(c.room, c)
	c.setState(StateJoined)
	log.Printf("[Hub] %s (%s) joined room %q (%d members)", c.principal.Username, c.id, c.room, h.registry.Members(c.room))
}

func (h *Hub) receive(c *Connection, frame []byte) {
	if !c.allow() {
		if h.opts.Debug {
			log.Printf("[Hub] Connection %s over rate limit, dropping frame", c.id)
		}
		return
	}

	body, err := DecodeSendMessage(frame)
	if err != nil {
		if h.opts.Debug {
			log.Printf("[Hub] Connection %s sent unusable frame: %v", c.id, err)
		}
		return
	}

	if _, err := h.Publish(h.ctx, c.room, c.principal, body); err != nil {
		log.Printf("[Hub] Dropping message in room %q from %s: %v", c.room, c.principal.Username, err)
	}
}

// Publish persists body as a message from author and broadcasts the stored
// record to the room. It returns the chat_message envelope that was sent.
func (h *Hub) Publish(ctx context.Context, room string, author auth.Principal, body string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	rec, err := h.store.Append(ctx, room, store.Author{ID: author.UserID, Username: author.Username}, body)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	out, err := EncodeChatMessage(rec)
	if err != nil {
		return nil, fmt.Errorf("encode message %d: %w", rec.ID, err)
	}
	n := h.registry.Broadcast(room, out)
	if h.opts.Debug {
		log.Printf("[Hub] Message %d in room %q delivered to %d member(s)", rec.ID, room, n)
	}
	return out, nil
}

// disconnect leaves the room once and releases the socket.
func (h *Hub) disconnect(c *Connection) {
	c.setState(StateClosing)
	h.registry.Leave(c.room, c)
	c.CloseSend()

	select {
	case <-c.writeDone:
	case <-time.After(c.cfg.WriteWait):
	}
	c.Close()
	c.setState(StateClosed)
	log.Printf("[Hub] %s (%s) left room %q", c.principal.Username, c.id, c.room)
}

func (h *Hub) track(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.connections[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(c *Connection) {
	h.mu.Lock()
	delete(h.connections, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every connection and waits for their handlers to finish.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	log.Printf("[Hub] Shutting down, closing %d connection(s)", len(conns))
	h.cancel()
	for _, c := range conns {
		c.CloseSend()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.Close()
		}
		return ctx.Err()
	}
}
