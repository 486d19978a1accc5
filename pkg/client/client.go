// Package client connects to a chat room over WebSocket.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWait = time.Second

var ErrClosed = errors.New("connection closed")

// EventType names a server envelope.
type EventType string

const (
	EventMessageHistory EventType = "message_history"
	EventChatMessage    EventType = "chat_message"
)

// HistoryEntry is one message of the history sent on join, oldest first.
type HistoryEntry struct {
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
	Username  string `json:"username"`
}

// ChatMessage is a live message broadcast to the room.
type ChatMessage struct {
	Message  string `json:"message"`
	Date     string `json:"date"`
	Username string `json:"username"`
}

// Event is one envelope received from the server. Exactly one of History and
// Message is set.
type Event struct {
	Type    EventType
	History []HistoryEntry
	Message *ChatMessage
}

type sendMessage struct {
	Message string `json:"message"`
}

type Client struct {
	serverURL string
	room      string
	token     string
	conn      *websocket.Conn
	send      chan []byte
	events    chan Event
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

// NewClient prepares a client for room on serverURL (host:port).
func NewClient(serverURL, room, token string) *Client {
	return &Client{
		serverURL: serverURL,
		room:      room,
		token:     token,
		send:      make(chan []byte, 64),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
}

func (c *Client) Room() string { return c.room }

func (c *Client) Connect() error {
	u := url.URL{
		Scheme:  "ws",
		Host:    c.serverURL,
		Path:    "/ws/chat/" + c.room,
		RawPath: "/ws/chat/" + url.PathEscape(c.room),
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial error: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial error: %w", err)
	}

	c.conn = conn
	return nil
}

// Run starts the read and write pumps.
func (c *Client) Run() error {
	if c.conn == nil {
		return fmt.Errorf("connection not established")
	}

	go c.readPump()
	go c.writePump()

	return nil
}

// Events delivers server envelopes in arrival order. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readPump() {
	defer func() {
		close(c.events)
		close(c.readDone)
		c.shutdown()
		if err := c.conn.Close(); err != nil {
			log.Printf("Close error: %v", err)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		ev, err := decodeEvent(data)
		if err != nil {
			log.Printf("Error parsing envelope: %v", err)
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("Write error: %v", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func decodeEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, err
	}

	switch head.Type {
	case EventMessageHistory:
		var hist struct {
			Messages []HistoryEntry `json:"messages"`
		}
		if err := json.Unmarshal(data, &hist); err != nil {
			return Event{}, err
		}
		if hist.Messages == nil {
			hist.Messages = []HistoryEntry{}
		}
		return Event{Type: head.Type, History: hist.Messages}, nil

	case EventChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return Event{}, err
		}
		return Event{Type: head.Type, Message: &msg}, nil

	default:
		return Event{}, fmt.Errorf("unknown message type: %q", head.Type)
	}
}

// Send posts a message to the room.
func (c *Client) Send(body string) error {
	payload, err := json.Marshal(sendMessage{Message: body})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Close says goodbye to the server and releases the socket. It waits up to
// closeWait for the server to acknowledge before dropping the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.shutdown()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return c.conn.Close()
	}

	select {
	case <-c.readDone:
		return nil
	case <-time.After(closeWait):
		return c.conn.Close()
	}
}
