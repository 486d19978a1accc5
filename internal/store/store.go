// Package store persists chat messages and serves the recent history of a room.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownDriver is returned by Open for an unsupported store.driver.
var ErrUnknownDriver = errors.New("unknown store driver")

// Author identifies who wrote a message.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Record is one persisted chat message.
type Record struct {
	ID        int64     `json:"id"`
	Room      string    `json:"room"`
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable message log used by the hub.
//
// RecentHistory returns at most limit records for room, most recent first,
// and an empty slice when the room has no history.
type Store interface {
	Append(ctx context.Context, room string, author Author, body string) (Record, error)
	RecentHistory(ctx context.Context, room string, limit int) ([]Record, error)
	Rooms(ctx context.Context) ([]string, error)
	Close() error
}
