package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id         BIGSERIAL PRIMARY KEY,
	room_name  VARCHAR(255) NOT NULL,
	body       TEXT NOT NULL,
	user_id    VARCHAR(64) NOT NULL,
	username   VARCHAR(255) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created
	ON chat_messages (room_name, created_at DESC, id DESC);
`

// Postgres stores messages in PostgreSQL through a pgx pool. The database
// assigns created_at so timestamps follow commit order across hub processes.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and ensures the
// chat_messages table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := NewPostgres(pool)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the chat_messages table and its index if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create chat_messages: %w", err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, room string, author Author, body string) (Record, error) {
	rec := Record{Room: room, Body: body, Author: author}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (room_name, body, user_id, username)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		room, body, author.ID, author.Username,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert message: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (p *Postgres) RecentHistory(ctx context.Context, room string, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, room_name, body, user_id, username, created_at
		   FROM chat_messages
		  WHERE room_name = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.Room, &rec.Body, &rec.Author.ID, &rec.Author.Username, &rec.CreatedAt)
		rec.CreatedAt = rec.CreatedAt.UTC()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (p *Postgres) Rooms(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT room_name FROM chat_messages ORDER BY room_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	rooms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan rooms: %w", err)
	}
	return rooms, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
