package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// message is the chat_messages row.
type message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	RoomName  string    `gorm:"size:255;not null;index:idx_chat_messages_room_created,priority:1"`
	Body      string    `gorm:"type:text;not null"`
	UserID    string    `gorm:"size:64;not null"`
	Username  string    `gorm:"size:255;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_chat_messages_room_created,priority:2"`
}

func (message) TableName() string {
	return "chat_messages"
}

func (m message) record() Record {
	return Record{
		ID:        m.ID,
		Room:      m.RoomName,
		Body:      m.Body,
		Author:    Author{ID: m.UserID, Username: m.Username},
		CreatedAt: m.CreatedAt.UTC(),
	}
}

// SQL stores messages through GORM.
type SQL struct {
	db *gorm.DB

	// Serialises Append so created_at follows insertion order.
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the SQLite database at path and migrates the
// chat_messages table. ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	// ":memory:" is per connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewSQL(db)
}

// NewSQL wraps an open GORM handle and migrates the chat_messages table.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate chat_messages: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Append(ctx context.Context, room string, author Author, body string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := message{
		RoomName:  room,
		Body:      body,
		UserID:    author.ID,
		Username:  author.Username,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Record{}, fmt.Errorf("failed to create message: %w", err)
	}
	return row.record(), nil
}

func (s *SQL) RecentHistory(ctx context.Context, room string, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	var rows []message
	err := s.db.WithContext(ctx).
		Where("room_name = ?", room).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (s *SQL) Rooms(ctx context.Context) ([]string, error) {
	var rooms []string
	err := s.db.WithContext(ctx).
		Model(&message{}).
		Distinct("room_name").
		Order("room_name").
		Pluck("room_name", &rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// Ping checks that the database is reachable.
func (s *SQL) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
