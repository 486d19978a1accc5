package ws

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/classnet/classchat/internal/store"
)

// Envelope kinds (server -> client)
type EventType string

const (
	EventMessageHistory EventType = "message_history"
	EventChatMessage    EventType = "chat_message"
)

const (
	// historyTimeLayout is the created_at format of history entries.
	historyTimeLayout = "2006-01-02 15:04:05"
	// chatTimeLayout is ISO-8601 with microseconds and a numeric offset.
	chatTimeLayout = "2006-01-02T15:04:05.000000-07:00"
)

var (
	// ErrMalformedFrame is returned for inbound frames that are not {"message": string}.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrEmptyBody is returned for messages that are blank after trimming.
	ErrEmptyBody = errors.New("empty message body")
)

type HistoryEntry struct {
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
	Username  string `json:"username"`
}

type HistoryEvent struct {
	Type     EventType      `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

type ChatMessageEvent struct {
	Type     EventType `json:"type"`
	Message  string    `json:"message"`
	Date     string    `json:"date"`
	Username string    `json:"username"`
}

// Inbound frame (client -> server)
type SendMessageCmd struct {
	Message *string `json:"message"`
}

// EncodeHistory renders records, given most recent first as the store returns
// them, as a chronological message_history envelope.
func EncodeHistory(records []store.Record) ([]byte, error) {
	entries := make([]HistoryEntry, len(records))
	for i, rec := range records {
		entries[len(records)-1-i] = HistoryEntry{
			Message:   rec.Body,
			CreatedAt: rec.CreatedAt.UTC().Format(historyTimeLayout),
			Username:  rec.Author.Username,
		}
	}
	return json.Marshal(HistoryEvent{
		Type:     EventMessageHistory,
		Messages: entries,
	})
}

// EncodeChatMessage renders a persisted record as a chat_message envelope.
func EncodeChatMessage(rec store.Record) ([]byte, error) {
	return json.Marshal(ChatMessageEvent{
		Type:     EventChatMessage,
		Message:  rec.Body,
		Date:     rec.CreatedAt.UTC().Format(chatTimeLayout),
		Username: rec.Author.Username,
	})
}

// DecodeSendMessage extracts the message body of an inbound frame. The body is
// returned as sent; only its emptiness is judged after trimming.
func DecodeSendMessage(data []byte) (string, error) {
	var cmd SendMessageCmd
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Message == nil {
		return "", ErrMalformedFrame
	}
	if strings.TrimSpace(*cmd.Message) == "" {
		return "", ErrEmptyBody
	}
	return *cmd.Message, nil
}
