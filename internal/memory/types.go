package memory

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord is one chat message within a conversation session.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists chat history per conversation session.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// History returns up to limit of the most recent turns in chronological order.
	History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
