package session

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Turn is one exchange in a conversation: the user question and the
// final answer envelope serialized as JSON.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps conversation history per session. Recent returns the
// last limit turns in chronological order; Append caps the retained
// history at the store's configured maximum.
type Store interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turn Turn) error
	DeleteExpired(ctx context.Context) (int, error)
}
