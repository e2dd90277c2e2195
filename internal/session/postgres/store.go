package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tabletalk/tabletalk/internal/session"
)

// Store persists conversation turns in Postgres so history survives
// restarts and is shared across replicas.
type Store struct {
	db       *sql.DB
	ttl      time.Duration
	maxTurns int
}

func NewStore(db *sql.DB, ttl time.Duration, maxTurns int) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Store{db: db, ttl: ttl, maxTurns: maxTurns}, nil
}

func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]session.Turn, error) {
	query := `
SELECT question, answer, action, created_at
FROM (
	SELECT question, answer, action, created_at
	FROM session_turn
	WHERE session_id = $1 AND created_at > $2
	ORDER BY created_at DESC
	LIMIT $3
) recent
ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, time.Now().UTC().Add(-s.ttl), limit)
	if err != nil {
		return nil, fmt.Errorf("list session turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]session.Turn, 0)
	for rows.Next() {
		var turn session.Turn
		if err := rows.Scan(&turn.Question, &turn.Answer, &turn.Action, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session turns: %w", err)
	}
	return turns, nil
}

func (s *Store) Append(ctx context.Context, sessionID string, turn session.Turn) error {
	insert := `
INSERT INTO session_turn (session_id, question, answer, action, created_at)
VALUES ($1, $2, $3, $4, $5)`
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, insert, sessionID, turn.Question, turn.Answer, turn.Action, createdAt); err != nil {
		return fmt.Errorf("insert session turn: %w", err)
	}

	trim := `
DELETE FROM session_turn
WHERE session_id = $1 AND created_at NOT IN (
	SELECT created_at FROM session_turn
	WHERE session_id = $1
	ORDER BY created_at DESC
	LIMIT $2
)`
	if _, err := s.db.ExecContext(ctx, trim, sessionID, s.maxTurns); err != nil {
		return fmt.Errorf("trim session turns: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM session_turn WHERE created_at <= $1`,
		time.Now().UTC().Add(-s.ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}
	return int(affected), nil
}
