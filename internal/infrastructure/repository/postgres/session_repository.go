package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SessionRepository) GetSession(ctx context.Context, documentID string) (*domain.ChatSession, error) {
	session := &domain.ChatSession{DocumentID: documentID}
	err := r.db.QueryRowContext(ctx, `
SELECT created_at, updated_at
FROM chat_sessions
WHERE document_id = $1
`, documentID).Scan(&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT role, content, cited_chunk_ids, created_at
FROM chat_messages
WHERE document_id = $1
ORDER BY position
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg      domain.Message
			role     string
			citedRaw []byte
		)
		if err := rows.Scan(&role, &msg.Content, &citedRaw, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = domain.Role(role)
		if err := json.Unmarshal(citedRaw, &msg.CitedChunkIDs); err != nil {
			return nil, fmt.Errorf("unmarshal cited chunks: %w", err)
		}
		if len(msg.CitedChunkIDs) == 0 {
			msg.CitedChunkIDs = nil
		}
		session.Messages = append(session.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return session, nil
}

// AppendMessages locks the session row so concurrent appenders get consecutive positions.
func (r *SessionRepository) AppendMessages(ctx context.Context, documentID string, messages ...domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO chat_sessions (document_id, created_at, updated_at)
VALUES ($1,$2,$2)
ON CONFLICT (document_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
`, documentID, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(position) + 1, 0)
FROM chat_messages
WHERE document_id = $1
`, documentID).Scan(&next); err != nil {
		return fmt.Errorf("next message position: %w", err)
	}

	for i, msg := range messages {
		cited := msg.CitedChunkIDs
		if cited == nil {
			cited = []string{}
		}
		citedJSON, err := json.Marshal(cited)
		if err != nil {
			return fmt.Errorf("marshal cited chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages (document_id, position, role, content, cited_chunk_ids, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, documentID, next+i, string(msg.Role), msg.Content, citedJSON, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
