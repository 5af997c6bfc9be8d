package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type SessionRepository struct {
	backend *Backend
	now     func() time.Time
}

func NewSessionRepository(backend *Backend) *SessionRepository {
	return &SessionRepository{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *SessionRepository) GetSession(_ context.Context, documentID string) (*domain.ChatSession, error) {
	session := &domain.ChatSession{DocumentID: documentID}
	err := r.backend.view(func(tx *badger.Txn) error {
		_, err := getJSON(tx, makeSessionKey(documentID), session)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// AppendMessages writes the whole batch in one transaction.
func (r *SessionRepository) AppendMessages(_ context.Context, documentID string, messages ...domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return r.backend.update(func(tx *badger.Txn) error {
		session := domain.ChatSession{DocumentID: documentID}
		found, err := getJSON(tx, makeSessionKey(documentID), &session)
		if err != nil {
			return err
		}
		now := r.now()
		if !found {
			session.CreatedAt = now
		}
		session.Messages = append(session.Messages, messages...)
		session.UpdatedAt = now
		return setJSON(tx, makeSessionKey(documentID), session)
	})
}

func (r *SessionRepository) DeleteSession(_ context.Context, documentID string) error {
	return r.backend.update(func(tx *badger.Txn) error {
		return tx.Delete(makeSessionKey(documentID))
	})
}
