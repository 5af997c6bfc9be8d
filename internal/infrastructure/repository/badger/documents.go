package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type DocumentRepository struct {
	backend *Backend
}

func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) error {
	return r.backend.update(func(tx *badger.Txn) error {
		var existing domain.Document
		found, err := getJSON(tx, makeDocumentKey(doc.ID), &existing)
		if err != nil {
			return err
		}
		if found {
			return domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("document %s already exists", doc.ID))
		}
		return setJSON(tx, makeDocumentKey(doc.ID), doc)
	})
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	err := r.backend.view(func(tx *badger.Txn) error {
		found, err := getJSON(tx, makeDocumentKey(id), &doc)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrDocumentNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) Update(_ context.Context, doc *domain.Document) error {
	return r.backend.update(func(tx *badger.Txn) error {
		var existing domain.Document
		found, err := getJSON(tx, makeDocumentKey(doc.ID), &existing)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrDocumentNotFound
		}
		return setJSON(tx, makeDocumentKey(doc.ID), doc)
	})
}

func (r *DocumentRepository) UpdateState(_ context.Context, t domain.StateTransition) error {
	return r.backend.update(func(tx *badger.Txn) error {
		var doc domain.Document
		found, err := getJSON(tx, makeDocumentKey(t.DocumentID), &doc)
		if err != nil {
			return err
		}
		if !found {
			return domain.WrapError(domain.ErrStaleTransition, "update document state", domain.ErrDocumentNotFound)
		}
		if !t.Matches(&doc) {
			return domain.WrapError(domain.ErrStaleTransition, "update document state",
				fmt.Errorf("want %s@%d, stored %s@%d", t.From, t.Revision, doc.State, doc.Revision))
		}
		t.Apply(&doc)
		return setJSON(tx, makeDocumentKey(doc.ID), doc)
	})
}

// List returns the newest documents first.
func (r *DocumentRepository) List(_ context.Context, limit int) ([]domain.Document, error) {
	var docs []domain.Document
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(documentPrefix), func(_, val []byte) error {
			var doc domain.Document
			if err := json.Unmarshal(val, &doc); err != nil {
				return fmt.Errorf("decode document: %w", err)
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (r *DocumentRepository) Delete(_ context.Context, id string, states ...domain.DocumentState) error {
	return r.backend.update(func(tx *badger.Txn) error {
		var existing domain.Document
		found, err := getJSON(tx, makeDocumentKey(id), &existing)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrDocumentNotFound
		}
		if err := domain.CheckStateIn(&existing, "delete document", states); err != nil {
			return err
		}
		return tx.Delete(makeDocumentKey(id))
	})
}
