package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

// VectorIndex scores a document's chunks by exact cosine similarity over a prefix scan.
type VectorIndex struct {
	backend *Backend
}

func NewVectorIndex(backend *Backend) *VectorIndex {
	return &VectorIndex{backend: backend}
}

func (v *VectorIndex) Upsert(_ context.Context, documentID string, chunks []domain.Chunk) error {
	return v.backend.update(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if chunk.DocumentID != documentID {
				return domain.WrapError(domain.ErrInvalidInput, "upsert vectors", fmt.Errorf("chunk %s belongs to %s", chunk.ID, chunk.DocumentID))
			}
			if err := setJSON(tx, makeVectorKey(documentID, chunk.SequenceIndex), chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *VectorIndex) Search(_ context.Context, documentID string, vector []float32, limit int) ([]domain.ScoredChunk, error) {
	var hits []domain.ScoredChunk
	err := v.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeVectorPrefix(documentID), func(_, val []byte) error {
			var chunk domain.Chunk
			if err := json.Unmarshal(val, &chunk); err != nil {
				return fmt.Errorf("decode vector: %w", err)
			}
			score := domain.CosineSimilarity(vector, chunk.Embedding)
			chunk.Embedding = nil
			hits = append(hits, domain.ScoredChunk{Chunk: chunk, Score: score})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return domain.TopK(hits, limit), nil
}

func (v *VectorIndex) DeleteDocument(_ context.Context, documentID string) error {
	return v.backend.update(func(tx *badger.Txn) error {
		return deletePrefix(tx, makeVectorPrefix(documentID))
	})
}
