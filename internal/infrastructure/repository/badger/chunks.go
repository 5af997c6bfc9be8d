package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

// ChunkRepository keeps chunk text without embeddings; vectors live in the VectorIndex keyspace.
type ChunkRepository struct {
	backend *Backend
}

func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

func (r *ChunkRepository) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	return r.backend.update(func(tx *badger.Txn) error {
		if err := deletePrefix(tx, makeChunkPrefix(documentID)); err != nil {
			return err
		}
		for _, chunk := range chunks {
			chunk.Embedding = nil
			if err := setJSON(tx, makeChunkKey(documentID, chunk.SequenceIndex), chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ChunkRepository) ListChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeChunkPrefix(documentID), func(_, val []byte) error {
			var chunk domain.Chunk
			if err := json.Unmarshal(val, &chunk); err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			chunks = append(chunks, chunk)
			return nil
		})
	})
	return chunks, err
}

func (r *ChunkRepository) DeleteChunks(_ context.Context, documentID string) error {
	return r.backend.update(func(tx *badger.Txn) error {
		return deletePrefix(tx, makeChunkPrefix(documentID))
	})
}
