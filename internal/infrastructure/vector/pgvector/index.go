package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

const schemaLockID int64 = 2026021002

// Index is a VectorIndex over a pgvector table sharing the metadata database.
type Index struct {
	db *sql.DB
}

func New(db *sql.DB) *Index {
	return &Index{db: db}
}

func (i *Index) EnsureSchema(ctx context.Context) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire vector schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS chunk_vectors (
	document_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	embedding vector NOT NULL,
	PRIMARY KEY (document_id, seq)
);
`); err != nil {
		return fmt.Errorf("execute vector schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector schema tx: %w", err)
	}
	return nil
}

func (i *Index) Upsert(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, chunk := range chunks {
		if chunk.DocumentID != documentID {
			return domain.WrapError(domain.ErrInvalidInput, "pgvector upsert", fmt.Errorf("chunk %s belongs to %s", chunk.ID, chunk.DocumentID))
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunk_vectors (document_id, seq, text, embedding)
VALUES ($1,$2,$3,$4)
ON CONFLICT (document_id, seq) DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding
`, documentID, chunk.SequenceIndex, chunk.Text, pgvector.NewVector(chunk.Embedding)); err != nil {
			return fmt.Errorf("upsert vector %s: %w", chunk.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector upsert tx: %w", err)
	}
	return nil
}

// Search ranks by cosine distance; equal distances fall back to document order.
func (i *Index) Search(ctx context.Context, documentID string, vector []float32, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := i.db.QueryContext(ctx, `
SELECT seq, text, 1 - (embedding <=> $2) AS score
FROM chunk_vectors
WHERE document_id = $1
ORDER BY embedding <=> $2, seq
LIMIT $3
`, documentID, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredChunk, 0, limit)
	for rows.Next() {
		hit := domain.ScoredChunk{Chunk: domain.Chunk{DocumentID: documentID}}
		if err := rows.Scan(&hit.Chunk.SequenceIndex, &hit.Chunk.Text, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hit.Chunk.ID = domain.ChunkID(documentID, hit.Chunk.SequenceIndex)
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector hits: %w", err)
	}
	return out, nil
}

func (i *Index) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := i.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}
