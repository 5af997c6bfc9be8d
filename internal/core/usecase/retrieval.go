package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

const defaultTopK = 5

// RetrievalUseCase is the document-scoped query side of the vector index.
type RetrievalUseCase struct {
	embedder ports.Embedder
	index    ports.VectorIndex
}

func NewRetrievalUseCase(embedder ports.Embedder, index ports.VectorIndex) *RetrievalUseCase {
	return &RetrievalUseCase{embedder: embedder, index: index}
}

// Insert embeds chunk when it carries no vector yet and adds it to the document's entries.
func (uc *RetrievalUseCase) Insert(ctx context.Context, documentID string, chunk domain.Chunk) error {
	return uc.insert(ctx, documentID, []domain.Chunk{chunk})
}

// Replace swaps the document's whole entry set for chunks.
func (uc *RetrievalUseCase) Replace(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if err := uc.Delete(ctx, documentID); err != nil {
		return err
	}
	return uc.insert(ctx, documentID, chunks)
}

func (uc *RetrievalUseCase) insert(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	chunks = append([]domain.Chunk(nil), chunks...)
	var missing []int
	for i := range chunks {
		chunk := &chunks[i]
		if chunk.DocumentID != "" && chunk.DocumentID != documentID {
			return domain.WrapError(domain.ErrInvalidInput, "insert chunk", fmt.Errorf("chunk %s belongs to %s", chunk.ID, chunk.DocumentID))
		}
		chunk.DocumentID = documentID
		if chunk.ID == "" {
			chunk.ID = domain.ChunkID(documentID, chunk.SequenceIndex)
		}
		if len(chunk.Embedding) == 0 {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = chunks[i].Text
		}
		vectors, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunk: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed chunk: expected %d vectors, got %d", len(texts), len(vectors))
		}
		for j, i := range missing {
			chunks[i].Embedding = vectors[j]
		}
	}

	if len(chunks) == 0 {
		return nil
	}
	if err := uc.index.Upsert(ctx, documentID, chunks); err != nil {
		return domain.WrapError(domain.ErrIndexUnavailable, "insert index entries", err)
	}
	return nil
}

// Query returns at most k chunks of documentID ranked by cosine similarity to queryText.
func (uc *RetrievalUseCase) Query(ctx context.Context, documentID, queryText string, k int) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query index", errors.New("query text is empty"))
	}
	if k <= 0 {
		k = defaultTopK
	}

	vector, err := uc.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := uc.index.Search(ctx, documentID, vector, k)
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "search index", err)
	}

	scoped := hits[:0]
	for _, hit := range hits {
		if hit.Chunk.DocumentID == documentID {
			scoped = append(scoped, hit)
		}
	}
	return domain.TopK(scoped, k), nil
}

func (uc *RetrievalUseCase) Delete(ctx context.Context, documentID string) error {
	if err := uc.index.DeleteDocument(ctx, documentID); err != nil {
		return domain.WrapError(domain.ErrIndexUnavailable, "delete index entries", err)
	}
	return nil
}
