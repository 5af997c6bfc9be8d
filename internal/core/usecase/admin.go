package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

// DocumentAdminUseCase handles reads, cascade delete and reprocessing of documents.
type DocumentAdminUseCase struct {
	repo      ports.DocumentRepository
	chunks    ports.ChunkRepository
	sessions  ports.SessionRepository
	jobs      ports.JobStore
	retrieval *RetrievalUseCase
	storage   ports.ObjectStorage
	queue     ports.JobQueue
	now       func() time.Time
}

func NewDocumentAdminUseCase(
	repo ports.DocumentRepository,
	chunks ports.ChunkRepository,
	sessions ports.SessionRepository,
	jobs ports.JobStore,
	index ports.VectorIndex,
	storage ports.ObjectStorage,
	queue ports.JobQueue,
) *DocumentAdminUseCase {
	return &DocumentAdminUseCase{
		repo:      repo,
		chunks:    chunks,
		sessions:  sessions,
		jobs:      jobs,
		retrieval: NewRetrievalUseCase(nil, index),
		storage:   storage,
		queue:     queue,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *DocumentAdminUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return uc.repo.GetByID(ctx, id)
}

func (uc *DocumentAdminUseCase) List(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	return uc.repo.List(ctx, limit)
}

// Delete removes a ready or failed document with its chunks, index entries, session, jobs and
// extracted text. Documents still in the pipeline are rejected like Reprocess rejects them.
// Source blobs are content addressed and may be shared, so they stay.
func (uc *DocumentAdminUseCase) Delete(ctx context.Context, id string) error {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if err := domain.CheckStateIn(doc, "delete document", settledStates); err != nil {
		return err
	}

	if err := uc.retrieval.Delete(ctx, id); err != nil {
		return err
	}
	if err := uc.chunks.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := uc.sessions.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := uc.jobs.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	for rev := 1; rev <= doc.Revision; rev++ {
		if err := uc.storage.Delete(ctx, domain.ExtractedTextKey(id, rev)); err != nil {
			return fmt.Errorf("delete extracted text: %w", err)
		}
	}
	if err := uc.repo.Delete(ctx, id, settledStates...); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

var settledStates = []domain.DocumentState{domain.StateReady, domain.StateFailed}

// Reprocess starts a new revision of a ready or failed document from extraction.
func (uc *DocumentAdminUseCase) Reprocess(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if err := domain.CheckStateIn(doc, "reprocess document", settledStates); err != nil {
		return nil, err
	}

	if err := uc.retrieval.Delete(ctx, id); err != nil {
		return nil, err
	}
	if err := uc.chunks.DeleteChunks(ctx, id); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}

	doc.Revision++
	doc.State = domain.StateQueued
	doc.ErrorInfo = nil
	doc.UpdatedAt = uc.now()
	if err := uc.repo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("reset document: %w", err)
	}

	job, err := domain.NewExtractJob(doc)
	if err != nil {
		return nil, err
	}
	if _, err := uc.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue extract job: %w", err)
	}
	return doc, nil
}
