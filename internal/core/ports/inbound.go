package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type UploadFile struct {
	Filename string
	MimeType string
	Body     io.Reader
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, files []UploadFile, tags []string) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, limit int) ([]domain.Document, error)
}

// DocumentAdmin covers lifecycle operations outside the normal pipeline.
type DocumentAdmin interface {
	Delete(ctx context.Context, id string) error
	Reprocess(ctx context.Context, id string) (*domain.Document, error)
}

// JobQueue is the lease/ack/fail contract consumed by workers.
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.Job) (string, error)
	Lease(ctx context.Context, workerID string, visibility time.Duration) (*domain.Job, error)
	Ack(ctx context.Context, job *domain.Job) error
	Fail(ctx context.Context, job *domain.Job, reason error) (domain.FailOutcome, error)
}

// DeadLetterAdmin exposes dead-lettered jobs for inspection and requeue.
type DeadLetterAdmin interface {
	DeadLetters(ctx context.Context, limit int) ([]domain.Job, error)
	Requeue(ctx context.Context, jobID string) error
}

// JobProcessor runs one leased job to completion.
type JobProcessor interface {
	Process(ctx context.Context, job *domain.Job) error
}

type ChatService interface {
	PostMessage(ctx context.Context, documentID, userText string, onToken domain.TokenFunc) (*domain.ChatReply, error)
	GetSession(ctx context.Context, documentID string) (*domain.ChatSession, error)
}

type ReportExporter interface {
	Export(ctx context.Context, documentID string) (*domain.Report, error)
}
