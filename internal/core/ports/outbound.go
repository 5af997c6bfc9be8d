package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	Update(ctx context.Context, doc *domain.Document) error
	// UpdateState applies t only if the stored revision and state still match; otherwise it
	// returns ErrStaleTransition and leaves the document untouched.
	UpdateState(ctx context.Context, t domain.StateTransition) error
	List(ctx context.Context, limit int) ([]domain.Document, error)
	// Delete removes the document if its state is one of states, or in any state when none are given.
	// A document in another state is kept and ErrInvalidInput is returned.
	Delete(ctx context.Context, id string, states ...domain.DocumentState) error
}

// ChunkRepository stores the chunk set of a document; writes replace the whole set.
type ChunkRepository interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	DeleteChunks(ctx context.Context, documentID string) error
}

// SessionRepository persists chat transcripts keyed by document id.
type SessionRepository interface {
	// GetSession returns an empty session when none was stored yet.
	GetSession(ctx context.Context, documentID string) (*domain.ChatSession, error)
	// AppendMessages stores all messages or none of them.
	AppendMessages(ctx context.Context, documentID string, messages ...domain.Message) error
	DeleteSession(ctx context.Context, documentID string) error
}

// JobStore is the durable backing list of the job queue.
type JobStore interface {
	// Insert returns domain.ErrJobExists when a job with the same id is stored.
	Insert(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Claim leases the oldest claimable job to workerID under token, or returns nil.
	Claim(ctx context.Context, workerID, token string, now, leaseUntil time.Time) (*domain.Job, error)
	// Update writes job only while the stored lease token equals expectedToken.
	Update(ctx context.Context, job *domain.Job, expectedToken string) error
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// JobNotifier wakes idle lease loops when new work is enqueued.
type JobNotifier interface {
	Notify(ctx context.Context, jobID string) error
	Wakeups() <-chan struct{}
}

// ObjectStorage stores uploaded source files and extracted text.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// TextExtractor turns one source file into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, file domain.SourceFile, body io.Reader) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Chunker interface {
	Split(text string) []string
}

// VectorIndex is the document-scoped similarity index.
type VectorIndex interface {
	Upsert(ctx context.Context, documentID string, chunks []domain.Chunk) error
	Search(ctx context.Context, documentID string, vector []float32, limit int) ([]domain.ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// AnswerGenerator produces an assistant answer for a grounded prompt.
// onToken may be nil; when set it receives fragments in order.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt domain.PromptContext, onToken domain.TokenFunc) (string, error)
}

type ReportRenderer interface {
	Render(ctx context.Context, in domain.ReportInput) ([]byte, error)
}
