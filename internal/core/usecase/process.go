package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

// ProcessDocumentUseCase runs the pipeline stage a job names. Every stage fully replaces its output,
// so a redelivered job converges to the same result.
type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	chunks    ports.ChunkRepository
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	retrieval *RetrievalUseCase
	queue     ports.JobQueue
	now       func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	chunks ports.ChunkRepository,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	index ports.VectorIndex,
	queue ports.JobQueue,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:      repo,
		chunks:    chunks,
		storage:   storage,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		retrieval: NewRetrievalUseCase(embedder, index),
		queue:     queue,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process returns nil for stale deliveries: deleted documents, superseded revisions, terminal states
// and documents another writer moved while the stage ran.
func (uc *ProcessDocumentUseCase) Process(ctx context.Context, job *domain.Job) error {
	err := uc.process(ctx, job)
	if errors.Is(err, domain.ErrStaleTransition) {
		slog.Default().Info("stage_result_discarded",
			"job_id", job.ID,
			"document_id", job.DocumentID,
			"kind", string(job.Kind),
			"error", err.Error(),
		)
		return nil
	}
	return err
}

func (uc *ProcessDocumentUseCase) process(ctx context.Context, job *domain.Job) error {
	if err := domain.ValidateJob(job); err != nil {
		return err
	}

	doc, err := uc.repo.GetByID(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return nil
		}
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Revision != job.Revision || doc.State.Terminal() {
		return nil
	}

	switch job.Kind {
	case domain.JobKindExtract:
		return uc.extract(ctx, doc, job)
	case domain.JobKindChunkAndIndex:
		return uc.chunkAndIndex(ctx, doc, job)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "process job", fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

func (uc *ProcessDocumentUseCase) extract(ctx context.Context, doc *domain.Document, job *domain.Job) error {
	payload, err := job.ExtractPayload()
	if err != nil {
		return err
	}
	if err := uc.advance(ctx, doc, domain.StateExtracting); err != nil {
		return err
	}

	text, err := uc.extractText(ctx, doc, payload.StorageKeys)
	if err != nil {
		return domain.NewStageError(domain.StateExtracting, err)
	}

	textKey := domain.ExtractedTextKey(doc.ID, doc.Revision)
	if err := uc.storage.Save(ctx, textKey, strings.NewReader(text)); err != nil {
		return domain.NewStageError(domain.StateExtracting, domain.WrapError(domain.ErrTransientIO, "save extracted text", err))
	}

	next, err := domain.NewChunkAndIndexJob(doc, textKey)
	if err != nil {
		return domain.NewStageError(domain.StateExtracting, err)
	}
	if _, err := uc.queue.Enqueue(ctx, next); err != nil {
		return domain.NewStageError(domain.StateExtracting, fmt.Errorf("enqueue chunk-and-index job: %w", err))
	}
	return nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document, keys []string) (string, error) {
	files := make(map[string]domain.SourceFile, len(doc.SourceFiles))
	for _, f := range doc.SourceFiles {
		files[f.StorageKey] = f
	}

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		file, ok := files[key]
		if !ok {
			return "", domain.WrapError(domain.ErrMalformedInput, "extract text", fmt.Errorf("storage key %s is not a source of document %s", key, doc.ID))
		}
		text, err := uc.extractFile(ctx, file)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", file.Filename, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", domain.WrapError(domain.ErrMalformedInput, "extract text", errors.New("empty extracted text"))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (uc *ProcessDocumentUseCase) extractFile(ctx context.Context, file domain.SourceFile) (string, error) {
	body, err := uc.storage.Open(ctx, file.StorageKey)
	if err != nil {
		return "", domain.WrapError(domain.ErrTransientIO, "open source file", err)
	}
	defer body.Close()
	return uc.extractor.Extract(ctx, file, body)
}

func (uc *ProcessDocumentUseCase) chunkAndIndex(ctx context.Context, doc *domain.Document, job *domain.Job) error {
	payload, err := job.ChunkAndIndexPayload()
	if err != nil {
		return err
	}
	if err := uc.advance(ctx, doc, domain.StateChunking); err != nil {
		return err
	}

	text, err := uc.readText(ctx, payload.TextKey)
	if err != nil {
		return domain.NewStageError(domain.StateChunking, err)
	}

	texts, err := uc.chunk(text)
	if err != nil {
		return domain.NewStageError(domain.StateChunking, err)
	}

	vectors, err := uc.embed(ctx, texts)
	if err != nil {
		return domain.NewStageError(domain.StateChunking, err)
	}

	chunks := domain.BuildChunks(doc.ID, texts, vectors)
	if err := uc.chunks.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return domain.NewStageError(domain.StateChunking, fmt.Errorf("replace chunks: %w", err))
	}

	if err := uc.advance(ctx, doc, domain.StateIndexing); err != nil {
		return err
	}
	if err := uc.retrieval.Replace(ctx, doc.ID, chunks); err != nil {
		return domain.NewStageError(domain.StateIndexing, err)
	}

	return uc.advance(ctx, doc, domain.StateReady)
}

func (uc *ProcessDocumentUseCase) readText(ctx context.Context, key string) (string, error) {
	body, err := uc.storage.Open(ctx, key)
	if err != nil {
		return "", domain.WrapError(domain.ErrTransientIO, "open extracted text", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", domain.WrapError(domain.ErrTransientIO, "read extracted text", err)
	}
	return string(raw), nil
}

func (uc *ProcessDocumentUseCase) chunk(text string) ([]string, error) {
	chunks := uc.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrMalformedInput, "chunk document", errors.New("chunking produced zero chunks"))
	}
	return chunks, nil
}

func (uc *ProcessDocumentUseCase) embed(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors, err := uc.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: vectors/chunks mismatch: %d/%d", len(vectors), len(chunks))
	}
	return vectors, nil
}

// advance moves the document forward; re-entering the current or an earlier state is a no-op.
// The write is conditional on the state this stage read, so it fails with ErrStaleTransition
// once the document was failed, reprocessed or deleted underneath.
func (uc *ProcessDocumentUseCase) advance(ctx context.Context, doc *domain.Document, next domain.DocumentState) error {
	if !doc.State.Advances(next) {
		return nil
	}
	move := domain.StateTransition{
		DocumentID: doc.ID,
		Revision:   doc.Revision,
		From:       doc.State,
		To:         next,
		ErrorInfo:  doc.ErrorInfo,
		At:         uc.now(),
	}
	if err := uc.repo.UpdateState(ctx, move); err != nil {
		return fmt.Errorf("set state=%s: %w", next, err)
	}
	move.Apply(doc)
	return nil
}
