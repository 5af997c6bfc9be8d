package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type processFixture struct {
	repo    *docRepoFake
	chunks  *chunkRepoFake
	storage *storageFake
	index   *indexFake
	queue   *queueFake
	uc      *ProcessDocumentUseCase
}

func newProcessFixture(doc domain.Document, body string) *processFixture {
	f := &processFixture{
		repo:    newDocRepoFake(doc),
		chunks:  newChunkRepoFake(),
		storage: newStorageFake(),
		index:   newIndexFake(),
		queue:   &queueFake{},
	}
	for _, src := range doc.SourceFiles {
		f.storage.objects[src.StorageKey] = []byte(body)
	}
	f.uc = NewProcessDocumentUseCase(
		f.repo, f.chunks, f.storage, &extractorFake{}, wordChunker{}, &letterEmbedder{}, f.index, f.queue,
	)
	return f
}

func TestProcessExtractStoresTextAndEnqueuesIndexing(t *testing.T) {
	doc := testDocument("doc-1")
	f := newProcessFixture(doc, "alpha paragraph\n\nbeta paragraph")

	if err := f.uc.Process(context.Background(), extractJobFor(t, doc)); err != nil {
		t.Fatalf("Process(extract) error = %v", err)
	}

	key := domain.ExtractedTextKey("doc-1", 1)
	if string(f.storage.objects[key]) != "alpha paragraph\n\nbeta paragraph" {
		t.Fatalf("unexpected extracted text %q", f.storage.objects[key])
	}
	if len(f.queue.enqueued) != 1 || f.queue.enqueued[0].ID != "doc-1/1/chunk-and-index" {
		t.Fatalf("unexpected follow-up jobs %+v", f.queue.enqueued)
	}
	if got := f.repo.get("doc-1").State; got != domain.StateExtracting {
		t.Fatalf("state = %s, want extracting", got)
	}
}

func runChunkAndIndex(t *testing.T, f *processFixture, doc domain.Document) {
	t.Helper()
	job, err := domain.NewChunkAndIndexJob(&doc, domain.ExtractedTextKey(doc.ID, doc.Revision))
	if err != nil {
		t.Fatalf("NewChunkAndIndexJob() error = %v", err)
	}
	if err := f.uc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process(chunk-and-index) error = %v", err)
	}
}

func TestProcessChunkAndIndexReachesReadyWithGaplessChunks(t *testing.T) {
	doc := testDocument("doc-1")
	doc.State = domain.StateExtracting
	f := newProcessFixture(doc, "")
	f.storage.objects[domain.ExtractedTextKey("doc-1", 1)] = []byte("one\n\ntwo\n\nthree")

	runChunkAndIndex(t, f, doc)

	got := f.repo.get("doc-1")
	if got.State != domain.StateReady {
		t.Fatalf("state = %s, want ready", got.State)
	}
	wantStates := []domain.DocumentState{domain.StateChunking, domain.StateIndexing, domain.StateReady}
	if !reflect.DeepEqual(f.repo.updates, wantStates) {
		t.Fatalf("state updates = %v, want %v", f.repo.updates, wantStates)
	}
	stored := f.chunks.chunks["doc-1"]
	if len(stored) != 3 || !domain.Gapless(stored) {
		t.Fatalf("expected 3 gapless chunks, got %+v", stored)
	}
	if ids := f.index.ids("doc-1"); !reflect.DeepEqual(ids, []string{"doc-1:0", "doc-1:1", "doc-1:2"}) {
		t.Fatalf("unexpected index ids %v", ids)
	}
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	doc := testDocument("doc-1")
	doc.State = domain.StateChunking
	f := newProcessFixture(doc, "")
	f.storage.objects[domain.ExtractedTextKey("doc-1", 1)] = []byte("one\n\ntwo")

	runChunkAndIndex(t, f, doc)
	first := f.chunks.chunks["doc-1"]

	// the same delivery again, as if the ack was lost before the state change
	redelivered := f.repo.get("doc-1")
	redelivered.State = domain.StateIndexing
	f.repo.docs["doc-1"] = redelivered
	runChunkAndIndex(t, f, doc)

	if !reflect.DeepEqual(first, f.chunks.chunks["doc-1"]) {
		t.Fatalf("chunk set changed across redelivery")
	}
	if ids := f.index.ids("doc-1"); len(ids) != 2 {
		t.Fatalf("index holds duplicates: %v", ids)
	}
	if f.repo.get("doc-1").State != domain.StateReady {
		t.Fatalf("expected ready after redelivery")
	}
}

func TestProcessSkipsStaleDeliveries(t *testing.T) {
	doc := testDocument("doc-1")
	doc.Revision = 2
	f := newProcessFixture(doc, "text")

	old := doc
	old.Revision = 1
	if err := f.uc.Process(context.Background(), extractJobFor(t, old)); err != nil {
		t.Fatalf("stale revision should be a no-op, got %v", err)
	}
	if len(f.repo.updates) != 0 || len(f.queue.enqueued) != 0 {
		t.Fatalf("stale delivery mutated state")
	}

	ready := testDocument("doc-2")
	ready.State = domain.StateReady
	f.repo.docs["doc-2"] = ready
	if err := f.uc.Process(context.Background(), extractJobFor(t, ready)); err != nil {
		t.Fatalf("ready document should be a no-op, got %v", err)
	}

	missing := testDocument("gone")
	if err := f.uc.Process(context.Background(), extractJobFor(t, missing)); err != nil {
		t.Fatalf("deleted document should be a no-op, got %v", err)
	}
}

func TestProcessEmptyTextIsMalformed(t *testing.T) {
	doc := testDocument("doc-1")
	f := newProcessFixture(doc, "   \n ")

	err := f.uc.Process(context.Background(), extractJobFor(t, doc))
	if !domain.IsKind(err, domain.ErrMalformedInput) || domain.Retryable(err) {
		t.Fatalf("expected non-retryable malformed input, got %v", err)
	}
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Failure != domain.FailureExtraction {
		t.Fatalf("expected extraction stage error, got %v", err)
	}
}

func TestProcessIndexFailureIsIndexingFailed(t *testing.T) {
	doc := testDocument("doc-1")
	f := newProcessFixture(doc, "")
	f.storage.objects[domain.ExtractedTextKey("doc-1", 1)] = []byte("one")
	f.index.err = errors.New("qdrant unavailable")

	job, _ := domain.NewChunkAndIndexJob(&doc, domain.ExtractedTextKey("doc-1", 1))
	err := f.uc.Process(context.Background(), job)
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Failure != domain.FailureIndexing || stageErr.Stage != domain.StateIndexing {
		t.Fatalf("expected indexing stage error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrIndexUnavailable) || !domain.Retryable(err) {
		t.Fatalf("index outage should be retryable index unavailable, got %v", err)
	}
	if f.repo.get("doc-1").State != domain.StateIndexing {
		t.Fatalf("state must not move past indexing on failure")
	}
}

// gateEmbedder parks Embed until release is closed, holding a stage mid-flight.
type gateEmbedder struct {
	letterEmbedder
	entered chan struct{}
	release chan struct{}
}

func newGateEmbedder() *gateEmbedder {
	return &gateEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
}

func (e *gateEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	close(e.entered)
	<-e.release
	return e.letterEmbedder.Embed(ctx, texts)
}

func TestDeadLetteredDocumentStaysFailedWhenExpiredWorkerResumes(t *testing.T) {
	ctx := context.Background()
	doc := testDocument("doc-1")
	doc.State = domain.StateExtracting
	q, store, repo, clock := newTestQueue(t, 1, doc)

	storage := newStorageFake()
	textKey := domain.ExtractedTextKey("doc-1", 1)
	storage.objects[textKey] = []byte("one\n\ntwo")
	embedder := newGateEmbedder()
	index := newIndexFake()
	uc := NewProcessDocumentUseCase(repo, newChunkRepoFake(), storage, &extractorFake{}, wordChunker{}, embedder, index, q)

	job, err := domain.NewChunkAndIndexJob(&doc, textKey)
	if err != nil {
		t.Fatalf("NewChunkAndIndexJob() error = %v", err)
	}
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	leased, err := q.Lease(ctx, "w1", time.Minute)
	if err != nil || leased == nil {
		t.Fatalf("Lease(w1) = %v, %v", leased, err)
	}

	done := make(chan error, 1)
	go func() { done <- uc.Process(ctx, leased) }()
	<-embedder.entered

	clock.Advance(2 * time.Minute)
	next, err := q.Lease(ctx, "w2", time.Minute)
	if err != nil || next != nil {
		t.Fatalf("expired lease with no attempts left should dead-letter, got %v, %v", next, err)
	}
	if got := repo.get("doc-1"); got.State != domain.StateFailed {
		t.Fatalf("state after dead-letter = %s, want failed", got.State)
	}

	close(embedder.release)
	if err := <-done; err != nil {
		t.Fatalf("resumed stage should be discarded, got %v", err)
	}

	got := repo.get("doc-1")
	if got.State != domain.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.ErrorInfo == nil || got.ErrorInfo.Kind != domain.KindAttemptsExhausted {
		t.Fatalf("error info lost: %+v", got.ErrorInfo)
	}
	if ids := index.ids("doc-1"); len(ids) != 0 {
		t.Fatalf("discarded stage indexed chunks: %v", ids)
	}
	if dead := store.get(job.ID); dead.Status != domain.JobStatusDead {
		t.Fatalf("job status = %s, want dead", dead.Status)
	}
	if err := q.Ack(ctx, leased); !errors.Is(err, domain.ErrLeaseLost) {
		t.Fatalf("expired worker must not ack, got %v", err)
	}
}

func TestReprocessedRevisionIsNotOverwrittenByOldStage(t *testing.T) {
	doc := testDocument("doc-1")
	doc.State = domain.StateExtracting
	f := newProcessFixture(doc, "")
	f.storage.objects[domain.ExtractedTextKey("doc-1", 1)] = []byte("one\n\ntwo")
	embedder := newGateEmbedder()
	f.uc = NewProcessDocumentUseCase(f.repo, f.chunks, f.storage, &extractorFake{}, wordChunker{}, embedder, f.index, f.queue)

	job, _ := domain.NewChunkAndIndexJob(&doc, domain.ExtractedTextKey("doc-1", 1))
	done := make(chan error, 1)
	go func() { done <- f.uc.Process(context.Background(), job) }()
	<-embedder.entered

	reprocessed := f.repo.get("doc-1")
	reprocessed.Revision = 2
	reprocessed.State = domain.StateQueued
	f.repo.set(reprocessed)

	close(embedder.release)
	if err := <-done; err != nil {
		t.Fatalf("old revision stage should be discarded, got %v", err)
	}
	got := f.repo.get("doc-1")
	if got.Revision != 2 || got.State != domain.StateQueued {
		t.Fatalf("reprocessed document overwritten: revision %d state %s", got.Revision, got.State)
	}
}
