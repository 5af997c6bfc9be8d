package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type docRepoFake struct {
	mu      sync.Mutex
	docs    map[string]domain.Document
	updates []domain.DocumentState
	err     error
}

func newDocRepoFake(docs ...domain.Document) *docRepoFake {
	f := &docRepoFake{docs: make(map[string]domain.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs[doc.ID] = *doc
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return &doc, nil
}

func (f *docRepoFake) Update(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs[doc.ID] = *doc
	f.updates = append(f.updates, doc.State)
	return nil
}

func (f *docRepoFake) UpdateState(_ context.Context, t domain.StateTransition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	doc, ok := f.docs[t.DocumentID]
	if !ok || !t.Matches(&doc) {
		return domain.WrapError(domain.ErrStaleTransition, "update document state", errors.New(t.DocumentID))
	}
	t.Apply(&doc)
	f.docs[doc.ID] = doc
	f.updates = append(f.updates, doc.State)
	return nil
}

func (f *docRepoFake) List(_ context.Context, limit int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, d)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *docRepoFake) Delete(_ context.Context, id string, states ...domain.DocumentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", errors.New(id))
	}
	if err := domain.CheckStateIn(&doc, "delete document", states); err != nil {
		return err
	}
	delete(f.docs, id)
	return nil
}

// set overwrites a stored document, standing in for a concurrent writer.
func (f *docRepoFake) set(doc domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
}

func (f *docRepoFake) get(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

type chunkRepoFake struct {
	mu       sync.Mutex
	chunks   map[string][]domain.Chunk
	replaces int
}

func newChunkRepoFake() *chunkRepoFake {
	return &chunkRepoFake{chunks: make(map[string][]domain.Chunk)}
}

func (f *chunkRepoFake) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[documentID] = append([]domain.Chunk(nil), chunks...)
	f.replaces++
	return nil
}

func (f *chunkRepoFake) ListChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Chunk(nil), f.chunks[documentID]...), nil
}

func (f *chunkRepoFake) DeleteChunks(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, documentID)
	return nil
}

type sessionRepoFake struct {
	mu       sync.Mutex
	sessions map[string]*domain.ChatSession
}

func newSessionRepoFake() *sessionRepoFake {
	return &sessionRepoFake{sessions: make(map[string]*domain.ChatSession)}
}

func (f *sessionRepoFake) GetSession(_ context.Context, documentID string) (*domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[documentID]
	if !ok {
		return &domain.ChatSession{DocumentID: documentID}, nil
	}
	copySession := *s
	copySession.Messages = append([]domain.Message(nil), s.Messages...)
	return &copySession, nil
}

func (f *sessionRepoFake) AppendMessages(_ context.Context, documentID string, messages ...domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[documentID]
	if !ok {
		s = &domain.ChatSession{DocumentID: documentID}
		f.sessions[documentID] = s
	}
	s.Messages = append(s.Messages, messages...)
	return nil
}

func (f *sessionRepoFake) DeleteSession(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, documentID)
	return nil
}

func (f *sessionRepoFake) messages(documentID string) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[documentID]; ok {
		return append([]domain.Message(nil), s.Messages...)
	}
	return nil
}

type jobStoreFake struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
	seq  []string
}

func newJobStoreFake() *jobStoreFake {
	return &jobStoreFake{jobs: make(map[string]domain.Job)}
}

func (f *jobStoreFake) Insert(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; ok {
		return domain.ErrJobExists
	}
	f.jobs[job.ID] = *job
	f.seq = append(f.seq, job.ID)
	return nil
}

func (f *jobStoreFake) Get(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (f *jobStoreFake) Claim(_ context.Context, workerID, token string, now, leaseUntil time.Time) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.seq {
		job, ok := f.jobs[id]
		if !ok || !job.Claimable(now) {
			continue
		}
		job.Redelivered = job.Status == domain.JobStatusLeased
		job.Status = domain.JobStatusLeased
		job.LeasedBy = workerID
		job.LeaseToken = token
		job.LeaseExpiry = leaseUntil
		stored := job
		stored.Redelivered = false
		f.jobs[id] = stored
		return &job, nil
	}
	return nil, nil
}

func (f *jobStoreFake) Update(_ context.Context, job *domain.Job, expectedToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.jobs[job.ID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if stored.LeaseToken != expectedToken {
		return domain.ErrLeaseLost
	}
	updated := *job
	updated.Redelivered = false
	f.jobs[job.ID] = updated
	return nil
}

func (f *jobStoreFake) ListByStatus(_ context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, id := range f.seq {
		if job, ok := f.jobs[id]; ok && job.Status == status {
			out = append(out, job)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *jobStoreFake) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, job := range f.jobs {
		if job.DocumentID == documentID {
			delete(f.jobs, id)
		}
	}
	return nil
}

func (f *jobStoreFake) get(id string) domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

type queueFake struct {
	enqueued []*domain.Job
	err      error
}

func (f *queueFake) Enqueue(_ context.Context, job *domain.Job) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if err := domain.ValidateJob(job); err != nil {
		return "", err
	}
	f.enqueued = append(f.enqueued, job)
	return job.ID, nil
}

func (f *queueFake) Lease(context.Context, string, time.Duration) (*domain.Job, error) {
	return nil, errors.New("not implemented")
}

func (f *queueFake) Ack(context.Context, *domain.Job) error { return errors.New("not implemented") }

func (f *queueFake) Fail(context.Context, *domain.Job, error) (domain.FailOutcome, error) {
	return "", errors.New("not implemented")
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saves   int
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	f.saves++
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type extractorFake struct {
	err error
}

func (f *extractorFake) Extract(_ context.Context, _ domain.SourceFile, body io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	raw, err := io.ReadAll(body)
	return string(raw), err
}

// wordChunker emits one chunk per blank-line separated paragraph.
type wordChunker struct{}

func (wordChunker) Split(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// letterEmbedder maps text onto letter frequencies; deterministic and good enough for ranking tests.
type letterEmbedder struct {
	err error
}

func (e *letterEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, _ := e.EmbedQuery(ctx, t)
		out = append(out, v)
	}
	return out, nil
}

func (e *letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

type indexFake struct {
	mu      sync.Mutex
	entries map[string][]domain.Chunk
	deletes int
	err     error
}

func newIndexFake() *indexFake {
	return &indexFake{entries: make(map[string][]domain.Chunk)}
}

func (f *indexFake) Upsert(_ context.Context, documentID string, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	existing := f.entries[documentID]
	for _, c := range chunks {
		replaced := false
		for i := range existing {
			if existing[i].ID == c.ID {
				existing[i] = c
				replaced = true
			}
		}
		if !replaced {
			existing = append(existing, c)
		}
	}
	f.entries[documentID] = existing
	return nil
}

func (f *indexFake) Search(_ context.Context, documentID string, vector []float32, limit int) ([]domain.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var hits []domain.ScoredChunk
	for _, c := range f.entries[documentID] {
		hits = append(hits, domain.ScoredChunk{Chunk: c, Score: domain.CosineSimilarity(vector, c.Embedding)})
	}
	return domain.TopK(hits, limit), nil
}

func (f *indexFake) DeleteDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, documentID)
	f.deletes++
	return nil
}

func (f *indexFake) ids(documentID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.entries[documentID] {
		out = append(out, c.ID)
	}
	sort.Strings(out)
	return out
}

type generatorFake struct {
	mu      sync.Mutex
	answer  string
	err     error
	delay   time.Duration
	prompts []domain.PromptContext
}

func (f *generatorFake) Generate(ctx context.Context, prompt domain.PromptContext, onToken domain.TokenFunc) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	answer := f.answer
	if answer == "" {
		answer = "answer to " + prompt.Question
	}
	if onToken != nil {
		for _, tok := range strings.SplitAfter(answer, " ") {
			if err := onToken(tok); err != nil {
				return "", err
			}
		}
	}
	return answer, nil
}

type rendererFake struct {
	in  domain.ReportInput
	err error
}

func (f *rendererFake) Render(_ context.Context, in domain.ReportInput) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	var b strings.Builder
	for _, m := range in.Messages {
		b.WriteString(string(m.Role) + ": " + m.Content + "\n")
	}
	return []byte(b.String()), nil
}
