package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/resilience"
)

func testPrompt() domain.PromptContext {
	return domain.PromptContext{
		DocumentID: "doc-1",
		Question:   "question?",
		Chunks:     []domain.ScoredChunk{{Chunk: domain.Chunk{ID: "doc-1:0", Text: "chunk text"}, Score: 0.99}},
		History:    []domain.Message{{Role: domain.RoleUser, Content: "earlier question"}},
	}
}

func TestGeneratorBuildsContextPrompt(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":" ok "}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed", nil))
	answer, err := gen.Generate(context.Background(), testPrompt(), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "ok" {
		t.Fatalf("answer = %q", answer)
	}
	for _, want := range []string{"question?", "chunk text", "doc-1:0", "earlier question"} {
		if !strings.Contains(capturedPrompt, want) {
			t.Fatalf("prompt misses %q: %s", want, capturedPrompt)
		}
	}
}

func TestGeneratorStreamsTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["stream"] != true {
			t.Errorf("expected streaming request")
		}
		_, _ = w.Write([]byte("{\"response\":\"Hel\",\"done\":false}\n{\"response\":\"lo\",\"done\":false}\n{\"response\":\"\",\"done\":true}\n"))
	}))
	defer server.Close()

	var tokens []string
	gen := NewGenerator(New(server.URL, "gen", "embed", nil))
	answer, err := gen.Generate(context.Background(), testPrompt(), func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "Hello" || strings.Join(tokens, "|") != "Hel|lo" {
		t.Fatalf("answer=%q tokens=%v", answer, tokens)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", nil))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("502 should surface as temporary, got %v", err)
	}
}

func TestEmbedRetriesThroughExecutor(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
	})
	vec, err := NewEmbedder(New(server.URL, "gen", "embed", exec)).EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 2 || calls != 2 {
		t.Fatalf("vec=%v calls=%d", vec, calls)
	}
}

func TestEmbedSplitsLargeInputsIntoBatches(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Truncate {
			t.Errorf("expected truncate to be requested")
		}
		batchSizes = append(batchSizes, len(req.Input))
		resp := embedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", nil)
	client.embedBatch = 2
	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := NewEmbedder(client).Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	if len(batchSizes) != 3 || batchSizes[0] != 2 || batchSizes[2] != 1 {
		t.Fatalf("unexpected batches %v", batchSizes)
	}
}

func TestMissingModelIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"model \"llama3.1:8b\" not found, try pulling it first"}`, http.StatusNotFound)
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
	})
	_, err := NewGenerator(New(server.URL, "llama3.1:8b", "embed", exec)).Generate(context.Background(), testPrompt(), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("missing model must not be retried, calls = %d", calls)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("missing model must not surface as temporary, got %v", err)
	}
}
