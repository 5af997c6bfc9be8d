package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

func newFakeOpenAI(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var lastPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var payload struct {
				Messages []struct {
					Content any `json:"content"`
				} `json:"messages"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if n := len(payload.Messages); n > 0 {
				raw, _ := json.Marshal(payload.Messages[n-1].Content)
				lastPrompt = string(raw)
			}
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":" grounded answer "},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			_, _ = w.Write([]byte(`{"object":"list","model":"e","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	return server, &lastPrompt
}

func TestGeneratorSendsGroundedPrompt(t *testing.T) {
	server, lastPrompt := newFakeOpenAI(t)
	defer server.Close()

	gen, err := NewGenerator(Config{BaseURL: server.URL + "/v1", Model: "m"}, nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	answer, err := gen.Generate(context.Background(), domain.PromptContext{
		Question: "what grew?",
		Chunks:   []domain.ScoredChunk{{Chunk: domain.Chunk{ID: "d:0", Text: "revenue grew"}}},
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "grounded answer" {
		t.Fatalf("answer = %q", answer)
	}
	if !strings.Contains(*lastPrompt, "what grew?") || !strings.Contains(*lastPrompt, "revenue grew") {
		t.Fatalf("prompt not grounded: %s", *lastPrompt)
	}
}

func TestEmbedderReturnsVectors(t *testing.T) {
	server, _ := newFakeOpenAI(t)
	defer server.Close()

	emb, err := NewEmbedder(Config{BaseURL: server.URL + "/v1", EmbedModel: "e"}, nil)
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	vec, err := emb.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector %v", vec)
	}
}
