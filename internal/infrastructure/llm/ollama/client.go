package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/llm"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/resilience"
)

const (
	defaultEmbedBatch = 32
	defaultKeepAlive  = "10m"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	embedBatch int
	keepAlive  string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		embedBatch: defaultEmbedBatch,
		keepAlive:  defaultKeepAlive,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type generateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Embedder vectorizes chunk texts in batches so large documents do not produce one oversized request.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.client.embedBatch {
		end := min(start+e.client.embedBatch, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := embedRequest{Model: e.client.embedModel, Input: texts, Truncate: true, KeepAlive: e.client.keepAlive}
	var resp embedResponse
	if err := e.client.postJSON(ctx, "/api/embed", req, &resp, "embed"); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Generator answers grounded prompts with the configured Ollama model.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt domain.PromptContext, onToken domain.TokenFunc) (string, error) {
	req := generateRequest{
		Model:     g.client.genModel,
		Prompt:    llm.BuildGroundedPrompt(prompt),
		Stream:    onToken != nil,
		KeepAlive: g.client.keepAlive,
		Options:   generateOptions{Temperature: 0.2},
	}
	if onToken != nil {
		return g.client.streamText(ctx, req, onToken)
	}

	var resp generateResponse
	if err := g.client.postJSON(ctx, "/api/generate", req, &resp, "generate"); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Response), nil
}
