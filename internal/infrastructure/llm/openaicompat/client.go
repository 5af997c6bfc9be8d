package openaicompat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/llm"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/resilience"
)

const systemPrompt = "You answer questions about a single uploaded document. Use only the provided context."

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
}

func newClient(cfg Config) (*openai.LLM, error) {
	token := strings.TrimSpace(cfg.APIKey)
	if token == "" {
		// local OpenAI-compatible servers accept any token
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.EmbedModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbedModel))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return client, nil
}

// Generator answers grounded prompts through an OpenAI-compatible chat endpoint.
type Generator struct {
	client   llms.Model
	executor *resilience.Executor
	logger   *slog.Logger
}

func NewGenerator(cfg Config, executor *resilience.Executor) (*Generator, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Generator{
		client:   client,
		executor: executor,
		logger:   slog.Default().With("component", "openai-generator"),
	}, nil
}

func (g *Generator) Generate(ctx context.Context, prompt domain.PromptContext, onToken domain.TokenFunc) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, llm.BuildGroundedPrompt(prompt)),
	}
	opts := []llms.CallOption{llms.WithTemperature(0.2)}

	if onToken != nil {
		// a partially streamed answer cannot be retried
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onToken(string(chunk))
		}))
		resp, err := g.client.GenerateContent(ctx, content, opts...)
		if err != nil {
			return "", resilience.WrapTemporary("openai generate", err, nil)
		}
		return firstChoice(resp)
	}

	resp, err := resilience.Call(ctx, g.executor, "openai.generate", func(ctx context.Context) (*llms.ContentResponse, error) {
		return g.client.GenerateContent(ctx, content, opts...)
	}, resilience.ClassifyHTTP)
	if err != nil {
		g.logger.Error("generate_failed", "document_id", prompt.DocumentID, "error", err.Error())
		return "", resilience.WrapTemporary("openai generate", err, nil)
	}
	return firstChoice(resp)
}

func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", domain.WrapError(domain.ErrTemporary, "openai generate", fmt.Errorf("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Embedder wraps the langchaingo embedder over the same endpoint.
type Embedder struct {
	embedder embeddings.Embedder
	executor *resilience.Executor
}

func NewEmbedder(cfg Config, executor *resilience.Executor) (*Embedder, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Embedder{embedder: embedder, executor: executor}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := resilience.Call(ctx, e.executor, "openai.embed", func(ctx context.Context) ([][]float32, error) {
		return e.embedder.EmbedDocuments(ctx, texts)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapTemporary("openai embed", err, nil)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := resilience.Call(ctx, e.executor, "openai.embed_query", func(ctx context.Context) ([]float32, error) {
		return e.embedder.EmbedQuery(ctx, text)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapTemporary("openai embed query", err, nil)
	}
	return vector, nil
}
