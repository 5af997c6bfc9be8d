package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/doc-intelligence/internal/config"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
	"github.com/kirillkom/doc-intelligence/internal/core/usecase"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/chunking"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/extractor"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/llm/local"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/queue/inproc"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/queue/nats"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/report/pdf"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/repository/badger"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/resilience"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/doc-intelligence/internal/worker"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Documents ports.DocumentRepository
	Chunks    ports.ChunkRepository

	Ingest    *usecase.IngestDocumentUseCase
	Admin     *usecase.DocumentAdminUseCase
	Queue     *usecase.JobQueueUseCase
	Processor *usecase.ProcessDocumentUseCase
	Retrieval *usecase.RetrievalUseCase
	Chat      *usecase.ChatUseCase
	Export    *usecase.ExportReportUseCase

	closers []func() error
}

// stores is the repository set selected by STORE_BACKEND.
type stores struct {
	documents ports.DocumentRepository
	chunks    ports.ChunkRepository
	sessions  ports.SessionRepository
	jobs      ports.JobStore
	// embeddedIndex is the store's own index, used when INDEX_BACKEND=local.
	embeddedIndex ports.VectorIndex
	db            *sql.DB
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	st, err := app.openStores(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg, logger))

	index, err := app.openIndex(ctx, st, executor)
	if err != nil {
		app.Close()
		return nil, err
	}

	embedder, generator, err := newLLM(cfg, executor)
	if err != nil {
		app.Close()
		return nil, err
	}

	notifier, err := app.openNotifier(executor)
	if err != nil {
		app.Close()
		return nil, err
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	app.Documents = st.documents
	app.Chunks = st.chunks
	app.Queue = usecase.NewJobQueueUseCase(st.jobs, st.documents, notifier, usecase.JobQueueConfig{
		MaxAttempts:  cfg.JobMaxAttempts,
		PollInterval: cfg.JobPollInterval,
		PollTimeout:  cfg.JobPollTimeout,
		BackoffBase:  cfg.JobBackoffBase,
		BackoffMax:   cfg.JobBackoffMax,
	})
	app.Ingest = usecase.NewIngestDocumentUseCase(st.documents, storage, app.Queue)
	app.Admin = usecase.NewDocumentAdminUseCase(st.documents, st.chunks, st.sessions, st.jobs, index, storage, app.Queue)
	app.Processor = usecase.NewProcessDocumentUseCase(
		st.documents,
		st.chunks,
		storage,
		extractor.NewRegistry(),
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlapFraction),
		embedder,
		index,
		app.Queue,
	)
	app.Retrieval = usecase.NewRetrievalUseCase(embedder, index)
	app.Chat = usecase.NewChatUseCase(st.documents, st.sessions, app.Retrieval, generator, usecase.ChatConfig{
		TopK:            cfg.RAGTopK,
		HistoryMessages: cfg.ChatHistoryMessages,
		AnswerTimeout:   cfg.ChatAnswerTimeout,
	})
	app.Export = usecase.NewExportReportUseCase(st.documents, st.sessions, st.chunks, pdf.NewRenderer())

	logger.Info("app_bootstrapped",
		"store_backend", cfg.StoreBackend,
		"index_backend", cfg.IndexBackend,
		"llm_provider", cfg.LLMProvider,
		"nats", cfg.NATSURL != "",
	)
	return app, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	switch a.Config.StoreBackend {
	case "postgres":
		db, err := postgres.OpenDB(a.Config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return &stores{
			documents: postgres.NewDocumentRepository(db),
			chunks:    postgres.NewChunkRepository(db),
			sessions:  postgres.NewSessionRepository(db),
			jobs:      postgres.NewJobStore(db),
			db:        db,
		}, nil
	default:
		inMemory := a.Config.BadgerPath == ":memory:"
		dir := a.Config.BadgerPath
		if inMemory {
			dir = ""
		}
		embedded, err := badger.Open(dir, inMemory, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		a.closers = append(a.closers, embedded.Close)
		return &stores{
			documents:     embedded.Documents,
			chunks:        embedded.Chunks,
			sessions:      embedded.Sessions,
			jobs:          embedded.Jobs,
			embeddedIndex: embedded.Index,
		}, nil
	}
}

func (a *App) openIndex(ctx context.Context, st *stores, executor *resilience.Executor) (ports.VectorIndex, error) {
	switch a.Config.IndexBackend {
	case "qdrant":
		return qdrant.New(a.Config.QdrantURL, a.Config.QdrantCollection, executor), nil
	case "pgvector":
		if st.db == nil {
			return nil, errors.New("pgvector index requires the postgres store")
		}
		index := pgvector.New(st.db)
		if err := index.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure pgvector schema: %w", err)
		}
		return index, nil
	default:
		if st.embeddedIndex == nil {
			return nil, fmt.Errorf("INDEX_BACKEND=local is only available with STORE_BACKEND=badger")
		}
		return st.embeddedIndex, nil
	}
}

func (a *App) openNotifier(executor *resilience.Executor) (ports.JobNotifier, error) {
	if a.Config.NATSURL == "" {
		return inproc.NewNotifier(), nil
	}
	notifier, err := nats.NewWithOptions(a.Config.NATSURL, a.Config.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init job notifier: %w", err)
	}
	a.closers = append(a.closers, notifier.Close)
	return notifier, nil
}

func newLLM(cfg config.Config, executor *resilience.Executor) (ports.Embedder, ports.AnswerGenerator, error) {
	switch cfg.LLMProvider {
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
		return ollama.NewEmbedder(client), ollama.NewGenerator(client), nil
	case "openai":
		oc := openaicompat.Config{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIModel,
			EmbedModel: cfg.OpenAIEmbedModel,
		}
		embedder, err := openaicompat.NewEmbedder(oc, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai embedder: %w", err)
		}
		generator, err := openaicompat.NewGenerator(oc, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai generator: %w", err)
		}
		return embedder, generator, nil
	default:
		return local.NewHashEmbedder(cfg.LocalEmbedDim), local.NewExtractiveGenerator(0), nil
	}
}

func resilienceConfig(cfg config.Config, logger *slog.Logger) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.Retry.MaxAttempts = cfg.DependencyRetryAttempts
	rc.Retry.InitialBackoff = cfg.DependencyRetryBackoff
	rc.Retry.MaxBackoff = 4 * cfg.DependencyRetryBackoff
	rc.Breaker.OpenTimeout = cfg.BreakerOpenTimeout
	rc.Overrides = map[string]resilience.RetryPolicy{
		// a lost wake-up costs one poll interval
		"nats.": {MaxAttempts: 1},
		// generation holds a model slot for tens of seconds
		"ollama.generate": {MaxAttempts: 2},
		"openai.generate": {MaxAttempts: 2},
	}
	rc.OnRetry = func(operation string, attempt int, err error) {
		logger.Warn("dependency_retry", "operation", operation, "attempt", attempt, "error", err.Error())
	}
	rc.OnStateChange = func(operation, from, to string) {
		logger.Warn("dependency_breaker", "operation", operation, "from", from, "to", to)
	}
	return rc
}

// NewWorkerPool builds an ingestion pool over the app's queue and processor.
func (a *App) NewWorkerPool(service string, metrics worker.Metrics) (*worker.Pool, error) {
	return worker.New(a.Queue, a.Processor, worker.Config{
		Service:           service,
		Count:             a.Config.WorkerCount,
		VisibilityTimeout: a.Config.JobVisibilityTimeout,
		ProcessTimeout:    a.Config.JobProcessTimeout,
	}, metrics, a.Logger)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close_failed", "error", err.Error())
		}
	}
	a.closers = nil
}
