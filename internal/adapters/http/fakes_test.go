package httpadapter

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/config"
	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
	"github.com/kirillkom/doc-intelligence/internal/observability/metrics"
)

type uploadedFile struct {
	filename string
	mimeType string
	body     string
}

type ingestorFake struct {
	err   error
	files []uploadedFile
	tags  []string
}

func (f *ingestorFake) Upload(_ context.Context, files []ports.UploadFile, tags []string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, file := range files {
		raw, err := io.ReadAll(file.Body)
		if err != nil {
			return nil, err
		}
		f.files = append(f.files, uploadedFile{filename: file.Filename, mimeType: file.MimeType, body: string(raw)})
	}
	f.tags = tags
	now := time.Now().UTC()
	return &domain.Document{ID: "doc-1", State: domain.StateQueued, Revision: 1, Tags: tags, CreatedAt: now, UpdatedAt: now}, nil
}

type readerFake struct {
	err error
}

func (f readerFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, State: domain.StateReady, Revision: 1}, nil
}

func (f readerFake) List(_ context.Context, limit int) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Document{{ID: "doc-1", State: domain.StateReady}}, nil
}

type adminFake struct {
	err      error
	deleted  []string
	reopened []string
}

func (f *adminFake) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *adminFake) Reprocess(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reopened = append(f.reopened, id)
	return &domain.Document{ID: id, State: domain.StateQueued, Revision: 2}, nil
}

type chatFake struct {
	err       error
	tokens    []string
	failAfter bool
	reply     *domain.ChatReply
}

func (f *chatFake) PostMessage(_ context.Context, documentID, userText string, onToken domain.TokenFunc) (*domain.ChatReply, error) {
	if f.err != nil && !f.failAfter {
		return nil, f.err
	}
	if onToken != nil {
		for _, tok := range f.tokens {
			if err := onToken(tok); err != nil {
				return nil, err
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &domain.ChatReply{AssistantText: "answer to " + userText, CitedChunkIDs: []string{documentID + ":0"}}, nil
}

func (f *chatFake) GetSession(_ context.Context, documentID string) (*domain.ChatSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatSession{DocumentID: documentID, Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}}, nil
}

type exporterFake struct {
	err error
}

func (f exporterFake) Export(_ context.Context, documentID string) (*domain.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Report{
		ContentType: domain.ReportContentType,
		Filename:    domain.ReportFilename(documentID),
		Body:        []byte("%PDF-1.3 fake"),
	}, nil
}

func newTestDeps() Dependencies {
	return Dependencies{
		Ingestor: &ingestorFake{},
		Reader:   readerFake{},
		Admin:    &adminFake{},
		Chat:     &chatFake{tokens: []string{"Hello ", "world"}},
		Exporter: exporterFake{},
	}
}

func newTestHandler(cfg config.Config, deps Dependencies) http.Handler {
	return NewRouter(cfg, deps).Handler()
}

func newTestHandlerWithMetrics(deps Dependencies) (http.Handler, *metrics.HTTPServerMetrics) {
	m := metrics.NewHTTPServerMetrics(serviceName)
	deps.Metrics = m
	return NewRouter(config.Config{}, deps).Handler(), m
}
