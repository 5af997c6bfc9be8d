package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

const excerptRunes = 280

type ExportReportUseCase struct {
	docs     ports.DocumentRepository
	sessions ports.SessionRepository
	chunks   ports.ChunkRepository
	renderer ports.ReportRenderer
}

func NewExportReportUseCase(
	docs ports.DocumentRepository,
	sessions ports.SessionRepository,
	chunks ports.ChunkRepository,
	renderer ports.ReportRenderer,
) *ExportReportUseCase {
	return &ExportReportUseCase{docs: docs, sessions: sessions, chunks: chunks, renderer: renderer}
}

// Export renders the document's transcript. No artifact is produced on error.
func (uc *ExportReportUseCase) Export(ctx context.Context, documentID string) (*domain.Report, error) {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}

	session, err := uc.sessions.GetSession(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(session.Messages) == 0 {
		if doc.State != domain.StateReady {
			return nil, domain.WrapError(domain.ErrDocumentNotReady, "export report", fmt.Errorf("document %s is %s", documentID, doc.State))
		}
		return nil, domain.WrapError(domain.ErrSessionEmpty, "export report", errors.New("session has no messages"))
	}

	chunks, err := uc.chunks.ListChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	excerpts := make(map[string]string, len(chunks))
	for _, c := range chunks {
		excerpts[c.ID] = excerpt(c.Text, excerptRunes)
	}

	in := domain.ReportInput{
		Document:    *doc,
		Messages:    session.Messages,
		Excerpts:    excerpts,
		GeneratedAt: session.Messages[len(session.Messages)-1].CreatedAt,
	}
	body, err := uc.renderer.Render(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	return &domain.Report{
		ContentType: domain.ReportContentType,
		Filename:    domain.ReportFilename(doc.ID),
		Body:        body,
	}, nil
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
