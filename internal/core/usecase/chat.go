package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

type ChatConfig struct {
	TopK            int
	HistoryMessages int
	AnswerTimeout   time.Duration
}

// ChatUseCase runs grounded question answering over a single document's session.
type ChatUseCase struct {
	docs      ports.DocumentRepository
	sessions  ports.SessionRepository
	retriever *RetrievalUseCase
	generator ports.AnswerGenerator
	lanes     *sessionLanes
	cfg       ChatConfig
	now       func() time.Time
}

func NewChatUseCase(
	docs ports.DocumentRepository,
	sessions ports.SessionRepository,
	retriever *RetrievalUseCase,
	generator ports.AnswerGenerator,
	cfg ChatConfig,
) *ChatUseCase {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.HistoryMessages < 0 {
		cfg.HistoryMessages = 0
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 60 * time.Second
	}
	return &ChatUseCase{
		docs:      docs,
		sessions:  sessions,
		retriever: retriever,
		generator: generator,
		lanes:     newSessionLanes(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PostMessage answers userText against documentID. Calls for one document run one at a time in arrival order.
// The transcript is only touched after a complete answer; on any error nothing is appended.
func (uc *ChatUseCase) PostMessage(ctx context.Context, documentID, userText string, onToken domain.TokenFunc) (*domain.ChatReply, error) {
	userText = strings.TrimSpace(userText)
	if strings.TrimSpace(documentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "post message", errors.New("document id is required"))
	}
	if userText == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "post message", errors.New("user text is required"))
	}

	release, err := uc.lanes.acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.State != domain.StateReady {
		return nil, domain.WrapError(domain.ErrDocumentNotReady, "post message", fmt.Errorf("document %s is %s", documentID, doc.State))
	}

	session, err := uc.sessions.GetSession(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	askedAt := uc.now()

	hits, err := uc.retriever.Query(ctx, documentID, userText, uc.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	prompt := domain.PromptContext{
		DocumentID: documentID,
		Question:   userText,
		Chunks:     hits,
		History:    session.Recent(uc.cfg.HistoryMessages),
	}
	answer, err := uc.generate(ctx, prompt, onToken)
	if err != nil {
		return nil, err
	}

	cited := make([]string, 0, len(hits))
	for _, hit := range hits {
		cited = append(cited, hit.Chunk.ID)
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: userText, CreatedAt: askedAt}
	assistantMsg := domain.Message{
		Role:          domain.RoleAssistant,
		Content:       answer,
		CitedChunkIDs: cited,
		CreatedAt:     uc.now(),
	}
	if err := uc.sessions.AppendMessages(ctx, documentID, userMsg, assistantMsg); err != nil {
		return nil, fmt.Errorf("append messages: %w", err)
	}

	return &domain.ChatReply{
		AssistantText: answer,
		CitedChunkIDs: cited,
		Message:       assistantMsg,
	}, nil
}

func (uc *ChatUseCase) generate(ctx context.Context, prompt domain.PromptContext, onToken domain.TokenFunc) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, uc.cfg.AnswerTimeout)
	defer cancel()

	answer, err := uc.generator.Generate(genCtx, prompt, onToken)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", domain.WrapError(domain.ErrAnswerTimeout, "generate answer", fmt.Errorf("no answer within %s", uc.cfg.AnswerTimeout))
		}
		return "", fmt.Errorf("generate answer: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", domain.WrapError(domain.ErrTemporary, "generate answer", errors.New("empty answer"))
	}
	return answer, nil
}

func (uc *ChatUseCase) GetSession(ctx context.Context, documentID string) (*domain.ChatSession, error) {
	if _, err := uc.docs.GetByID(ctx, documentID); err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	session, err := uc.sessions.GetSession(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}
