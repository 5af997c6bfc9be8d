package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type chatFixture struct {
	docs      *docRepoFake
	sessions  *sessionRepoFake
	index     *indexFake
	generator *generatorFake
	uc        *ChatUseCase
}

func newChatFixture(t *testing.T, state domain.DocumentState) *chatFixture {
	t.Helper()
	doc := testDocument("doc-1")
	doc.State = state
	other := testDocument("doc-2")
	other.State = domain.StateReady

	f := &chatFixture{
		docs:      newDocRepoFake(doc, other),
		sessions:  newSessionRepoFake(),
		index:     newIndexFake(),
		generator: &generatorFake{},
	}
	embedder := &letterEmbedder{}
	retriever := NewRetrievalUseCase(embedder, f.index)
	for i, text := range []string{"revenue grew in march", "the office cat is named tom", "revenue fell in april"} {
		if err := retriever.Insert(context.Background(), "doc-1", domain.Chunk{SequenceIndex: i, Text: text}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := retriever.Insert(context.Background(), "doc-2", domain.Chunk{SequenceIndex: 0, Text: "revenue revenue revenue"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	f.uc = NewChatUseCase(f.docs, f.sessions, retriever, f.generator, ChatConfig{TopK: 2, HistoryMessages: 4, AnswerTimeout: time.Second})
	return f
}

func TestPostMessageAppendsUserAndAssistantWithCitations(t *testing.T) {
	f := newChatFixture(t, domain.StateReady)

	reply, err := f.uc.PostMessage(context.Background(), "doc-1", "  How did revenue change?  ", nil)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if reply.AssistantText != "answer to How did revenue change?" {
		t.Fatalf("unexpected answer %q", reply.AssistantText)
	}
	if len(reply.CitedChunkIDs) != 2 {
		t.Fatalf("expected top-2 citations, got %v", reply.CitedChunkIDs)
	}
	for _, id := range reply.CitedChunkIDs {
		if !strings.HasPrefix(id, "doc-1:") {
			t.Fatalf("citation %s is outside the session document", id)
		}
	}

	msgs := f.sessions.messages("doc-1")
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected transcript %+v", msgs)
	}
	if msgs[0].Content != "How did revenue change?" {
		t.Fatalf("user text not stored verbatim: %q", msgs[0].Content)
	}
	if len(f.generator.prompts) != 1 || len(f.generator.prompts[0].Chunks) != 2 {
		t.Fatalf("generator not called with retrieved chunks")
	}
}

func TestPostMessageIncludesRecentHistory(t *testing.T) {
	f := newChatFixture(t, domain.StateReady)
	for i := 0; i < 3; i++ {
		if _, err := f.uc.PostMessage(context.Background(), "doc-1", fmt.Sprintf("question %d about revenue", i), nil); err != nil {
			t.Fatalf("PostMessage() error = %v", err)
		}
	}
	last := f.generator.prompts[len(f.generator.prompts)-1]
	if len(last.History) != 4 || last.History[0].Content != "question 0 about revenue" {
		t.Fatalf("unexpected history window: %+v", last.History)
	}
}

func TestPostMessageRejectsDocumentNotReady(t *testing.T) {
	f := newChatFixture(t, domain.StateExtracting)

	_, err := f.uc.PostMessage(context.Background(), "doc-1", "anything?", nil)
	if !domain.IsKind(err, domain.ErrDocumentNotReady) {
		t.Fatalf("expected document not ready, got %v", err)
	}
	if len(f.sessions.messages("doc-1")) != 0 || len(f.generator.prompts) != 0 {
		t.Fatalf("rejected turn must not mutate session or call generator")
	}
}

func TestPostMessageTimeoutAppendsNothing(t *testing.T) {
	f := newChatFixture(t, domain.StateReady)
	f.generator.delay = time.Second
	f.uc.cfg.AnswerTimeout = 20 * time.Millisecond

	_, err := f.uc.PostMessage(context.Background(), "doc-1", "slow question", nil)
	if !domain.IsKind(err, domain.ErrAnswerTimeout) {
		t.Fatalf("expected answer timeout, got %v", err)
	}
	if len(f.sessions.messages("doc-1")) != 0 {
		t.Fatalf("timeout must not append messages")
	}
}

func TestPostMessageStreamsTokens(t *testing.T) {
	f := newChatFixture(t, domain.StateReady)
	var streamed strings.Builder
	reply, err := f.uc.PostMessage(context.Background(), "doc-1", "stream me", func(tok string) error {
		streamed.WriteString(tok)
		return nil
	})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if streamed.String() != reply.AssistantText {
		t.Fatalf("streamed %q, answer %q", streamed.String(), reply.AssistantText)
	}
}

func TestPostMessageGeneratorErrorAppendsNothing(t *testing.T) {
	f := newChatFixture(t, domain.StateReady)
	f.generator.err = errors.New("model crashed")

	if _, err := f.uc.PostMessage(context.Background(), "doc-1", "q", nil); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.sessions.messages("doc-1")) != 0 {
		t.Fatalf("failed turn must not append messages")
	}
}

// orderedGenerator blocks each call until released so the test controls interleaving.
type orderedGenerator struct {
	mu      sync.Mutex
	started chan string
	gate    chan struct{}
	order   []string
}

func (g *orderedGenerator) Generate(_ context.Context, prompt domain.PromptContext, _ domain.TokenFunc) (string, error) {
	g.started <- prompt.Question
	<-g.gate
	g.mu.Lock()
	g.order = append(g.order, prompt.Question)
	g.mu.Unlock()
	return "re: " + prompt.Question, nil
}

func TestPostMessageSerializesPerSessionInArrivalOrder(t *testing.T) {
	f := newChatFixture(t, domain.StateReady)
	gen := &orderedGenerator{started: make(chan string, 8), gate: make(chan struct{})}
	f.uc.generator = gen

	var wg sync.WaitGroup
	questions := []string{"first", "second", "third"}
	for i, q := range questions {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			if _, err := f.uc.PostMessage(context.Background(), "doc-1", q, nil); err != nil {
				t.Errorf("PostMessage(%s) error = %v", q, err)
			}
		}(q)
		// wait until the call is queued on the lane before sending the next one
		waitForLaneRefs(t, f.uc.lanes, "doc-1", i+1)
	}

	for range questions {
		<-gen.started
		gen.gate <- struct{}{}
	}
	wg.Wait()

	msgs := f.sessions.messages("doc-1")
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	for i, q := range questions {
		if msgs[2*i].Content != q || msgs[2*i+1].Content != "re: "+q {
			t.Fatalf("transcript out of order at %d: %+v", i, msgs)
		}
	}
}

func TestPostMessageDifferentSessionsRunInParallel(t *testing.T) {
	f := newChatFixture(t, domain.StateReady)
	gen := &orderedGenerator{started: make(chan string, 8), gate: make(chan struct{})}
	f.uc.generator = gen

	var wg sync.WaitGroup
	for _, doc := range []string{"doc-1", "doc-2"} {
		wg.Add(1)
		go func(doc string) {
			defer wg.Done()
			if _, err := f.uc.PostMessage(context.Background(), doc, "revenue?", nil); err != nil {
				t.Errorf("PostMessage(%s) error = %v", doc, err)
			}
		}(doc)
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-gen.started:
		case <-timeout:
			t.Fatalf("sessions did not run concurrently")
		}
	}
	gen.gate <- struct{}{}
	gen.gate <- struct{}{}
	wg.Wait()
}

func waitForLaneRefs(t *testing.T, lanes *sessionLanes, key string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lanes.mu.Lock()
		l, ok := lanes.lanes[key]
		refs := 0
		if ok {
			refs = l.refs
		}
		lanes.mu.Unlock()
		if refs >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("lane %s never reached %d waiters", key, want)
}
