package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	CitedChunkIDs []string  `json:"cited_chunk_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChatSession is the conversation attached to a single document.
type ChatSession struct {
	DocumentID string    `json:"document_id"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Recent returns at most n trailing messages.
func (s *ChatSession) Recent(n int) []Message {
	if s == nil || n <= 0 {
		return nil
	}
	if len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// PromptContext is everything the generator needs to answer one user turn.
type PromptContext struct {
	DocumentID string
	Question   string
	Chunks     []ScoredChunk
	History    []Message
}

type ChatReply struct {
	AssistantText string   `json:"assistant_text"`
	CitedChunkIDs []string `json:"cited_chunk_ids"`
	Message       Message  `json:"-"`
}

// TokenFunc receives streamed answer fragments in order.
type TokenFunc func(token string) error
