package llm

import (
	"fmt"
	"strings"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

// BuildGroundedPrompt renders retrieved chunks, the recent transcript and the question into one prompt.
func BuildGroundedPrompt(prompt domain.PromptContext) string {
	var contextBuilder strings.Builder
	for idx, hit := range prompt.Chunks {
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] chunk=%s score=%.3f\n%s\n\n",
			idx+1,
			hit.Chunk.ID,
			hit.Score,
			hit.Chunk.Text,
		))
	}
	if contextBuilder.Len() == 0 {
		contextBuilder.WriteString("(no relevant passages found)\n")
	}

	var history strings.Builder
	for _, msg := range prompt.History {
		history.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
	}
	if history.Len() == 0 {
		history.WriteString("(new conversation)\n")
	}

	return fmt.Sprintf(`Answer the user question only from the document context below.
If the context is insufficient, say it directly. Refer to passages by their [number].

Context:
%s
Conversation so far:
%s
Question:
%s
`, contextBuilder.String(), history.String(), prompt.Question)
}
