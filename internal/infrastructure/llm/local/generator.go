package local

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

const maxQuotedRunes = 400

// ExtractiveGenerator answers by quoting the best-scoring passages.
type ExtractiveGenerator struct {
	maxPassages int
}

func NewExtractiveGenerator(maxPassages int) *ExtractiveGenerator {
	if maxPassages <= 0 {
		maxPassages = 2
	}
	return &ExtractiveGenerator{maxPassages: maxPassages}
}

func (g *ExtractiveGenerator) Generate(ctx context.Context, prompt domain.PromptContext, onToken domain.TokenFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	if len(prompt.Chunks) == 0 {
		b.WriteString("The document does not contain passages relevant to this question.")
	} else {
		b.WriteString("Based on the document:")
		for i, hit := range prompt.Chunks {
			if i == g.maxPassages {
				break
			}
			b.WriteString(fmt.Sprintf(" [%d] %s", i+1, quote(hit.Chunk.Text)))
		}
	}
	answer := b.String()

	if onToken != nil {
		for _, token := range strings.SplitAfter(answer, " ") {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if err := onToken(token); err != nil {
				return "", err
			}
		}
	}
	return answer, nil
}

func quote(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxQuotedRunes {
		return text
	}
	return string(runes[:maxQuotedRunes]) + "..."
}
