package chunking

import (
	"strings"
	"unicode"
)

// Splitter cuts text into overlapping rune windows, preferring to end a window on whitespace.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// NewSplitter derives the overlap from a fraction of the chunk size.
func NewSplitter(chunkSize int, overlapFraction float64) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlapFraction < 0 || overlapFraction >= 1 {
		overlapFraction = 0.15
	}
	overlap := int(float64(chunkSize) * overlapFraction)
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(normalizeWhitespace(text))
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.step()+1)
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.softEnd(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = start + s.step()
		}
		start = next
	}
	return out
}

func (s *Splitter) step() int {
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}
	return step
}

// softEnd moves end back to the last whitespace in the final fifth of the window.
func (s *Splitter) softEnd(runes []rune, start, end int) int {
	floor := end - s.ChunkSize/5
	if floor <= start {
		return end
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
