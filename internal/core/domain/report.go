package domain

import (
	"fmt"
	"time"
)

const ReportContentType = "application/pdf"

// Report is a rendered chat transcript ready for download.
type Report struct {
	ContentType string
	Filename    string
	Body        []byte
}

func ReportFilename(documentID string) string {
	short := documentID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("document-report-%s.pdf", short)
}

// Footnote links an assistant message to one cited chunk excerpt.
type Footnote struct {
	Number  int
	ChunkID string
	Excerpt string
}

// ReportInput is the transcript snapshot a renderer turns into a document.
type ReportInput struct {
	Document    Document
	Messages    []Message
	Excerpts    map[string]string
	GeneratedAt time.Time
}

// Footnotes numbers citations in transcript order; a chunk cited twice keeps its first number.
func (in ReportInput) Footnotes() ([]Footnote, map[int][]int) {
	var notes []Footnote
	byChunk := make(map[string]int)
	perMessage := make(map[int][]int)
	for i, msg := range in.Messages {
		if msg.Role != RoleAssistant {
			continue
		}
		for _, id := range msg.CitedChunkIDs {
			n, ok := byChunk[id]
			if !ok {
				n = len(notes) + 1
				byChunk[id] = n
				notes = append(notes, Footnote{Number: n, ChunkID: id, Excerpt: in.Excerpts[id]})
			}
			perMessage[i] = append(perMessage[i], n)
		}
	}
	return notes, perMessage
}
