package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

const (
	fontFamily = "Helvetica"
	lineHeight = 5.5
)

// Renderer lays out a chat transcript as an A4 report with numbered citation footnotes.
// Output is byte-stable for the same input: dates come from ReportInput.GeneratedAt and compression is off.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Render(ctx context.Context, in domain.ReportInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	doc.SetCatalogSort(true)
	doc.SetCreationDate(in.GeneratedAt)
	doc.SetModificationDate(in.GeneratedAt)
	tr := doc.UnicodeTranslatorFromDescriptor("")

	title := "Document report " + in.Document.ID
	doc.SetTitle(title, true)
	doc.SetCreator("doc-intelligence", true)
	doc.SetMargins(18, 18, 18)
	doc.SetAutoPageBreak(true, 18)
	doc.SetFooterFunc(func() {
		doc.SetY(-14)
		doc.SetFont(fontFamily, "I", 8)
		doc.CellFormat(0, 8, fmt.Sprintf("Page %d", doc.PageNo()), "", 0, "C", false, 0, "")
	})
	doc.AddPage()

	doc.SetFont(fontFamily, "B", 16)
	doc.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	doc.SetFont(fontFamily, "", 9)
	doc.CellFormat(0, 5, tr(documentSummary(in)), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 5, "Generated "+in.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"), "", 1, "L", false, 0, "")
	doc.Ln(4)

	notes, perMessage := in.Footnotes()
	for i, msg := range in.Messages {
		label := "User"
		if msg.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		doc.SetFont(fontFamily, "B", 11)
		doc.CellFormat(0, 7, label+"  "+msg.CreatedAt.UTC().Format("15:04:05"), "", 1, "L", false, 0, "")

		text := msg.Content
		if refs := perMessage[i]; len(refs) > 0 {
			text += " " + formatRefs(refs)
		}
		doc.SetFont(fontFamily, "", 11)
		doc.MultiCell(0, lineHeight, tr(text), "", "L", false)
		doc.Ln(3)
	}

	if len(notes) > 0 {
		doc.Ln(2)
		doc.SetFont(fontFamily, "B", 12)
		doc.CellFormat(0, 8, "Sources", "T", 1, "L", false, 0, "")
		doc.SetFont(fontFamily, "", 9)
		for _, note := range notes {
			excerpt := note.Excerpt
			if excerpt == "" {
				excerpt = "(excerpt unavailable)"
			}
			doc.MultiCell(0, 4.5, tr(fmt.Sprintf("[%d] %s: %s", note.Number, note.ChunkID, excerpt)), "", "L", false)
			doc.Ln(1)
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func documentSummary(in domain.ReportInput) string {
	names := make([]string, 0, len(in.Document.SourceFiles))
	for _, f := range in.Document.SourceFiles {
		names = append(names, f.Filename)
	}
	summary := fmt.Sprintf("Revision %d", in.Document.Revision)
	if len(names) > 0 {
		summary += " | Files: " + strings.Join(names, ", ")
	}
	if len(in.Document.Tags) > 0 {
		summary += " | Tags: " + strings.Join(in.Document.Tags, ", ")
	}
	return summary
}

func formatRefs(refs []int) string {
	parts := make([]string, len(refs))
	for i, n := range refs {
		parts[i] = fmt.Sprintf("[%d]", n)
	}
	return strings.Join(parts, "")
}
