package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/extractor/html"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/doc-intelligence/internal/infrastructure/extractor/xlsx"
)

// Registry dispatches a source file to the extractor registered for its MIME type,
// falling back to the file extension.
type Registry struct {
	byMime map[string]ports.TextExtractor
	byExt  map[string]ports.TextExtractor
}

func NewRegistry() *Registry {
	text := plaintext.NewExtractor()
	pdfx := pdf.NewExtractor()
	xlsxx := xlsx.NewExtractor()
	htmlx := html.NewExtractor()

	r := &Registry{
		byMime: make(map[string]ports.TextExtractor),
		byExt:  make(map[string]ports.TextExtractor),
	}
	r.Register(text, []string{"text/plain", "text/markdown", "text/x-markdown", "text/csv", "application/json"}, []string{".txt", ".md", ".markdown", ".csv", ".json", ".log"})
	r.Register(pdfx, []string{"application/pdf"}, []string{".pdf"})
	r.Register(xlsxx, []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}, []string{".xlsx"})
	r.Register(htmlx, []string{"text/html", "application/xhtml+xml"}, []string{".html", ".htm", ".xhtml"})
	return r
}

func (r *Registry) Register(ext ports.TextExtractor, mimeTypes, extensions []string) {
	for _, m := range mimeTypes {
		r.byMime[m] = ext
	}
	for _, e := range extensions {
		r.byExt[e] = ext
	}
}

func (r *Registry) Extract(ctx context.Context, file domain.SourceFile, body io.Reader) (string, error) {
	ext, ok := r.lookup(file)
	if !ok {
		return "", domain.WrapError(
			domain.ErrMalformedInput,
			"select extractor",
			fmt.Errorf("unsupported format %q for %s", file.MimeType, file.Filename),
		)
	}
	return ext.Extract(ctx, file, body)
}

func (r *Registry) lookup(file domain.SourceFile) (ports.TextExtractor, bool) {
	mimeType := strings.ToLower(strings.TrimSpace(file.MimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if ext, ok := r.byMime[mimeType]; ok {
		return ext, true
	}
	ext, ok := r.byExt[strings.ToLower(filepath.Ext(file.Filename))]
	return ext, ok
}
