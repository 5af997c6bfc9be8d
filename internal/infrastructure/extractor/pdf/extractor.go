package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	lpdf "github.com/ledongthuc/pdf"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the plain text layer of a PDF. The parser panics on some corrupt inputs;
// those are reported as malformed input like any other parse failure.
func (e *Extractor) Extract(_ context.Context, file domain.SourceFile, body io.Reader) (text string, err error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", domain.WrapError(domain.ErrTransientIO, "read source document", err)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(raw, "\x00\t\r\n "), []byte("%PDF-")) {
		return "", domain.WrapError(domain.ErrMalformedInput, "extract pdf", fmt.Errorf("%s has no PDF header", file.Filename))
	}

	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = domain.WrapError(domain.ErrMalformedInput, "extract pdf", fmt.Errorf("%s: %v", file.Filename, r))
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", domain.WrapError(domain.ErrMalformedInput, "open pdf", fmt.Errorf("%s: %w", file.Filename, err))
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", domain.WrapError(domain.ErrMalformedInput, "read pdf text", fmt.Errorf("%s: %w", file.Filename, err))
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", domain.WrapError(domain.ErrMalformedInput, "read pdf text", fmt.Errorf("%s: %w", file.Filename, err))
	}
	return strings.TrimSpace(buf.String()), nil
}
