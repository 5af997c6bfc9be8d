package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

// Extractor reads UTF-8 text formats: plain text, markdown, csv and json.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, file domain.SourceFile, body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", domain.WrapError(domain.ErrTransientIO, "read source document", err)
	}

	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) || bytes.IndexByte(raw, 0) >= 0 {
		return "", domain.WrapError(domain.ErrMalformedInput, "extract plain text", fmt.Errorf("%s is not valid UTF-8 text", file.Filename))
	}

	return strings.TrimSpace(string(raw)), nil
}
