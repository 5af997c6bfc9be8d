package ollama

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kirillkom/doc-intelligence/internal/infrastructure/resilience"
)

// Ollama reports a missing or oversized model as 404/500 with a message; retrying cannot fix either.
var permanentModelErrors = []string{
	"not found, try pulling it first",
	"requires more system memory",
	"does not support",
}

func classifyOllamaError(err error) resilience.Verdict {
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		body := strings.ToLower(statusErr.Body)
		for _, marker := range permanentModelErrors {
			if strings.Contains(body, marker) {
				return resilience.Permanent
			}
		}
		if statusErr.StatusCode == http.StatusNotFound {
			return resilience.Permanent
		}
	}
	return resilience.ClassifyHTTP(err)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	return resilience.WrapTemporary(operation, err, classifyOllamaError)
}
