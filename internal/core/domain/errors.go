package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	ErrTransientIO       = errors.New("transient io error")
	ErrMalformedInput    = errors.New("malformed input")
	ErrDocumentNotReady  = errors.New("document not ready")
	ErrSessionEmpty      = errors.New("session empty")
	ErrAnswerTimeout     = errors.New("answer timeout")
	ErrIndexUnavailable  = errors.New("index unavailable")
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	ErrLeaseLost         = errors.New("lease lost")
	ErrJobExists         = errors.New("job already exists")
	ErrStaleTransition   = errors.New("document changed concurrently")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKind is the externally visible name of an error class.
type ErrorKind string

const (
	KindTransientIO       ErrorKind = "TransientIOError"
	KindMalformedInput    ErrorKind = "MalformedInputError"
	KindDocumentNotReady  ErrorKind = "DocumentNotReady"
	KindSessionEmpty      ErrorKind = "SessionEmpty"
	KindAnswerTimeout     ErrorKind = "AnswerTimeout"
	KindIndexUnavailable  ErrorKind = "IndexUnavailable"
	KindAttemptsExhausted ErrorKind = "AttemptsExhausted"
	KindUnknown           ErrorKind = "Unknown"
)

var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrMalformedInput, KindMalformedInput},
	{ErrAttemptsExhausted, KindAttemptsExhausted},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrAnswerTimeout, KindAnswerTimeout},
	{ErrDocumentNotReady, KindDocumentNotReady},
	{ErrSessionEmpty, KindSessionEmpty},
	{ErrTransientIO, KindTransientIO},
	{ErrTemporary, KindTransientIO},
}

// KindOf maps an error chain onto the error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether a stage failure may succeed on a later attempt.
// Malformed input and invalid payloads never do; unclassified errors are retried within the attempt budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrMalformedInput), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDocumentNotFound):
		return false
	default:
		return true
	}
}

// StageError records which pipeline stage produced a failure.
type StageError struct {
	Stage   DocumentState
	Failure string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Failure, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage DocumentState, err error) error {
	if err == nil {
		return nil
	}
	failure := FailureIndexing
	if stage == StateExtracting || stage == StateQueued {
		failure = FailureExtraction
	}
	return &StageError{Stage: stage, Failure: failure, Err: err}
}
