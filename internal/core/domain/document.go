package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

type DocumentState string

const (
	StateQueued     DocumentState = "queued"
	StateExtracting DocumentState = "extracting"
	StateChunking   DocumentState = "chunking"
	StateIndexing   DocumentState = "indexing"
	StateReady      DocumentState = "ready"
	StateFailed     DocumentState = "failed"
)

var stateRank = map[DocumentState]int{
	StateQueued:     0,
	StateExtracting: 1,
	StateChunking:   2,
	StateIndexing:   3,
	StateReady:      4,
}

// Terminal reports whether no further pipeline transition is allowed for the current revision.
func (s DocumentState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Advances reports whether moving from s to next is a forward pipeline step.
// Re-entering the current state is not an advance; failed is reachable from any non-terminal state.
func (s DocumentState) Advances(next DocumentState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	from, okFrom := stateRank[s]
	to, okTo := stateRank[next]
	return okFrom && okTo && to > from
}

type SourceFile struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	ContentHash string `json:"content_hash"`
	ByteSize    int64  `json:"byte_size"`
	StorageKey  string `json:"storage_key"`
}

const (
	FailureExtraction = "ExtractionFailed"
	FailureIndexing   = "IndexingFailed"
)

// ErrorInfo explains why a document reached the failed state.
type ErrorInfo struct {
	Kind    ErrorKind     `json:"kind"`
	Stage   DocumentState `json:"stage"`
	Failure string        `json:"failure,omitempty"`
	Cause   ErrorKind     `json:"cause,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

type Document struct {
	ID          string        `json:"id"`
	State       DocumentState `json:"state"`
	Revision    int           `json:"revision"`
	Tags        []string      `json:"tags"`
	SourceFiles []SourceFile  `json:"source_files"`
	ErrorInfo   *ErrorInfo    `json:"error_info,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// StateTransition is a conditional state write: it applies only while the stored document
// still has Revision and From.
type StateTransition struct {
	DocumentID string
	Revision   int
	From       DocumentState
	To         DocumentState
	ErrorInfo  *ErrorInfo
	At         time.Time
}

// Matches reports whether the transition still applies to doc.
func (t StateTransition) Matches(doc *Document) bool {
	return doc != nil && doc.ID == t.DocumentID && doc.Revision == t.Revision && doc.State == t.From
}

// Apply writes the target state onto doc.
func (t StateTransition) Apply(doc *Document) {
	doc.State = t.To
	doc.ErrorInfo = t.ErrorInfo
	doc.UpdatedAt = t.At
}

// CheckStateIn rejects a document whose state is not one of states; no states allows any.
func CheckStateIn(doc *Document, op string, states []DocumentState) error {
	if len(states) == 0 || slices.Contains(states, doc.State) {
		return nil
	}
	return WrapError(ErrInvalidInput, op, fmt.Errorf("document %s is still %s", doc.ID, doc.State))
}

// ExtractedTextKey is the object storage key holding the extracted text of a document revision.
func ExtractedTextKey(documentID string, revision int) string {
	return "extracted/" + documentID + "/" + strconv.Itoa(revision) + ".txt"
}

// ParseTags splits a comma separated tag list, trimming blanks and dropping duplicates.
func ParseTags(raw string) []string {
	return NormalizeTags(strings.Split(raw, ","))
}

func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}
