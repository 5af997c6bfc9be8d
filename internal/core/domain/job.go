package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type JobKind string

const (
	JobKindExtract       JobKind = "extract"
	JobKindChunkAndIndex JobKind = "chunk-and-index"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusLeased  JobStatus = "leased"
	JobStatusDone    JobStatus = "done"
	JobStatusDead    JobStatus = "dead"
)

// Job is the durable unit of ingestion work.
type Job struct {
	ID          string          `json:"id"`
	DocumentID  string          `json:"document_id"`
	Kind        JobKind         `json:"kind"`
	Revision    int             `json:"revision"`
	Attempt     int             `json:"attempt"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	AvailableAt time.Time       `json:"available_at"`
	LeasedBy    string          `json:"leased_by,omitempty"`
	LeaseToken  string          `json:"lease_token,omitempty"`
	LeaseExpiry time.Time       `json:"lease_expiry,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Redelivered is set on a lease that took over an expired lease.
	Redelivered bool `json:"-"`
}

// Claimable reports whether the job may be leased at now.
func (j *Job) Claimable(now time.Time) bool {
	switch j.Status {
	case JobStatusPending:
		return !j.AvailableAt.After(now)
	case JobStatusLeased:
		return !j.LeaseExpiry.After(now)
	default:
		return false
	}
}

type ExtractPayload struct {
	StorageKeys []string `json:"storage_keys"`
}

type ChunkAndIndexPayload struct {
	TextKey string `json:"text_key"`
}

type FailOutcome string

const (
	OutcomeRequeued     FailOutcome = "requeued"
	OutcomeDeadLettered FailOutcome = "dead-lettered"
)

func PipelineJobID(documentID string, revision int, kind JobKind) string {
	return fmt.Sprintf("%s/%d/%s", documentID, revision, kind)
}

func NewExtractJob(doc *Document) (*Job, error) {
	keys := make([]string, 0, len(doc.SourceFiles))
	for _, f := range doc.SourceFiles {
		keys = append(keys, f.StorageKey)
	}
	return newJob(doc.ID, doc.Revision, JobKindExtract, ExtractPayload{StorageKeys: keys})
}

func NewChunkAndIndexJob(doc *Document, textKey string) (*Job, error) {
	return newJob(doc.ID, doc.Revision, JobKindChunkAndIndex, ChunkAndIndexPayload{TextKey: textKey})
}

func newJob(documentID string, revision int, kind JobKind, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Job{
		ID:         PipelineJobID(documentID, revision, kind),
		DocumentID: documentID,
		Kind:       kind,
		Revision:   revision,
		Payload:    raw,
	}, nil
}

// ValidateJob rejects unknown kinds and payloads that do not match the kind's schema.
func ValidateJob(job *Job) error {
	if job == nil {
		return WrapError(ErrInvalidInput, "validate job", errors.New("job is nil"))
	}
	if strings.TrimSpace(job.DocumentID) == "" {
		return WrapError(ErrInvalidInput, "validate job", errors.New("document_id is required"))
	}
	switch job.Kind {
	case JobKindExtract:
		p, err := job.ExtractPayload()
		if err != nil {
			return err
		}
		if len(p.StorageKeys) == 0 {
			return WrapError(ErrInvalidInput, "validate job", errors.New("extract payload has no storage keys"))
		}
	case JobKindChunkAndIndex:
		p, err := job.ChunkAndIndexPayload()
		if err != nil {
			return err
		}
		if p.TextKey == "" {
			return WrapError(ErrInvalidInput, "validate job", errors.New("chunk-and-index payload has no text key"))
		}
	default:
		return WrapError(ErrInvalidInput, "validate job", fmt.Errorf("unknown job kind %q", job.Kind))
	}
	return nil
}

func (j *Job) ExtractPayload() (ExtractPayload, error) {
	var p ExtractPayload
	if err := decodePayload(j, JobKindExtract, &p); err != nil {
		return ExtractPayload{}, err
	}
	return p, nil
}

func (j *Job) ChunkAndIndexPayload() (ChunkAndIndexPayload, error) {
	var p ChunkAndIndexPayload
	if err := decodePayload(j, JobKindChunkAndIndex, &p); err != nil {
		return ChunkAndIndexPayload{}, err
	}
	return p, nil
}

func decodePayload(j *Job, kind JobKind, out any) error {
	if j.Kind != kind {
		return WrapError(ErrInvalidInput, "decode payload", fmt.Errorf("job %s is %s, not %s", j.ID, j.Kind, kind))
	}
	if len(j.Payload) == 0 {
		return WrapError(ErrInvalidInput, "decode payload", fmt.Errorf("job %s has empty payload", j.ID))
	}
	dec := json.NewDecoder(strings.NewReader(string(j.Payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return WrapError(ErrInvalidInput, "decode payload", err)
	}
	return nil
}
