package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

type JobQueueConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
	PollTimeout  time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

func (c JobQueueConfig) withDefaults() JobQueueConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	return c
}

// JobQueueUseCase implements lease/ack/fail semantics over a durable JobStore.
type JobQueueUseCase struct {
	store    ports.JobStore
	docs     ports.DocumentRepository
	notifier ports.JobNotifier
	cfg      JobQueueConfig
	now      func() time.Time
	newToken func() string
}

func NewJobQueueUseCase(
	store ports.JobStore,
	docs ports.DocumentRepository,
	notifier ports.JobNotifier,
	cfg JobQueueConfig,
) *JobQueueUseCase {
	return &JobQueueUseCase{
		store:    store,
		docs:     docs,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
}

func (uc *JobQueueUseCase) MaxAttempts() int { return uc.cfg.MaxAttempts }

// Enqueue validates and stores job. A job whose id is already stored collapses into the existing one.
func (uc *JobQueueUseCase) Enqueue(ctx context.Context, job *domain.Job) (string, error) {
	if err := domain.ValidateJob(job); err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	now := uc.now()
	job.Status = domain.JobStatusPending
	job.Attempt = 0
	job.AvailableAt = now
	job.LeasedBy, job.LeaseToken, job.LeaseExpiry = "", "", time.Time{}
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := uc.store.Insert(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobExists) {
			return job.ID, nil
		}
		return "", fmt.Errorf("insert job: %w", err)
	}

	if uc.notifier != nil {
		if err := uc.notifier.Notify(ctx, job.ID); err != nil {
			slog.Default().Warn("job_notify_failed", "job_id", job.ID, "error", err.Error())
		}
	}
	return job.ID, nil
}

// Lease blocks until a job is claimable, the poll timeout elapses (nil job) or ctx is done.
func (uc *JobQueueUseCase) Lease(ctx context.Context, workerID string, visibility time.Duration) (*domain.Job, error) {
	if visibility <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "lease job", errors.New("visibility timeout must be positive"))
	}

	deadline := time.NewTimer(uc.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(uc.cfg.PollInterval)
	defer ticker.Stop()

	var wakeups <-chan struct{}
	if uc.notifier != nil {
		wakeups = uc.notifier.Wakeups()
	}

	for {
		job, err := uc.claim(ctx, workerID, visibility)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		case <-wakeups:
		}
	}
}

// claim loops until it leases a runnable job or nothing is claimable.
// Expired leases count as a failed attempt and may dead-letter the job on the spot.
func (uc *JobQueueUseCase) claim(ctx context.Context, workerID string, visibility time.Duration) (*domain.Job, error) {
	for {
		now := uc.now()
		token := uc.newToken()
		job, err := uc.store.Claim(ctx, workerID, token, now, now.Add(visibility))
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		if job == nil {
			return nil, nil
		}
		if !job.Redelivered {
			return job, nil
		}

		job.Attempt++
		job.UpdatedAt = now
		if job.Attempt >= uc.cfg.MaxAttempts {
			cause := domain.WrapError(domain.ErrAttemptsExhausted, "lease job", fmt.Errorf("lease expired on attempt %d", job.Attempt))
			if err := uc.deadLetter(ctx, job, token, cause, cause); err != nil {
				return nil, err
			}
			continue
		}
		job.LastError = "lease expired"
		if err := uc.store.Update(ctx, job, token); err != nil {
			return nil, fmt.Errorf("record redelivery: %w", err)
		}
		return job, nil
	}
}

func (uc *JobQueueUseCase) Ack(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return domain.WrapError(domain.ErrInvalidInput, "ack job", errors.New("job is nil"))
	}
	token := job.LeaseToken
	done := *job
	done.Status = domain.JobStatusDone
	done.LeasedBy, done.LeaseToken, done.LeaseExpiry = "", "", time.Time{}
	done.UpdatedAt = uc.now()
	if err := uc.store.Update(ctx, &done, token); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	*job = done
	return nil
}

// Fail requeues a retryable failure with exponential backoff or dead-letters the job.
func (uc *JobQueueUseCase) Fail(ctx context.Context, job *domain.Job, reason error) (domain.FailOutcome, error) {
	if job == nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "fail job", errors.New("job is nil"))
	}
	if reason == nil {
		reason = errors.New("unspecified failure")
	}
	token := job.LeaseToken
	failed := *job
	failed.LastError = reason.Error()
	failed.UpdatedAt = uc.now()

	if !domain.Retryable(reason) {
		if err := uc.deadLetter(ctx, &failed, token, reason, reason); err != nil {
			return "", err
		}
		*job = failed
		return domain.OutcomeDeadLettered, nil
	}

	failed.Attempt++
	if failed.Attempt >= uc.cfg.MaxAttempts {
		exhausted := domain.WrapError(domain.ErrAttemptsExhausted, "fail job", reason)
		if err := uc.deadLetter(ctx, &failed, token, exhausted, reason); err != nil {
			return "", err
		}
		*job = failed
		return domain.OutcomeDeadLettered, nil
	}

	failed.Status = domain.JobStatusPending
	failed.AvailableAt = failed.UpdatedAt.Add(uc.Backoff(failed.Attempt))
	failed.LeasedBy, failed.LeaseToken, failed.LeaseExpiry = "", "", time.Time{}
	if err := uc.store.Update(ctx, &failed, token); err != nil {
		return "", fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	*job = failed
	return domain.OutcomeRequeued, nil
}

// Backoff returns min(base * 2^(attempt-1), max).
func (uc *JobQueueUseCase) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := uc.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= uc.cfg.BackoffMax {
			return uc.cfg.BackoffMax
		}
	}
	if delay > uc.cfg.BackoffMax {
		return uc.cfg.BackoffMax
	}
	return delay
}

func (uc *JobQueueUseCase) deadLetter(ctx context.Context, job *domain.Job, token string, final, cause error) error {
	job.Status = domain.JobStatusDead
	job.LastError = cause.Error()
	job.LeasedBy, job.LeaseToken, job.LeaseExpiry = "", "", time.Time{}
	if err := uc.store.Update(ctx, job, token); err != nil {
		return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	}
	slog.Default().Warn("job_dead_lettered",
		"job_id", job.ID,
		"document_id", job.DocumentID,
		"kind", string(job.Kind),
		"attempt", job.Attempt,
		"error", cause.Error(),
	)
	if err := uc.failDocument(ctx, job, final, cause); err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return nil
}

// failDocumentAttempts bounds the re-reads when a running stage moves the document between read and write.
const failDocumentAttempts = 3

func (uc *JobQueueUseCase) failDocument(ctx context.Context, job *domain.Job, final, cause error) error {
	for attempt := 0; ; attempt++ {
		doc, err := uc.docs.GetByID(ctx, job.DocumentID)
		if err != nil {
			if errors.Is(err, domain.ErrDocumentNotFound) {
				return nil
			}
			return err
		}
		if doc.Revision != job.Revision || doc.State.Terminal() {
			return nil
		}

		stage := stageForJob(job.Kind, doc.State)
		var stageErr *domain.StageError
		if errors.As(cause, &stageErr) {
			stage = stageErr.Stage
		}
		failure := domain.FailureIndexing
		if stage == domain.StateExtracting || stage == domain.StateQueued {
			failure = domain.FailureExtraction
		}

		err = uc.docs.UpdateState(ctx, domain.StateTransition{
			DocumentID: doc.ID,
			Revision:   doc.Revision,
			From:       doc.State,
			To:         domain.StateFailed,
			ErrorInfo: &domain.ErrorInfo{
				Kind:    domain.KindOf(final),
				Stage:   stage,
				Failure: failure,
				Cause:   domain.KindOf(cause),
				Reason:  cause.Error(),
			},
			At: uc.now(),
		})
		if err == nil || !errors.Is(err, domain.ErrStaleTransition) || attempt+1 >= failDocumentAttempts {
			return err
		}
	}
}

func stageForJob(kind domain.JobKind, current domain.DocumentState) domain.DocumentState {
	switch {
	case current != domain.StateQueued:
		return current
	case kind == domain.JobKindChunkAndIndex:
		return domain.StateChunking
	default:
		return domain.StateExtracting
	}
}

func (uc *JobQueueUseCase) DeadLetters(ctx context.Context, limit int) ([]domain.Job, error) {
	jobs, err := uc.store.ListByStatus(ctx, domain.JobStatusDead, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return jobs, nil
}

// Requeue moves a dead-lettered job back to pending with a fresh attempt budget and reopens its document.
func (uc *JobQueueUseCase) Requeue(ctx context.Context, jobID string) error {
	job, err := uc.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status != domain.JobStatusDead {
		return domain.WrapError(domain.ErrInvalidInput, "requeue job", fmt.Errorf("job %s is %s, not dead", jobID, job.Status))
	}

	doc, err := uc.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if doc.Revision != job.Revision {
		return domain.WrapError(domain.ErrInvalidInput, "requeue job", fmt.Errorf("job %s belongs to superseded revision %d", jobID, job.Revision))
	}

	now := uc.now()
	token := job.LeaseToken
	job.Status = domain.JobStatusPending
	job.Attempt = 0
	job.AvailableAt = now
	job.LastError = ""
	job.UpdatedAt = now
	if err := uc.store.Update(ctx, job, token); err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}

	if doc.State == domain.StateFailed {
		reopen := domain.StateTransition{
			DocumentID: doc.ID,
			Revision:   doc.Revision,
			From:       domain.StateFailed,
			To:         domain.StateQueued,
			At:         now,
		}
		if err := uc.docs.UpdateState(ctx, reopen); err != nil && !errors.Is(err, domain.ErrStaleTransition) {
			return fmt.Errorf("reopen document: %w", err)
		}
	}

	if uc.notifier != nil {
		if err := uc.notifier.Notify(ctx, job.ID); err != nil {
			slog.Default().Warn("job_notify_failed", "job_id", job.ID, "error", err.Error())
		}
	}
	return nil
}
