package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

const uniqueViolation = "23505"

const jobColumns = `id, document_id, kind, revision, attempt, status, payload, available_at, leased_by, lease_token, lease_expiry, last_error, created_at, updated_at`

// JobStore keeps the queue in the jobs table; Claim relies on FOR UPDATE SKIP LOCKED.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Insert(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		job.ID, job.DocumentID, string(job.Kind), job.Revision, job.Attempt, string(job.Status), []byte(job.Payload),
		job.AvailableAt, job.LeasedBy, job.LeaseToken, nullTime(job.LeaseExpiry), job.LastError, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) Claim(ctx context.Context, workerID, token string, now, leaseUntil time.Time) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
WITH next AS (
	SELECT id, status AS prev_status
	FROM jobs
	WHERE (status = 'pending' AND available_at <= $1)
	   OR (status = 'leased' AND lease_expiry <= $1)
	ORDER BY seq
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE jobs AS j
SET status = 'leased', leased_by = $2, lease_token = $3, lease_expiry = $4
FROM next
WHERE j.id = next.id
RETURNING j.id, j.document_id, j.kind, j.revision, j.attempt, j.status, j.payload, j.available_at,
	j.leased_by, j.lease_token, j.lease_expiry, j.last_error, j.created_at, j.updated_at, next.prev_status
`, now, workerID, token, leaseUntil)

	var prevStatus string
	job, err := scanJob(row, &prevStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	job.Redelivered = prevStatus == string(domain.JobStatusLeased)
	return &job, nil
}

func (s *JobStore) Update(ctx context.Context, job *domain.Job, expectedToken string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET attempt = $2, status = $3, available_at = $4, leased_by = $5, lease_token = $6,
	lease_expiry = $7, last_error = $8, updated_at = $9
WHERE id = $1 AND lease_token = $10
`,
		job.ID, job.Attempt, string(job.Status), job.AvailableAt, job.LeasedBy, job.LeaseToken,
		nullTime(job.LeaseExpiry), job.LastError, job.UpdatedAt, expectedToken,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return domain.WrapError(domain.ErrJobNotFound, "update job", fmt.Errorf("id=%s", job.ID))
	}
	return domain.WrapError(domain.ErrLeaseLost, "update job", fmt.Errorf("id=%s", job.ID))
}

func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status = $1
ORDER BY seq
LIMIT $2
`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (s *JobStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

func scanJob(row rowScanner, extra ...any) (domain.Job, error) {
	var (
		job         domain.Job
		kind        string
		status      string
		payload     []byte
		leaseExpiry sql.NullTime
	)
	dest := []any{
		&job.ID, &job.DocumentID, &kind, &job.Revision, &job.Attempt, &status, &payload, &job.AvailableAt,
		&job.LeasedBy, &job.LeaseToken, &leaseExpiry, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Job{}, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	job.Payload = payload
	if leaseExpiry.Valid {
		job.LeaseExpiry = leaseExpiry.Time
	}
	return job, nil
}
