package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

type storedJob struct {
	Seq uint64     `json:"seq"`
	Job domain.Job `json:"job"`
}

// JobStore keeps jobs under their id plus an insertion-ordered index used by Claim.
// Only pending and leased jobs are in the index; done and dead jobs leave it.
type JobStore struct {
	backend *Backend
	seq     *badger.Sequence
}

func NewJobStore(backend *Backend) (*JobStore, error) {
	seq, err := backend.sequence(jobIDSeq)
	if err != nil {
		return nil, fmt.Errorf("job sequence: %w", err)
	}
	return &JobStore{backend: backend, seq: seq}, nil
}

func (s *JobStore) Close() error {
	return s.seq.Release()
}

func (s *JobStore) Insert(_ context.Context, job *domain.Job) error {
	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next job seq: %w", err)
	}
	return s.backend.update(func(tx *badger.Txn) error {
		var existing storedJob
		found, err := getJSON(tx, makeJobKey(job.ID), &existing)
		if err != nil {
			return err
		}
		if found {
			return domain.ErrJobExists
		}
		stored := storedJob{Seq: next, Job: *job}
		if err := setJSON(tx, makeJobKey(job.ID), stored); err != nil {
			return err
		}
		if !claimIndexed(job.Status) {
			return nil
		}
		return tx.Set(makeJobOrderKey(next), []byte(job.ID))
	})
}

func (s *JobStore) Get(_ context.Context, id string) (*domain.Job, error) {
	var stored storedJob
	err := s.backend.view(func(tx *badger.Txn) error {
		found, err := getJSON(tx, makeJobKey(id), &stored)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrJobNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored.Job, nil
}

// Claim walks jobs in insertion order and leases the first claimable one.
// Concurrent claimers of the same job conflict at commit and the loser retries.
func (s *JobStore) Claim(_ context.Context, workerID, token string, now, leaseUntil time.Time) (*domain.Job, error) {
	var claimed *domain.Job
	err := s.backend.update(func(tx *badger.Txn) error {
		claimed = nil
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobOrderPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var stored storedJob
			found, err := getJSON(tx, makeJobKey(string(id)), &stored)
			if err != nil {
				return err
			}
			if !found || !stored.Job.Claimable(now) {
				continue
			}

			redelivered := stored.Job.Status == domain.JobStatusLeased
			stored.Job.Status = domain.JobStatusLeased
			stored.Job.LeasedBy = workerID
			stored.Job.LeaseToken = token
			stored.Job.LeaseExpiry = leaseUntil
			if err := setJSON(tx, makeJobKey(stored.Job.ID), stored); err != nil {
				return err
			}
			job := stored.Job
			job.Redelivered = redelivered
			claimed = &job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *JobStore) Update(_ context.Context, job *domain.Job, expectedToken string) error {
	return s.backend.update(func(tx *badger.Txn) error {
		var stored storedJob
		found, err := getJSON(tx, makeJobKey(job.ID), &stored)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrJobNotFound
		}
		if stored.Job.LeaseToken != expectedToken {
			return domain.ErrLeaseLost
		}
		wasIndexed := claimIndexed(stored.Job.Status)
		stored.Job = *job
		stored.Job.Redelivered = false
		if err := setJSON(tx, makeJobKey(job.ID), stored); err != nil {
			return err
		}
		switch isIndexed := claimIndexed(job.Status); {
		case wasIndexed && !isIndexed:
			return tx.Delete(makeJobOrderKey(stored.Seq))
		case !wasIndexed && isIndexed:
			return tx.Set(makeJobOrderKey(stored.Seq), []byte(job.ID))
		}
		return nil
	})
}

func claimIndexed(status domain.JobStatus) bool {
	return status == domain.JobStatusPending || status == domain.JobStatusLeased
}

// ListByStatus returns matching jobs in insertion order.
func (s *JobStore) ListByStatus(_ context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	var matched []storedJob
	err := s.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(jobPrefix), func(_, val []byte) error {
			var stored storedJob
			if err := json.Unmarshal(val, &stored); err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			if stored.Job.Status == status {
				matched = append(matched, stored)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	jobs := make([]domain.Job, 0, len(matched))
	for _, stored := range matched {
		jobs = append(jobs, stored.Job)
	}
	return jobs, nil
}

func (s *JobStore) DeleteByDocument(_ context.Context, documentID string) error {
	return s.backend.update(func(tx *badger.Txn) error {
		var doomed []storedJob
		err := scanPrefix(tx, []byte(jobPrefix), func(_, val []byte) error {
			var stored storedJob
			if err := json.Unmarshal(val, &stored); err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			if stored.Job.DocumentID == documentID {
				doomed = append(doomed, stored)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, stored := range doomed {
			if err := tx.Delete(makeJobKey(stored.Job.ID)); err != nil {
				return err
			}
			if err := tx.Delete(makeJobOrderKey(stored.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
}
