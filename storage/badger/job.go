package badger

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
//
// Claims rely on badger's serializable snapshot isolation: the claim
// transaction reads the queued index entry and the job record, so a
// concurrent claim that commits first causes this commit to fail with
// badger.ErrConflict, which is reported as storage.ErrRaceLost.
type JobRepository struct {
	backend *Backend
	now     func() time.Time

	mu          sync.Mutex
	lastCreated time.Time
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) (*JobRepository, error) {
	return &JobRepository{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases resources. JobRepository has no resources to release.
func (r *JobRepository) Close() error {
	return nil
}

// Enqueue stores a new queued job unless an active duplicate exists.
func (r *JobRepository) Enqueue(ctx context.Context, job *core.Job) (*core.Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := core.ValidateTenant(job.TenantID); err != nil {
		return nil, false, err
	}

	var (
		stored  *core.Job
		deduped bool
	)

	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		stored, deduped = nil, false

		activeKey := makeJobActiveKey(job.TenantID, job.URLHash)
		existing, err := readIndexedJob(tx, activeKey)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status.Active() {
			stored, deduped = existing, true
			return nil
		}

		created := *job
		created.ID = uuid.NewString()
		created.Status = core.JobStatusQueued
		created.Attempts = 0
		created.Error = ""
		created.CreatedAt = r.nextCreatedAt()
		created.UpdatedAt = created.CreatedAt
		created.CompletedAt = time.Time{}
		created.Payload = maps.Clone(job.Payload)

		if err := writeJob(tx, &created); err != nil {
			return err
		}
		if err := tx.Set(makeJobQueueKey(created.Priority, created.CreatedAt, created.ID), []byte(created.TenantID)); err != nil {
			return err
		}
		if err := tx.Set(activeKey, []byte(created.ID)); err != nil {
			return err
		}
		if err := tx.Set(makeJobCreatedKey(created.CreatedAt, created.ID), nil); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		stored = &created
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, deduped, nil
}

// ClaimNext claims the next queued job matching filter.
func (r *JobRepository) ClaimNext(ctx context.Context, filter storage.ClaimFilter) (*core.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var claimed *core.Job

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		queueKey, err := nextQueueKey(tx, filter)
		if err != nil {
			return err
		}
		if queueKey == nil {
			return nil
		}

		jobID := jobIDFromQueueKey(queueKey)
		job, err := readJob(tx, makeJobKey(jobID))
		if err != nil {
			return err
		}
		if job == nil || job.Status != core.JobStatusQueued {
			// Index entry outlived its job; drop it so the next selection moves on.
			if err := tx.Delete(queueKey); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil && !errors.Is(err, badger.ErrConflict) {
				return err
			}
			return storage.ErrRaceLost
		}

		job.Status = core.JobStatusInProgress
		job.Attempts++
		job.Error = ""
		job.UpdatedAt = r.now()

		if err := writeJob(tx, job); err != nil {
			return err
		}
		if err := tx.Delete(queueKey); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			if errors.Is(err, badger.ErrConflict) {
				return storage.ErrRaceLost
			}
			return err
		}
		claimed = job
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// nextCreatedAt returns a creation time strictly after the previous one at
// microsecond resolution, so queue keys preserve enqueue order.
func (r *JobRepository) nextCreatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().Truncate(time.Microsecond)
	if !now.After(r.lastCreated) {
		now = r.lastCreated.Add(time.Microsecond)
	}
	r.lastCreated = now
	return now
}

// nextQueueKey returns the first queued index key matching filter, or nil.
func nextQueueKey(tx *badger.Txn, filter storage.ClaimFilter) ([]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(jobQueuePrefix + ":")
	opts.PrefetchValues = filter.TenantID != ""
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		if filter.TenantID != "" {
			tenant, err := item.ValueCopy(nil)
			if err != nil {
				return nil, err
			}
			if string(tenant) != filter.TenantID {
				continue
			}
		}
		return item.KeyCopy(nil), nil
	}
	return nil, nil
}

// UpdateStage merges the stage and extra keys into the job payload.
func (r *JobRepository) UpdateStage(ctx context.Context, jobID string, stage core.Stage, extra map[string]any) error {
	return r.backend.WithRetryTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, makeJobKey(jobID))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}

		if job.Payload == nil {
			job.Payload = make(map[string]any, len(extra)+1)
		}
		maps.Copy(job.Payload, extra)
		job.Payload[core.PayloadStage] = string(stage)

		now := r.now()
		if job.Stage != stage || len(job.StageHistory) == 0 {
			job.StageHistory = append(job.StageHistory, core.StageMark{Stage: stage, At: now})
		}
		job.Stage = stage
		job.UpdatedAt = now

		if err := writeJob(tx, job); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Finalize moves an in-progress job to its terminal status.
func (r *JobRepository) Finalize(ctx context.Context, jobID string, outcome core.Outcome, result *core.JobResult, errMsg string) error {
	return r.backend.WithRetryTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, makeJobKey(jobID))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		if job.Status != core.JobStatusInProgress {
			return storage.ErrNotInProgress
		}

		now := r.now()
		switch outcome {
		case core.OutcomeCompleted:
			job.Status = core.JobStatusCompleted
			job.Result = result
			job.Error = ""
		case core.OutcomeFailed:
			job.Status = core.JobStatusFailed
			job.Error = errMsg
		default:
			return storage.ErrInvalidQuery
		}
		job.CompletedAt = now
		job.UpdatedAt = now

		if err := writeJob(tx, job); err != nil {
			return err
		}

		// Release the dedup slot only if it still belongs to this job
		activeKey := makeJobActiveKey(job.TenantID, job.URLHash)
		owner, err := readIndexValue(tx, activeKey)
		if err != nil {
			return err
		}
		if owner == job.ID {
			if err := tx.Delete(activeKey); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readJob(tx, makeJobKey(jobID))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// FindActiveJob returns the active job for a tenant and URL hash.
func (r *JobRepository) FindActiveJob(ctx context.Context, tenantID, urlHash string) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readIndexedJob(tx, makeJobActiveKey(tenantID, urlHash))
		if err != nil {
			return err
		}
		if job == nil || !job.Status.Active() {
			return storage.ErrNotFound
		}
		result = job
		return nil
	}, false)
	return result, err
}

// ListJobs returns jobs matching query, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, query storage.JobQuery) ([]*core.Job, error) {
	var results []*core.Job

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(jobCreatedPrefix + ":")
		// Seek past the last possible key with this prefix
		startKey := append(bytes.Clone(prefix), 0xff)

		for iter.Seek(startKey); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if !bytes.HasPrefix(key, prefix) {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			job, err := readJob(tx, makeJobKey(jobIDFromCreatedKey(key)))
			if err != nil {
				return err
			}
			if job == nil {
				continue
			}
			if query.TenantID != "" && job.TenantID != query.TenantID {
				continue
			}
			if query.Status != "" && job.Status != query.Status {
				continue
			}

			results = append(results, job)
			if query.Limit > 0 && len(results) >= query.Limit {
				break
			}
		}
		return nil
	}, false)

	return results, err
}

// readJob reads a job record, returning nil if it does not exist.
func readJob(tx *badger.Txn, key []byte) (*core.Job, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var job *core.Job
	err = item.Value(func(val []byte) error {
		var err error
		job, err = storage.UnmarshalJob(val)
		return err
	})
	return job, err
}

// readIndexedJob follows an index key holding a job ID to the job record.
func readIndexedJob(tx *badger.Txn, indexKey []byte) (*core.Job, error) {
	jobID, err := readIndexValue(tx, indexKey)
	if err != nil || jobID == "" {
		return nil, err
	}
	return readJob(tx, makeJobKey(jobID))
}

// readIndexValue reads an index value, returning "" if the key does not exist.
func readIndexValue(tx *badger.Txn, key []byte) (string, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", nil
		}
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func writeJob(tx *badger.Txn, job *core.Job) error {
	value, err := storage.MarshalJob(job)
	if err != nil {
		return err
	}
	return tx.Set(makeJobKey(job.ID), value)
}
