// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package queue is the service layer over storage.JobRepository: request
// validation, dedup reporting, bounded claim retries, non-fatal stage
// tracking and failure truncation.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"maps"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/notify"
	"github.com/poiesic/gleaner/storage"
)

const (
	// DefaultSource is recorded when an enqueue request names no source.
	DefaultSource = "manual"

	// DefaultClaimAttempts bounds reselection after a lost claim race.
	DefaultClaimAttempts = 3
)

// ErrJobRepositoryRequired is returned when a job repository is not provided.
var ErrJobRepositoryRequired = errors.New("job repository required")

// EnqueueRequest asks for a URL to be ingested for a tenant.
type EnqueueRequest struct {
	TenantID string         `json:"tenantId"`
	URL      string         `json:"url"`
	Priority int            `json:"priority,omitempty"`
	Source   string         `json:"source,omitempty"`
	SourceID string         `json:"sourceId,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// EnqueueResult reports the job that now represents the request.
type EnqueueResult struct {
	JobID    string         `json:"jobId"`
	Deduped  bool           `json:"deduped"`
	Status   core.JobStatus `json:"status"`
	URL      string         `json:"url"`
	TenantID string         `json:"tenantId"`
}

// Queue wraps a JobRepository with the ingestion queue's policies.
type Queue struct {
	jobs          storage.JobRepository
	notifier      notify.Notifier
	claimAttempts int
	logger        *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) error {
		if logger == nil {
			logger = slog.Default()
		}
		q.logger = logger
		return nil
	}
}

// WithNotifier publishes a wake-up for every newly queued job.
func WithNotifier(n notify.Notifier) Option {
	return func(q *Queue) error {
		if n == nil {
			n = notify.Nop{}
		}
		q.notifier = n
		return nil
	}
}

// WithClaimAttempts sets how many times ClaimNext reselects after a lost race.
func WithClaimAttempts(n int) Option {
	return func(q *Queue) error {
		if n < 1 {
			n = 1
		}
		q.claimAttempts = n
		return nil
	}
}

// New creates a Queue over jobs.
func New(jobs storage.JobRepository, opts ...Option) (*Queue, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	q := &Queue{
		jobs:          jobs,
		notifier:      notify.Nop{},
		claimAttempts: DefaultClaimAttempts,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	q.logger = q.logger.With("component", "queue")
	return q, nil
}

// Enqueue validates req and queues a job unless an active job already exists
// for the same tenant and URL. A dedup hit is not an error: the existing job
// is reported with Deduped set.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if err := core.ValidateTenant(req.TenantID); err != nil {
		return nil, err
	}
	normalized, err := core.NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	source := req.Source
	if source == "" {
		source = DefaultSource
	}

	payload := make(map[string]any, len(req.Meta)+3)
	maps.Copy(payload, req.Meta)
	payload[core.PayloadURL] = normalized
	payload[core.PayloadTenantID] = req.TenantID
	payload[core.PayloadSource] = source

	job := &core.Job{
		TenantID: req.TenantID,
		URL:      normalized,
		URLHash:  core.URLHash(normalized),
		Priority: req.Priority,
		Source:   source,
		SourceID: req.SourceID,
		Payload:  payload,
	}

	stored, deduped, err := q.jobs.Enqueue(ctx, job)
	if err != nil {
		q.logger.Error("enqueue failed", "tenant", req.TenantID, "url", normalized, "err", err)
		return nil, err
	}

	if deduped {
		q.logger.Info("job deduplicated", "jobId", stored.ID, "tenant", req.TenantID, "url", normalized, "status", stored.Status)
	} else {
		q.logger.Info("job queued", "jobId", stored.ID, "tenant", req.TenantID, "url", normalized, "priority", req.Priority)
		if err := q.notifier.Notify(ctx, req.TenantID); err != nil {
			q.logger.Warn("wake-up failed", "jobId", stored.ID, "err", err)
		}
	}

	return &EnqueueResult{
		JobID:    stored.ID,
		Deduped:  deduped,
		Status:   stored.Status,
		URL:      normalized,
		TenantID: req.TenantID,
	}, nil
}

// ClaimNext claims the next eligible job. Lost races are retried up to the
// configured attempt count and then reported as no job.
func (q *Queue) ClaimNext(ctx context.Context, filter storage.ClaimFilter) (*core.Job, error) {
	for attempt := 1; attempt <= q.claimAttempts; attempt++ {
		job, err := q.jobs.ClaimNext(ctx, filter)
		if errors.Is(err, storage.ErrRaceLost) {
			q.logger.Debug("claim race lost", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		if job != nil {
			q.logger.Debug("job claimed", "jobId", job.ID, "tenant", job.TenantID, "attempts", job.Attempts)
		}
		return job, nil
	}
	return nil, nil
}

// MarkStage records stage progress. Failures are logged and swallowed since
// stage tracking must never abort a job.
func (q *Queue) MarkStage(ctx context.Context, jobID string, stage core.Stage, extra map[string]any) {
	if err := q.jobs.UpdateStage(ctx, jobID, stage, extra); err != nil {
		q.logger.Warn("stage update failed", "jobId", jobID, "stage", stage, "err", err)
	}
}

// Complete finalizes a job as completed with result.
func (q *Queue) Complete(ctx context.Context, jobID string, result *core.JobResult) error {
	return q.jobs.Finalize(ctx, jobID, core.OutcomeCompleted, result, "")
}

// Fail finalizes a job as failed, recording cause truncated to core.MaxErrorLength runes.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return q.jobs.Finalize(ctx, jobID, core.OutcomeFailed, nil, core.TruncateError(msg, core.MaxErrorLength))
}

// Get returns a job by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (*core.Job, error) {
	return q.jobs.GetJob(ctx, jobID)
}

// List returns jobs matching query, newest first.
func (q *Queue) List(ctx context.Context, query storage.JobQuery) ([]*core.Job, error) {
	return q.jobs.ListJobs(ctx, query)
}
