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


package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"time"

	"github.com/poiesic/gleaner/ai"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/extract"
	"github.com/poiesic/gleaner/fetch"
	"github.com/poiesic/gleaner/queue"
	"github.com/poiesic/gleaner/split"
	"github.com/poiesic/gleaner/storage"
)

// Dependencies are the collaborators a Worker drives.
type Dependencies struct {
	Queue      *queue.Queue
	Documents  storage.DocumentRepository
	Chunks     storage.ChunkRepository
	Extractors *extract.Dispatcher
	Splitter   split.Splitter
	Embedder   ai.Embedder
}

// Outcome reports what a single RunOnce did.
type Outcome struct {
	Processed  bool           `json:"processed"`
	JobID      string         `json:"jobId,omitempty"`
	DocumentID string         `json:"documentId,omitempty"`
	Chunks     int            `json:"chunks,omitempty"`
	Stored     int            `json:"stored,omitempty"`
	ElapsedMs  int64          `json:"elapsedMs,omitempty"`
	Status     core.JobStatus `json:"status,omitempty"`
	Stage      core.Stage     `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Worker processes ingestion jobs.
type Worker struct {
	queue      *queue.Queue
	documents  storage.DocumentRepository
	chunks     storage.ChunkRepository
	extractors *extract.Dispatcher
	splitter   split.Splitter
	embedder   ai.Embedder

	fetchOpts fetch.FetchOptions
	filter    storage.ClaimFilter
	poolSize  int
	keepHTML  bool
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// WithFetchOptions overrides the per-job fetch options.
func WithFetchOptions(opts fetch.FetchOptions) Option {
	return func(w *Worker) error {
		w.fetchOpts = opts
		return nil
	}
}

// WithPoolSize sets the default Drain concurrency.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(w *Worker) error {
		if size < 1 {
			size = 1
		}
		w.poolSize = size
		return nil
	}
}

// WithTenant restricts the worker to jobs of one tenant.
func WithTenant(tenantID string) Option {
	return func(w *Worker) error {
		w.filter.TenantID = tenantID
		return nil
	}
}

// WithKeepHTML stores the fetched HTML on each document.
func WithKeepHTML(keep bool) Option {
	return func(w *Worker) error {
		w.keepHTML = keep
		return nil
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		w.now = now
		return nil
	}
}

// NewWorker creates a Worker.
func NewWorker(deps Dependencies, opts ...Option) (*Worker, error) {
	switch {
	case deps.Queue == nil:
		return nil, ErrJobQueueRequired
	case deps.Documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case deps.Chunks == nil:
		return nil, ErrChunkRepositoryRequired
	case deps.Extractors == nil:
		return nil, ErrDispatcherRequired
	case deps.Splitter == nil:
		return nil, ErrSplitterRequired
	case deps.Embedder == nil:
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	w := &Worker{
		queue:      deps.Queue,
		documents:  deps.Documents,
		chunks:     deps.Chunks,
		extractors: deps.Extractors,
		splitter:   deps.Splitter,
		embedder:   deps.Embedder,
		fetchOpts:  fetch.DefaultOptions(),
		poolSize:   poolSize,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "worker")
	return w, nil
}

// RunOnce claims at most one job and drives it to a terminal status.
func (w *Worker) RunOnce(ctx context.Context) Outcome {
	started := time.Now()

	job, err := w.queue.ClaimNext(ctx, w.filter)
	if err != nil {
		w.logger.Error("claim failed", "err", err)
		return Outcome{Error: err.Error()}
	}
	if job == nil {
		return Outcome{}
	}

	logger := w.logger.With("jobId", job.ID, "tenant", job.TenantID, "url", job.URL)
	logger.Info("processing job", "attempt", job.Attempts)

	run := &jobRun{worker: w, job: job, logger: logger}
	result, err := run.execute(ctx)
	elapsed := time.Since(started).Milliseconds()

	outcome := Outcome{
		Processed:  true,
		JobID:      job.ID,
		DocumentID: run.documentID,
		Chunks:     run.chunkCount,
		Stored:     run.stored,
		ElapsedMs:  elapsed,
		Stage:      run.stage,
	}

	if err != nil {
		logger.Error("job failed", "stage", run.stage, "err", err)
		outcome.Status = core.JobStatusFailed
		outcome.Error = core.TruncateError(err.Error(), core.MaxErrorLength)
		if ferr := w.queue.Fail(ctx, job.ID, err); ferr != nil {
			logger.Error("failed to record job failure", "err", ferr)
		}
		return outcome
	}

	result.ElapsedMs = elapsed
	if err := w.queue.Complete(ctx, job.ID, result); err != nil {
		logger.Error("failed to finalize job", "err", err)
		outcome.Error = err.Error()
		return outcome
	}
	w.queue.MarkStage(ctx, job.ID, core.StageDone, map[string]any{
		"documentId": result.DocumentID,
		"chunks":     result.Chunks,
		"stored":     result.Stored,
		"url":        result.URL,
		"elapsed_ms": result.ElapsedMs,
	})

	outcome.Status = core.JobStatusCompleted
	outcome.Stage = core.StageDone
	logger.Info("job completed", "documentId", result.DocumentID, "chunks", result.Chunks, "stored", result.Stored, "elapsedMs", elapsed)
	return outcome
}

// jobRun carries the state of one job through the stages.
type jobRun struct {
	worker *Worker
	job    *core.Job
	logger *slog.Logger

	stage      core.Stage
	documentID string
	chunkCount int
	stored     int
}

func (r *jobRun) enter(ctx context.Context, stage core.Stage, extra map[string]any) {
	r.stage = stage
	r.worker.queue.MarkStage(ctx, r.job.ID, stage, extra)
	r.logger.Debug("stage entered", "stage", stage)
}

func (r *jobRun) execute(ctx context.Context) (*core.JobResult, error) {
	w := r.worker

	r.enter(ctx, core.StageFetch, nil)
	target, err := url.Parse(r.job.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	extractor, err := w.extractors.Select(target, "")
	if err != nil {
		return nil, err
	}
	fetched, err := extractor.Fetch(ctx, target, w.fetchOpts)
	if err != nil {
		return nil, err
	}

	r.enter(ctx, core.StageExtract, nil)
	if !extractor.CanHandle(target, fetched.ContentType) {
		if extractor, err = w.extractors.Select(target, fetched.ContentType); err != nil {
			return nil, err
		}
	}
	extracted, err := extractor.Extract(ctx, fetched)
	if err != nil {
		return nil, err
	}

	canonical := extracted.CanonicalURL
	if canonical == "" {
		canonical = fetched.FinalURL
	}
	if canonical == "" {
		canonical = r.job.URL
	}

	doc := &core.Document{
		TenantID:     r.job.TenantID,
		SourceID:     r.job.SourceID,
		URL:          r.job.URL,
		CanonicalURL: canonical,
		URLHash:      core.URLHash(canonical),
		Title:        extracted.Title,
		Lang:         extracted.Lang,
		Markdown:     extracted.Markdown,
		FetchedAt:    w.now(),
		ETag:         fetched.ETag,
		LastModified: fetched.LastModified,
	}
	if w.keepHTML {
		doc.HTMLRaw = string(fetched.Body)
	}
	saved, err := w.documents.UpsertDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert document: %w", core.ErrStoreFailure, err)
	}
	r.documentID = saved.ID

	r.enter(ctx, core.StageSplit, map[string]any{"documentId": saved.ID})
	pieces, err := w.splitter.Split(ctx, extracted.Markdown)
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: no text to split", core.ErrExtractionFailure)
	}
	r.chunkCount = len(pieces)

	r.enter(ctx, core.StageEmbed, map[string]any{"chunks": len(pieces)})
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Content
	}
	vectors, err := w.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("%w: expected %d, received %d", core.ErrEmbeddingCountMismatch, len(pieces), len(vectors))
	}
	dim := len(vectors[0])
	for i, vector := range vectors {
		if len(vector) != dim || dim == 0 {
			return nil, fmt.Errorf("%w: vector %d has %d, expected %d", ErrInconsistentDimension, i, len(vector), dim)
		}
	}

	r.enter(ctx, core.StageStore, nil)
	model := w.embedder.Model()
	chunks := make([]*core.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &core.Chunk{
			Position:       piece.Position,
			Content:        piece.Content,
			SectionTitle:   piece.SectionTitle,
			HeadingPath:    piece.HeadingPath,
			Tokens:         piece.Tokens,
			Embedding:      vectors[i],
			EmbeddingModel: model,
			EmbeddingDim:   dim,
		}
	}
	stored, err := w.chunks.UpsertChunks(ctx, r.job.TenantID, saved.ID, chunks)
	r.stored = stored
	if err != nil {
		return nil, fmt.Errorf("%w: stored %d of %d chunks: %w", core.ErrStoreFailure, stored, len(chunks), err)
	}

	return &core.JobResult{
		DocumentID: saved.ID,
		Chunks:     len(pieces),
		Stored:     stored,
		URL:        canonical,
	}, nil
}
