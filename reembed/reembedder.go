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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/gleaner/ai"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks embedded per request
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Normalize scales vectors to unit length before storing them
	Normalize bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Stats summarizes a run.
type Stats struct {
	Total     int
	Reembedded int
	Elapsed   time.Duration
}

// Reembedder re-embeds every chunk of one tenant.
type Reembedder struct {
	tenantID  string
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *ChunkIterator
	logger    *slog.Logger
}

// NewReembedder creates a reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(docs storage.DocumentRepository, chunks storage.ChunkRepository, embedder ai.Embedder, tenantID string, config *Config, progress io.Writer) (*Reembedder, error) {
	switch {
	case docs == nil:
		return nil, ErrDocumentRepositoryRequired
	case chunks == nil:
		return nil, ErrChunkRepositoryRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}
	if err := core.ValidateTenant(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTenantRequired, err)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		tenantID:  tenantID,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(chunks, embedder, config.MaxRetries, config.RetryDelay, config.Normalize),
		iterator:  NewChunkIterator(docs, chunks, tenantID, config.BatchSize),
		logger:    slog.Default().With("component", "reembed", "tenant", tenantID),
	}, nil
}

// Run re-embeds every chunk of the tenant, reporting progress as it goes.
func (r *Reembedder) Run(ctx context.Context) (Stats, error) {
	total, err := r.iterator.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found for tenant %s\n", r.tenantID)
		return Stats{}, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d)\n", total, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	written := 0
	err = r.iterator.ForEach(ctx, func(batch []*core.Chunk) error {
		n, err := r.processor.Process(ctx, batch)
		written += n
		tracker.Update(written)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		return nil
	})
	tracker.Finish()

	stats := Stats{Total: total, Reembedded: written, Elapsed: tracker.Elapsed()}
	if err != nil {
		r.logger.Error("reembedding stopped", "written", written, "total", total, "err", err)
		return stats, err
	}

	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		written, stats.Elapsed.Round(time.Millisecond), float64(written)/stats.Elapsed.Seconds())
	r.logger.Info("reembedding complete", "chunks", written, "elapsed", stats.Elapsed)
	return stats, nil
}
