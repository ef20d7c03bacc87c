package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/gleaner/ai"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/retry"
	"github.com/poiesic/gleaner/storage"
)

// BatchProcessor embeds a batch of chunks and writes them back.
type BatchProcessor struct {
	chunks         storage.ChunkRepository
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
	normalize      bool
}

// NewBatchProcessor creates a processor. With normalize set, vectors are
// scaled to unit length before storage.
func NewBatchProcessor(chunks storage.ChunkRepository, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration, normalize bool) *BatchProcessor {
	return &BatchProcessor{
		chunks:         chunks,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		normalize:      normalize,
	}
}

// Process re-embeds batch and upserts it, grouped by document.
// It returns the number of chunks written.
func (bp *BatchProcessor) Process(ctx context.Context, batch []*core.Chunk) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Content
	}

	var vectors [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("%w: expected %d, received %d", core.ErrEmbeddingCountMismatch, len(batch), len(vectors))
	}

	model := bp.embedder.Model()
	for i, chunk := range batch {
		vector := vectors[i]
		if bp.normalize {
			vector = NormalizeVector(vector)
		}
		chunk.Embedding = vector
		chunk.EmbeddingModel = model
		chunk.EmbeddingDim = len(vector)
	}

	written := 0
	for _, group := range groupByDocument(batch) {
		n, err := bp.chunks.UpsertChunks(ctx, group[0].TenantID, group[0].DocumentID, group)
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to update chunks of document %s: %w", group[0].DocumentID, err)
		}
	}
	return written, nil
}

// groupByDocument splits batch into runs sharing a document, keeping order.
func groupByDocument(batch []*core.Chunk) [][]*core.Chunk {
	var groups [][]*core.Chunk
	for _, chunk := range batch {
		last := len(groups) - 1
		if last >= 0 && groups[last][0].TenantID == chunk.TenantID && groups[last][0].DocumentID == chunk.DocumentID {
			groups[last] = append(groups[last], chunk)
			continue
		}
		groups = append(groups, []*core.Chunk{chunk})
	}
	return groups
}
