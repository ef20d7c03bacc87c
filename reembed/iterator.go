package reembed

import (
	"context"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/storage"
)

// DefaultBatchSize is the number of chunks handed to the callback at once.
const DefaultBatchSize = 100

// ChunkIterator walks every chunk of a tenant in fixed-size batches.
// A batch may span documents; chunks of one document stay in position order.
type ChunkIterator struct {
	docs      storage.DocumentRepository
	chunks    storage.ChunkRepository
	tenantID  string
	batchSize int
}

// NewChunkIterator creates an iterator over tenantID's chunks.
func NewChunkIterator(docs storage.DocumentRepository, chunks storage.ChunkRepository, tenantID string, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{docs: docs, chunks: chunks, tenantID: tenantID, batchSize: batchSize}
}

// Count returns the number of chunks the iterator will visit.
func (it *ChunkIterator) Count(ctx context.Context) (int, error) {
	docs, err := it.docs.ListDocuments(ctx, it.tenantID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, doc := range docs {
		n, err := it.chunks.CountChunks(ctx, it.tenantID, doc.ID)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ForEach calls fn with successive batches. Iteration stops at the first error.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]*core.Chunk) error) error {
	docs, err := it.docs.ListDocuments(ctx, it.tenantID)
	if err != nil {
		return err
	}

	batch := make([]*core.Chunk, 0, it.batchSize)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, err := it.chunks.ListChunks(ctx, it.tenantID, doc.ID)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			batch = append(batch, chunk)
			if len(batch) == it.batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = make([]*core.Chunk, 0, it.batchSize)
			}
		}
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
