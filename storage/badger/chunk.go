package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/storage"
)

// chunkBatchSize is the number of chunks committed per transaction.
const chunkBatchSize = 64

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend   *Backend
	batchSize int
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	return &ChunkRepository{
		backend:   backend,
		batchSize: chunkBatchSize,
	}, nil
}

// Close releases resources. ChunkRepository has no resources to release.
func (r *ChunkRepository) Close() error {
	return nil
}

// UpsertChunks writes chunks keyed by position, one transaction per batch.
// A failing batch stops the upsert; earlier batches stay committed and are counted.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, tenantID, documentID string, chunks []*core.Chunk) (int, error) {
	if err := core.ValidateTenant(tenantID); err != nil {
		return 0, err
	}

	stored := 0
	for start := 0; start < len(chunks); start += r.batchSize {
		select {
		case <-ctx.Done():
			return stored, ctx.Err()
		default:
		}

		end := min(start+r.batchSize, len(chunks))
		batch := chunks[start:end]

		err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
			now := time.Now().UTC()
			for _, chunk := range batch {
				if chunk.Position < 0 {
					return fmt.Errorf("%w: negative chunk position %d", storage.ErrInvalidQuery, chunk.Position)
				}
				chunk.TenantID = tenantID
				chunk.DocumentID = documentID
				if chunk.ContentHash == "" {
					chunk.ContentHash = core.ContentHash(chunk.Content)
				}
				chunk.UpdatedAt = now

				value, err := storage.MarshalChunk(chunk)
				if err != nil {
					return err
				}
				if err := tx.Set(makeChunkKey(tenantID, documentID, chunk.Position), value); err != nil {
					return err
				}
			}
			return tx.Commit()
		})
		if err != nil {
			return stored, err
		}
		stored += len(batch)
	}
	return stored, nil
}

// ListChunks returns the chunks of a document ordered by position.
func (r *ChunkRepository) ListChunks(ctx context.Context, tenantID, documentID string) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkKey(tenantID, documentID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, chunk)
		}
		return nil
	}, false)
	return results, err
}

// CountChunks returns the number of chunks stored for a document.
func (r *ChunkRepository) CountChunks(ctx context.Context, tenantID, documentID string) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkKey(tenantID, documentID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}
