package reembed

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/storage"
	"github.com/poiesic/gleaner/storage/badger"
	"github.com/stretchr/testify/require"
)

// seed stores one document per entry of sizes with that many chunks.
func seed(t *testing.T, tenantID string, sizes ...int) (storage.DocumentRepository, storage.ChunkRepository) {
	t.Helper()
	ctx := context.Background()

	_, docs, chunks, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	for d, n := range sizes {
		url := fmt.Sprintf("https://example.com/%d", d)
		doc, err := docs.UpsertDocument(ctx, &core.Document{
			TenantID: tenantID,
			URL:      url,
			URLHash:  core.URLHash(url),
			Markdown: "body",
		})
		require.NoError(t, err)

		batch := make([]*core.Chunk, n)
		for i := range batch {
			batch[i] = &core.Chunk{
				Position:       i,
				Content:        fmt.Sprintf("doc %d chunk %d", d, i),
				Embedding:      []float32{0, 0},
				EmbeddingModel: "old-model",
				EmbeddingDim:   2,
			}
		}
		_, err = chunks.UpsertChunks(ctx, tenantID, doc.ID, batch)
		require.NoError(t, err)
	}
	return docs, chunks
}

func allChunks(t *testing.T, docs storage.DocumentRepository, chunks storage.ChunkRepository, tenantID string) []*core.Chunk {
	t.Helper()
	ctx := context.Background()
	list, err := docs.ListDocuments(ctx, tenantID)
	require.NoError(t, err)
	var out []*core.Chunk
	for _, doc := range list {
		c, err := chunks.ListChunks(ctx, tenantID, doc.ID)
		require.NoError(t, err)
		out = append(out, c...)
	}
	return out
}
