// Package mock provides test double implementations of AI service interfaces.
//
// # Usage in Tests
//
//	embedder := mock.NewMockEmbedder()
//	embedder.Dim = 3
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("provider down")
//	}
//
//	count := embedder.CallCount()
//
// By default MockEmbedder returns deterministic vectors derived from an FNV
// hash of each text.
package mock
