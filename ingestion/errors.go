package ingestion

import "errors"

var (
	// ErrJobQueueRequired is returned when a job queue is not provided.
	ErrJobQueueRequired = errors.New("job queue required")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrDispatcherRequired is returned when an extractor dispatcher is not provided.
	ErrDispatcherRequired = errors.New("extractor dispatcher required")

	// ErrSplitterRequired is returned when a text splitter is not provided.
	ErrSplitterRequired = errors.New("text splitter required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInconsistentDimension is returned when embedding vectors differ in length.
	ErrInconsistentDimension = errors.New("embedding dimensions differ")
)
