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


// Package gleaner wires storage, the job queue, extractors and an embedding
// provider into a URL ingestion service.
package gleaner

import (
	"fmt"
	"log/slog"

	"github.com/poiesic/gleaner/ai"
	"github.com/poiesic/gleaner/ai/ollama"
	"github.com/poiesic/gleaner/ai/openai"
	"github.com/poiesic/gleaner/extract"
	"github.com/poiesic/gleaner/fetch"
	"github.com/poiesic/gleaner/ingestion"
	"github.com/poiesic/gleaner/notify"
	"github.com/poiesic/gleaner/queue"
	"github.com/poiesic/gleaner/split"
	"github.com/poiesic/gleaner/storage"
	"github.com/poiesic/gleaner/storage/badger"
)

type Gleaner struct {
	backend    *badger.Backend
	jobRepo    storage.JobRepository
	docRepo    storage.DocumentRepository
	chunkRepo  storage.ChunkRepository
	queue      *queue.Queue
	dispatcher *extract.Dispatcher
	embedder   ai.Embedder
	notifier   notify.Notifier
	logger     *slog.Logger
}

// Option configures a Gleaner.
type Option func(*options)

type options struct {
	aiConfig  *ai.Config
	embedder  ai.Embedder
	notifier  notify.Notifier
	selectors map[string][]string
	inMemory  bool
	logger    *slog.Logger
}

// WithAIConfig selects the embedding provider.
func WithAIConfig(config *ai.Config) Option {
	return func(o *options) {
		o.aiConfig = config
	}
}

// WithEmbedder uses embedder instead of building one from the AI config.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(o *options) {
		o.embedder = embedder
	}
}

// WithNotifier publishes wake-ups for newly queued jobs.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithSelectorRules routes hosts to CSS selector extractors.
func WithSelectorRules(rules map[string][]string) Option {
	return func(o *options) {
		o.selectors = rules
	}
}

// WithInMemory keeps all data in memory. The file path is ignored.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewEmbedder builds the embedder named by config.Provider.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Provider {
	case ai.ProviderOllama:
		return ollama.NewEmbedder(config)
	default:
		return openai.NewEmbedder(config)
	}
}

func New(filePath string, opts ...Option) (*Gleaner, error) {
	options := &options{
		aiConfig: ai.DefaultConfig(),
		notifier: notify.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.notifier == nil {
		options.notifier = notify.Nop{}
	}

	embedder := options.embedder
	if embedder == nil {
		var err error
		if embedder, err = NewEmbedder(options.aiConfig); err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	jobRepo, err := badger.NewJobRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	docRepo, err := badger.NewDocumentRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	chunkRepo, err := badger.NewChunkRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	q, err := queue.New(jobRepo,
		queue.WithNotifier(options.notifier),
		queue.WithLogger(options.logger),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}

	fetcher := fetch.NewFetcher(fetch.WithLogger(options.logger))
	dispatcher := extract.NewDefaultDispatcher(fetcher)
	for host, selectors := range options.selectors {
		dispatcher.ForHost(host, extract.NewSelectorExtractor(fetcher, selectors...))
	}

	return &Gleaner{
		backend:    backend,
		jobRepo:    jobRepo,
		docRepo:    docRepo,
		chunkRepo:  chunkRepo,
		queue:      q,
		dispatcher: dispatcher,
		embedder:   embedder,
		notifier:   options.notifier,
		logger:     options.logger,
	}, nil
}

func (g *Gleaner) Close() error {
	if err := g.chunkRepo.Close(); err != nil {
		g.logger.Error("error closing chunk repository", "err", err)
		return err
	}
	if err := g.docRepo.Close(); err != nil {
		g.logger.Error("error closing document repository", "err", err)
		return err
	}
	if err := g.jobRepo.Close(); err != nil {
		g.logger.Error("error closing job repository", "err", err)
		return err
	}
	if err := g.backend.Close(); err != nil {
		g.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

// Healthy reports whether storage is open.
func (g *Gleaner) Healthy() error {
	if g.backend.IsClosed() {
		return fmt.Errorf("storage is closed")
	}
	return nil
}

func (g *Gleaner) Queue() *queue.Queue {
	return g.queue
}

func (g *Gleaner) JobRepository() storage.JobRepository {
	return g.jobRepo
}

func (g *Gleaner) DocumentRepository() storage.DocumentRepository {
	return g.docRepo
}

func (g *Gleaner) ChunkRepository() storage.ChunkRepository {
	return g.chunkRepo
}

func (g *Gleaner) Embedder() ai.Embedder {
	return g.embedder
}

func (g *Gleaner) Notifier() notify.Notifier {
	return g.notifier
}

// NewWorker creates an ingestion worker over this instance's queue and stores.
func (g *Gleaner) NewWorker(splitOpts []split.Option, opts ...ingestion.Option) (*ingestion.Worker, error) {
	splitter, err := split.NewRecursiveSplitter(splitOpts...)
	if err != nil {
		return nil, err
	}
	opts = append([]ingestion.Option{ingestion.WithLogger(g.logger)}, opts...)
	return ingestion.NewWorker(ingestion.Dependencies{
		Queue:      g.queue,
		Documents:  g.docRepo,
		Chunks:     g.chunkRepo,
		Extractors: g.dispatcher,
		Splitter:   splitter,
		Embedder:   g.embedder,
	}, opts...)
}
