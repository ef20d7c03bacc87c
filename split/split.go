// Package split divides markdown into ordered, position-tagged chunks.
package split

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the maximum chunk length in runes.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of runes shared by neighbouring chunks.
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order, from paragraph breaks down to characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

var ErrInvalidOverlap = errors.New("chunk overlap must be smaller than chunk size")

// Chunk is one piece of a document.
type Chunk struct {
	Content      string
	Position     int
	SectionTitle string
	HeadingPath  []string
	Tokens       int
}

// Splitter divides markdown into chunks with positions 0..n-1.
type Splitter interface {
	Split(ctx context.Context, markdown string) ([]Chunk, error)
}

// RecursiveSplitter splits on progressively finer separators until every
// chunk fits ChunkSize.
type RecursiveSplitter struct {
	splitter textsplitter.RecursiveCharacter
}

var _ Splitter = (*RecursiveSplitter)(nil)

// Option configures a RecursiveSplitter.
type Option func(*options)

type options struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// WithChunkOverlap sets the overlap between neighbouring chunks.
func WithChunkOverlap(overlap int) Option {
	return func(o *options) {
		o.chunkOverlap = overlap
	}
}

// WithSeparators replaces the separator list.
func WithSeparators(separators ...string) Option {
	return func(o *options) {
		o.separators = separators
	}
}

// NewRecursiveSplitter creates a splitter with 1000-rune chunks and 200 runes of overlap
// unless overridden.
func NewRecursiveSplitter(opts ...Option) (*RecursiveSplitter, error) {
	o := options{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		separators:   DefaultSeparators,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", o.chunkSize)
	}
	if o.chunkOverlap < 0 || o.chunkOverlap >= o.chunkSize {
		return nil, ErrInvalidOverlap
	}

	return &RecursiveSplitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(o.chunkSize),
			textsplitter.WithChunkOverlap(o.chunkOverlap),
			textsplitter.WithSeparators(o.separators),
		),
	}, nil
}

// Split returns the chunks of markdown. Blank input yields no chunks.
func (s *RecursiveSplitter) Split(ctx context.Context, markdown string) ([]Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pieces, err := s.splitter.SplitText(markdown)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	headings := scanHeadings(markdown)
	chunks := make([]Chunk, 0, len(pieces))
	cursor := 0
	var path []string
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		if idx := strings.Index(markdown[cursor:], piece); idx >= 0 {
			start := cursor + idx
			path = headings.pathAt(start)
			cursor = start + 1
		}

		chunk := Chunk{
			Content:     piece,
			Position:    len(chunks),
			HeadingPath: append([]string(nil), path...),
			Tokens:      EstimateTokens(piece),
		}
		if len(path) > 0 {
			chunk.SectionTitle = path[len(path)-1]
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// EstimateTokens approximates a token count at four runes per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
