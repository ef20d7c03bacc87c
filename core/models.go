package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ContentHash returns the hex BLAKE2b-256 digest of a chunk's content.
// Used to detect changed chunks between ingestions.
func ContentHash(content string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// URLHash returns the hex SHA-256 digest of a URL string.
// It is the deduplication key for jobs and the identity of documents within a tenant.
func URLHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// JobStatus is the coarse lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Active reports whether the status counts against the one-active-job-per-URL rule.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusInProgress
}

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Stage is the fine-grained progress marker of an in-progress job.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageSplit   Stage = "split"
	StageEmbed   Stage = "embed"
	StageStore   Stage = "store"
	StageDone    Stage = "done"
	StageFailed  Stage = "failed"
)

// Payload keys written by the queue.
const (
	PayloadStage    = "stage"
	PayloadURL      = "url"
	PayloadTenantID = "tenantId"
	PayloadSource   = "source"
)

// Outcome is the terminal result a worker reports for a job.
type Outcome int

const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeFailed
)

// String returns the job status the outcome transitions to.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return string(JobStatusCompleted)
	case OutcomeFailed:
		return string(JobStatusFailed)
	}
	return "unknown"
}

// StageMark records when a job entered a stage.
type StageMark struct {
	Stage Stage
	At    time.Time
}

// JobResult summarizes a completed ingestion.
type JobResult struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
	Stored     int    `json:"stored"`
	URL        string `json:"url"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// Job is one unit of URL ingestion work tracked through the queue.
type Job struct {
	ID           string
	TenantID     string
	URL          string
	URLHash      string
	Priority     int
	Status       JobStatus
	Stage        Stage
	Attempts     int
	Error        string
	Source       string
	SourceID     string
	Payload      map[string]any // Progress payload; "stage" plus any extra keys merged by the worker
	Result       *JobResult     // Set when the job completes
	StageHistory []StageMark
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  time.Time
}

// Stages returns the recorded stage sequence in order.
func (j *Job) Stages() []Stage {
	stages := make([]Stage, len(j.StageHistory))
	for i, mark := range j.StageHistory {
		stages[i] = mark.Stage
	}
	return stages
}

// Document is one ingested resource. (TenantID, URLHash) identifies it.
type Document struct {
	ID           string
	TenantID     string
	SourceID     string
	URL          string
	CanonicalURL string
	URLHash      string
	Title        string
	Lang         string
	Markdown     string
	HTMLRaw      string
	FetchedAt    time.Time
	ETag         string
	LastModified string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is a positioned segment of a document's text plus its embedding.
// (TenantID, DocumentID, Position) identifies it.
type Chunk struct {
	TenantID       string
	DocumentID     string
	Position       int
	Content        string
	ContentHash    string
	SectionTitle   string
	HeadingPath    []string
	Tokens         int
	Embedding      []float32
	EmbeddingModel string
	EmbeddingDim   int
	UpdatedAt      time.Time
}
