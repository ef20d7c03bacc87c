package api

import (
	"time"

	"github.com/poiesic/gleaner/core"
)

// JobView is the JSON shape of a job.
type JobView struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	URL         string          `json:"url"`
	Priority    int             `json:"priority"`
	Status      core.JobStatus  `json:"status"`
	Stage       core.Stage      `json:"stage,omitempty"`
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error,omitempty"`
	Source      string          `json:"source,omitempty"`
	Stages      []core.Stage    `json:"stages,omitempty"`
	Payload     map[string]any  `json:"payload,omitempty"`
	Result      *core.JobResult `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// NewJobView converts a job for output.
func NewJobView(job *core.Job) JobView {
	view := JobView{
		ID:        job.ID,
		TenantID:  job.TenantID,
		URL:       job.URL,
		Priority:  job.Priority,
		Status:    job.Status,
		Stage:     job.Stage,
		Attempts:  job.Attempts,
		Error:     job.Error,
		Source:    job.Source,
		Stages:    job.Stages(),
		Payload:   job.Payload,
		Result:    job.Result,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if !job.CompletedAt.IsZero() {
		completed := job.CompletedAt
		view.CompletedAt = &completed
	}
	return view
}
