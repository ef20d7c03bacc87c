package badger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(tenantID, url string, priority int) *core.Job {
	return &core.Job{
		TenantID: tenantID,
		URL:      url,
		URLHash:  core.URLHash(url),
		Priority: priority,
		Source:   "test",
		Payload: map[string]any{
			core.PayloadURL:      url,
			core.PayloadTenantID: tenantID,
		},
	}
}

func setupJobRepo(t *testing.T) storage.JobRepository {
	t.Helper()
	jobs, _, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return jobs
}

func TestJobRepository_Enqueue(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	job, deduped, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 5))
	require.NoError(t, err)
	assert.False(t, deduped)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.False(t, job.CreatedAt.IsZero())

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, 5, stored.Priority)
	assert.Equal(t, "https://example.com/a", stored.Payload[core.PayloadURL])
}

func TestJobRepository_EnqueueDedup(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	first, deduped, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
	require.NoError(t, err)
	require.False(t, deduped)

	t.Run("duplicate while queued returns same job", func(t *testing.T) {
		second, deduped, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 9))
		require.NoError(t, err)
		assert.True(t, deduped)
		assert.Equal(t, first.ID, second.ID)

		all, err := repo.ListJobs(ctx, storage.JobQuery{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("other tenant is not deduped", func(t *testing.T) {
		other, deduped, err := repo.Enqueue(ctx, newTestJob("T2", "https://example.com/a", 0))
		require.NoError(t, err)
		assert.False(t, deduped)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("duplicate while in progress returns same job", func(t *testing.T) {
		claimed, err := repo.ClaimNext(ctx, storage.ClaimFilter{TenantID: "T1"})
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.Equal(t, first.ID, claimed.ID)

		again, deduped, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
		require.NoError(t, err)
		assert.True(t, deduped)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, core.JobStatusInProgress, again.Status)
	})

	t.Run("finished job frees the slot", func(t *testing.T) {
		require.NoError(t, repo.Finalize(ctx, first.ID, core.OutcomeFailed, nil, "boom"))

		fresh, deduped, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
		require.NoError(t, err)
		assert.False(t, deduped)
		assert.NotEqual(t, first.ID, fresh.ID)
	})
}

func TestJobRepository_EnqueueConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/same", 0))
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	all, err := repo.ListJobs(ctx, storage.JobQuery{TenantID: "T1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	for _, id := range ids {
		assert.Equal(t, all[0].ID, id)
	}
}

func TestJobRepository_ClaimNextOrdering(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	low, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/low", 1))
	require.NoError(t, err)
	highOld, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/high-old", 5))
	require.NoError(t, err)
	highNew, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/high-new", 5))
	require.NoError(t, err)

	var order []string
	for {
		job, err := repo.ClaimNext(ctx, storage.ClaimFilter{})
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}

	assert.Equal(t, []string{highOld.ID, highNew.ID, low.ID}, order)
}

func TestJobRepository_ClaimNextTransitions(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, storage.ClaimFilter{})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, core.JobStatusInProgress, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Empty(t, claimed.Error)

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusInProgress, stored.Status)

	again, err := repo.ClaimNext(ctx, storage.ClaimFilter{})
	require.NoError(t, err)
	assert.Nil(t, again, "claimed job must leave the queue")
}

func TestJobRepository_ClaimNextTenantFilter(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	_, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 9))
	require.NoError(t, err)
	t2, _, err := repo.Enqueue(ctx, newTestJob("T2", "https://example.com/b", 0))
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, storage.ClaimFilter{TenantID: "T2"})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, t2.ID, claimed.ID)

	none, err := repo.ClaimNext(ctx, storage.ClaimFilter{TenantID: "T3"})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobRepository_ClaimExclusivity(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
	require.NoError(t, err)

	const claimers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		raceLost int
		start    = make(chan struct{})
	)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			claimed, err := repo.ClaimNext(ctx, storage.ClaimFilter{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, storage.ErrRaceLost):
				raceLost++
			case err != nil:
				t.Errorf("unexpected claim error: %v", err)
			case claimed != nil:
				winners = append(winners, claimed.ID)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1, "exactly one claimer may win")
	assert.Equal(t, job.ID, winners[0])

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts, "losers must not bump attempts")
}

func TestJobRepository_UpdateStage(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStage(ctx, job.ID, core.StageFetch, nil))
	require.NoError(t, repo.UpdateStage(ctx, job.ID, core.StageExtract, map[string]any{"documentId": "doc-1"}))
	require.NoError(t, repo.UpdateStage(ctx, job.ID, core.StageExtract, nil))
	require.NoError(t, repo.UpdateStage(ctx, job.ID, core.StageSplit, map[string]any{"chunks": "3"}))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, core.StageSplit, stored.Stage)
	assert.Equal(t, "split", stored.Payload[core.PayloadStage])
	assert.Equal(t, "doc-1", stored.Payload["documentId"], "earlier extra keys survive")
	assert.Equal(t, "3", stored.Payload["chunks"])
	assert.Equal(t, "https://example.com/a", stored.Payload[core.PayloadURL], "enqueue payload survives")
	assert.Equal(t, []core.Stage{core.StageFetch, core.StageExtract, core.StageSplit}, stored.Stages(),
		"repeating a stage must not duplicate history")

	err = repo.UpdateStage(ctx, "missing", core.StageFetch, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobRepository_Finalize(t *testing.T) {
	ctx := context.Background()

	t.Run("completed records result", func(t *testing.T) {
		repo := setupJobRepo(t)
		job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
		require.NoError(t, err)
		_, err = repo.ClaimNext(ctx, storage.ClaimFilter{})
		require.NoError(t, err)

		result := &core.JobResult{DocumentID: "doc-1", Chunks: 3, Stored: 3, URL: job.URL, ElapsedMs: 12}
		require.NoError(t, repo.Finalize(ctx, job.ID, core.OutcomeCompleted, result, ""))

		stored, err := repo.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.JobStatusCompleted, stored.Status)
		require.NotNil(t, stored.Result)
		assert.Equal(t, *result, *stored.Result)
		assert.False(t, stored.CompletedAt.IsZero())

		_, err = repo.FindActiveJob(ctx, "T1", job.URLHash)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("failed keeps stage and records error", func(t *testing.T) {
		repo := setupJobRepo(t)
		job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
		require.NoError(t, err)
		_, err = repo.ClaimNext(ctx, storage.ClaimFilter{})
		require.NoError(t, err)
		require.NoError(t, repo.UpdateStage(ctx, job.ID, core.StageEmbed, nil))

		require.NoError(t, repo.Finalize(ctx, job.ID, core.OutcomeFailed, nil, "provider exploded"))

		stored, err := repo.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.JobStatusFailed, stored.Status)
		assert.Equal(t, core.StageEmbed, stored.Stage)
		assert.Equal(t, "provider exploded", stored.Error)
	})

	t.Run("queued job cannot be finalized", func(t *testing.T) {
		repo := setupJobRepo(t)
		job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
		require.NoError(t, err)

		err = repo.Finalize(ctx, job.ID, core.OutcomeCompleted, &core.JobResult{}, "")
		assert.ErrorIs(t, err, storage.ErrNotInProgress)
	})

	t.Run("second finalize is rejected", func(t *testing.T) {
		repo := setupJobRepo(t)
		job, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
		require.NoError(t, err)
		_, err = repo.ClaimNext(ctx, storage.ClaimFilter{})
		require.NoError(t, err)

		require.NoError(t, repo.Finalize(ctx, job.ID, core.OutcomeFailed, nil, "first"))
		err = repo.Finalize(ctx, job.ID, core.OutcomeCompleted, &core.JobResult{}, "")
		assert.ErrorIs(t, err, storage.ErrNotInProgress)

		stored, err := repo.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.JobStatusFailed, stored.Status)
	})

	t.Run("missing job", func(t *testing.T) {
		repo := setupJobRepo(t)
		err := repo.Finalize(ctx, "nope", core.OutcomeFailed, nil, "x")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestJobRepository_ListJobs(t *testing.T) {
	ctx := context.Background()
	repo := setupJobRepo(t)

	a, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/a", 0))
	require.NoError(t, err)
	b, _, err := repo.Enqueue(ctx, newTestJob("T2", "https://example.com/b", 0))
	require.NoError(t, err)
	c, _, err := repo.Enqueue(ctx, newTestJob("T1", "https://example.com/c", 0))
	require.NoError(t, err)

	_, err = repo.ClaimNext(ctx, storage.ClaimFilter{TenantID: "T1"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query storage.JobQuery
		want  []string
	}{
		{name: "all newest first", query: storage.JobQuery{}, want: []string{c.ID, b.ID, a.ID}},
		{name: "by tenant", query: storage.JobQuery{TenantID: "T1"}, want: []string{c.ID, a.ID}},
		{name: "by status", query: storage.JobQuery{Status: core.JobStatusInProgress}, want: []string{a.ID}},
		{name: "with limit", query: storage.JobQuery{Limit: 2}, want: []string{c.ID, b.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := repo.ListJobs(ctx, tt.query)
			require.NoError(t, err)
			got := make([]string, len(jobs))
			for i, job := range jobs {
				got[i] = job.ID
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobRepository_EnqueueRejectsInvalidTenant(t *testing.T) {
	repo := setupJobRepo(t)

	_, _, err := repo.Enqueue(context.Background(), newTestJob("acme\x00evil", "https://example.com/a", 0))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	jobs, err := repo.ListJobs(context.Background(), storage.JobQuery{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRepository_CanceledContext(t *testing.T) {
	repo := setupJobRepo(t)
	_, _, err := repo.Enqueue(context.Background(), newTestJob("T1", "https://example.com/a", 0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = repo.Enqueue(ctx, newTestJob("T1", "https://example.com/b", 0))
	assert.ErrorIs(t, err, context.Canceled)

	job, err := repo.ClaimNext(ctx, storage.ClaimFilter{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, job)

	job, err = repo.ClaimNext(context.Background(), storage.ClaimFilter{})
	require.NoError(t, err)
	require.NotNil(t, job, "a canceled claim must leave the job queued")
	assert.Equal(t, "https://example.com/a", job.URL)
}
