package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiledger/internal/stagelog"
	"kpiledger/pkg/contracts/domain"
)

func sampleJob(id string) *domain.Job {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Job{
		ID:        id,
		Operator:  "Acme",
		Pad:       "North",
		Wells:     map[string]int{"A1": 3, "A2": 2},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func stage(well string, n int, startHour int) (domain.StageKey, domain.StageRecord) {
	return jobStage("job-1", well, n, startHour)
}

func jobStage(jobID, well string, n int, startHour int) (domain.StageKey, domain.StageRecord) {
	start := time.Date(2024, 1, 1, startHour, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	return stagelog.BuildKey(jobID, well, n), domain.StageRecord{
		Well:          well,
		Stage:         n,
		Start:         start,
		End:           end,
		DurationHours: 2,
	}
}

// runStoreContract exercises the behavior every JobStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))

		job, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "Acme", job.Operator)
		assert.Equal(t, map[string]int{"A1": 3, "A2": 2}, job.Wells)
		assert.NotNil(t, job.StageLog)
		assert.Empty(t, job.StageLog)
	})

	t.Run("duplicate create", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))

		err := s.CreateJob(ctx, sampleJob("job-1"))
		assert.ErrorIs(t, err, stagelog.ErrJobExists)
	})

	t.Run("missing job", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetJob(ctx, "nope")
		assert.ErrorIs(t, err, stagelog.ErrJobNotFound)

		k, r := jobStage("nope", "A1", 1, 0)
		assert.ErrorIs(t, s.UpsertStages(ctx, "nope", domain.StageLog{k: r}), stagelog.ErrJobNotFound)
	})

	t.Run("rejects keys that do not match their records", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))

		k, r := stage("A1", 1, 0)
		other, _ := jobStage("job-2", "A1", 1, 0)
		wrongStage := r
		wrongStage.Stage = 2
		patches := []domain.StageLog{
			{other: r},
			{k: wrongStage},
			{domain.StageKey("job-1|A1|9|1"): r},
		}
		for _, patch := range patches {
			assert.ErrorIs(t, s.UpsertStages(ctx, "job-1", patch), stagelog.ErrKeyMismatch)
		}

		job, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Empty(t, job.StageLog)
	})

	t.Run("upsert touches only given keys", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))

		k1, r1 := stage("A1", 1, 0)
		k2, r2 := stage("A1", 2, 2)
		require.NoError(t, s.UpsertStages(ctx, "job-1", domain.StageLog{k1: r1, k2: r2}))

		_, r1b := stage("A1", 1, 5)
		require.NoError(t, s.UpsertStages(ctx, "job-1", domain.StageLog{k1: r1b}))

		job, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, job.StageLog, 2)
		assert.True(t, job.StageLog[k1].Equal(r1b))
		assert.True(t, job.StageLog[k2].Equal(r2))
	})

	t.Run("returned job is a copy", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))

		job, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		k, r := stage("A1", 1, 0)
		job.StageLog[k] = r
		job.Wells["B9"] = 1

		again, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Empty(t, again.StageLog)
		assert.False(t, again.HasWell("B9"))
	})

	t.Run("list summaries", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-2")))
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))
		k, r := stage("A1", 1, 0)
		require.NoError(t, s.UpsertStages(ctx, "job-1", domain.StageLog{k: r}))

		jobs, err := s.ListJobs(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "job-1", jobs[0].ID)
		assert.Equal(t, 1, jobs[0].Recorded)
		assert.Equal(t, 5, jobs[0].TotalStages)
		assert.Equal(t, 2, jobs[1].WellCount)
	})

	t.Run("concurrent upserts to different keys", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))

		var wg sync.WaitGroup
		for i := 1; i <= 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				k, r := stage("A1", n, n)
				assert.NoError(t, s.UpsertStages(ctx, "job-1", domain.StageLog{k: r}))
			}(i)
		}
		wg.Wait()

		job, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Len(t, job.StageLog, 10)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestFileStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})

	t.Run("survives reopen", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()

		s, err := NewFileStore(dir)
		require.NoError(t, err)
		require.NoError(t, s.CreateJob(ctx, sampleJob("job/with space")))
		k, r := jobStage("job/with space", "A1", 1, 0)
		require.NoError(t, s.UpsertStages(ctx, "job/with space", domain.StageLog{k: r}))

		reopened, err := NewFileStore(dir)
		require.NoError(t, err)
		job, err := reopened.GetJob(ctx, "job/with space")
		require.NoError(t, err)
		assert.True(t, job.StageLog[k].Equal(r))
		assert.True(t, job.CreatedAt.Equal(sampleJob("x").CreatedAt))
	})

	t.Run("cancelled upsert writes nothing", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir)
		require.NoError(t, err)
		require.NoError(t, s.CreateJob(context.Background(), sampleJob("job-1")))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		k, r := stage("A1", 1, 0)
		assert.ErrorIs(t, s.UpsertStages(ctx, "job-1", domain.StageLog{k: r}), context.Canceled)

		job, err := s.GetJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Empty(t, job.StageLog)
	})

	t.Run("empty dir rejected", func(t *testing.T) {
		_, err := NewFileStore("  ")
		assert.Error(t, err)
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Driver: "file", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, Options{Driver: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: "mongo"})
	assert.Error(t, err)
}

func TestObserved(t *testing.T) {
	ctx := context.Background()
	var ops []string
	var failures int
	s := Observed(NewMemoryStore(), func(_ context.Context, op string, _ time.Duration, err error) {
		ops = append(ops, op)
		if err != nil {
			failures++
		}
	})

	require.NoError(t, s.CreateJob(ctx, sampleJob("job-1")))
	_, err := s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, stagelog.ErrJobNotFound))
	_, err = s.ListJobs(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"create_job", "get_job", "list_jobs"}, ops)
	assert.Equal(t, 1, failures)
}
