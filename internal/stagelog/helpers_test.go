package stagelog

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"kpiledger/internal/shared/testutil"
	"kpiledger/pkg/contracts/domain"
)

var kpiHeader = testutil.KPIHeader

// workbook builds an in-memory xlsx with a single sheet. Nil cells are left empty.
func workbook(t *testing.T, sheet string, rows ...[]any) *bytes.Reader {
	t.Helper()
	return bytes.NewReader(testutil.Workbook(t, sheet, rows...))
}

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func record(well string, stage int, start, end string) domain.StageRecord {
	s, e := ts(start), ts(end)
	return domain.StageRecord{Well: well, Stage: stage, Start: s, End: e, DurationHours: e.Sub(s).Hours()}
}

// fakeStore is an in-memory JobStore with hooks for failure injection.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	getErr   error
	upsert   func(ctx context.Context) error
	upserts  int
	lastSent domain.StageLog
}

func newFakeStore(jobs ...*domain.Job) *fakeStore {
	s := &fakeStore{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		if j.StageLog == nil {
			j.StageLog = domain.StageLog{}
		}
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *fakeStore) CreateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *fakeStore) UpsertStages(ctx context.Context, jobID string, stages domain.StageLog) error {
	if s.upsert != nil {
		if err := s.upsert(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	s.upserts++
	s.lastSent = stages.Clone()
	for k, v := range stages {
		j.StageLog[k] = v
	}
	return nil
}

func (s *fakeStore) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JobSummary, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Summary())
	}
	return out, nil
}

func (s *fakeStore) log(jobID string) domain.StageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].StageLog.Clone()
}
