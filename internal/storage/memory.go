package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kpiledger/internal/stagelog"
	"kpiledger/pkg/contracts/domain"
)

// MemoryStore is an in-memory implementation of stagelog.JobStore
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job
func (s *MemoryStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, stagelog.ErrJobExists)
	}

	stored := job.Clone()
	if stored.StageLog == nil {
		stored.StageLog = domain.StageLog{}
	}
	s.jobs[job.ID] = stored
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, stagelog.ErrJobNotFound)
	}

	// Return a copy to prevent external modification
	return job.Clone(), nil
}

// UpsertStages merges the given records into the job's stage log under a
// single write lock.
func (s *MemoryStore) UpsertStages(ctx context.Context, jobID string, stages domain.StageLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPatch(jobID, stages); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s: %w", jobID, stagelog.ErrJobNotFound)
	}
	for key, rec := range stages {
		job.StageLog[key] = rec
	}
	job.UpdatedAt = s.now()
	return nil
}

// ListJobs returns summaries of all jobs ordered by ID
func (s *MemoryStore) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.JobSummary, 0, len(s.jobs))
	for _, job := range s.jobs {
		result = append(result, job.Summary())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
