package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"kpiledger/internal/stagelog"
	"kpiledger/pkg/contracts/domain"
)

const jobFileExt = ".yaml"

// FileStore keeps one YAML document per job under a directory. Writes go to
// a temporary file that is renamed over the old document, so a reader never
// sees a half-written job.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file store: data directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &FileStore{
		dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *FileStore) path(jobID string) string {
	return filepath.Join(s.dir, url.PathEscape(jobID)+jobFileExt)
}

// CreateJob writes a new job document.
func (s *FileStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(job.ID)); err == nil {
		return fmt.Errorf("job %s: %w", job.ID, stagelog.ErrJobExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat job %s: %w", stagelog.ErrStoreUnavailable, job.ID, err)
	}

	stored := job.Clone()
	if stored.StageLog == nil {
		stored.StageLog = domain.StageLog{}
	}
	return s.write(stored)
}

// GetJob reads the job document from disk.
func (s *FileStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(jobID)
}

// UpsertStages applies the records to the stored document and rewrites it.
func (s *FileStore) UpsertStages(ctx context.Context, jobID string, stages domain.StageLog) error {
	if err := checkPatch(jobID, stages); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.read(jobID)
	if err != nil {
		return err
	}
	for key, rec := range stages {
		job.StageLog[key] = rec
	}
	job.UpdatedAt = s.now()

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(job)
}

// ListJobs reads every job document in the directory.
func (s *FileStore) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", stagelog.ErrStoreUnavailable, s.dir, err)
	}

	result := make([]domain.JobSummary, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, jobFileExt) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, jobFileExt))
		if err != nil {
			continue
		}
		job, err := s.read(id)
		if err != nil {
			return nil, err
		}
		result = append(result, job.Summary())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Ping checks that the data directory is still reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("%w: %w", stagelog.ErrStoreUnavailable, err)
	}
	return ctx.Err()
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read(jobID string) (*domain.Job, error) {
	data, err := os.ReadFile(s.path(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("job %s: %w", jobID, stagelog.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read job %s: %w", stagelog.ErrStoreUnavailable, jobID, err)
	}

	var job domain.Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	if job.StageLog == nil {
		job.StageLog = domain.StageLog{}
	}
	if job.Wells == nil {
		job.Wells = map[string]int{}
	}
	return &job, nil
}

func (s *FileStore) write(job *domain.Job) error {
	data, err := yaml.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".job-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", stagelog.ErrStoreUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write job %s: %w", stagelog.ErrStoreUnavailable, job.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync job %s: %w", stagelog.ErrStoreUnavailable, job.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close job %s: %w", stagelog.ErrStoreUnavailable, job.ID, err)
	}
	if err := os.Rename(tmpName, s.path(job.ID)); err != nil {
		return fmt.Errorf("%w: replace job %s: %w", stagelog.ErrStoreUnavailable, job.ID, err)
	}
	return nil
}
