// Package storage provides the job document stores behind stagelog.JobStore:
// an in-memory map, a directory of YAML documents and a PostgreSQL table.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kpiledger/internal/stagelog"
	"kpiledger/pkg/contracts/domain"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Store is a JobStore that can report its health and be closed.
type Store interface {
	stagelog.JobStore
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a store.
type Options struct {
	Driver      string
	DataDir     string
	DatabaseURL string
	Migrate     bool
	DB          DBOptions
	Logger      *slog.Logger
}

// checkPatch rejects a stage patch whose keys do not match their records.
func checkPatch(jobID string, stages domain.StageLog) error {
	for key, rec := range stages {
		if err := stagelog.CheckKey(jobID, key, rec); err != nil {
			return err
		}
	}
	return nil
}

// Open builds the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		logger.Info("using in-memory job store")
		return NewMemoryStore(), nil
	case DriverFile:
		logger.Info("using file job store", slog.String("dir", opts.DataDir))
		return NewFileStore(opts.DataDir)
	case DriverPostgres:
		db, err := Connect(ctx, opts.DatabaseURL, opts.DB)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := RunMigrations(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		logger.Info("using postgres job store", slog.Bool("migrated", opts.Migrate))
		return NewPostgresStore(db, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// Observer receives the outcome of every store call.
type Observer func(ctx context.Context, op string, elapsed time.Duration, err error)

// Observed wraps a store so each call is reported to fn.
func Observed(inner Store, fn Observer) Store {
	if fn == nil {
		return inner
	}
	return &observedStore{inner: inner, observe: fn}
}

type observedStore struct {
	inner   Store
	observe Observer
}

func (o *observedStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	start := time.Now()
	job, err := o.inner.GetJob(ctx, jobID)
	o.observe(ctx, "get_job", time.Since(start), err)
	return job, err
}

func (o *observedStore) CreateJob(ctx context.Context, job *domain.Job) error {
	start := time.Now()
	err := o.inner.CreateJob(ctx, job)
	o.observe(ctx, "create_job", time.Since(start), err)
	return err
}

func (o *observedStore) UpsertStages(ctx context.Context, jobID string, stages domain.StageLog) error {
	start := time.Now()
	err := o.inner.UpsertStages(ctx, jobID, stages)
	o.observe(ctx, "upsert_stages", time.Since(start), err)
	return err
}

func (o *observedStore) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	start := time.Now()
	jobs, err := o.inner.ListJobs(ctx)
	o.observe(ctx, "list_jobs", time.Since(start), err)
	return jobs, err
}

func (o *observedStore) Ping(ctx context.Context) error {
	return o.inner.Ping(ctx)
}

func (o *observedStore) Close() error {
	return o.inner.Close()
}
