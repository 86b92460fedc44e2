package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"kpiledger/internal/stagelog"
	"kpiledger/pkg/contracts/domain"
)

// DBOptions controls database pool and connectivity behavior.
type DBOptions struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
}

// DefaultDBOptions returns defaults for the long-running server process.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

var openDB = sql.Open

// Connect opens a *sql.DB for databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, opts DBOptions) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	db, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyDBOptions(db, opts)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func applyDBOptions(db *sql.DB, opts DBOptions) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

// PostgresStore keeps each job as a row with its stage log in a JSONB column.
// Stage upserts use jsonb concatenation so only the given keys change.
type PostgresStore struct {
	DB     *sql.DB
	Logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		DB:     db,
		Logger: logger.With(slog.String("component", "postgres_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}

// CreateJob inserts the job row. An existing ID yields stagelog.ErrJobExists.
func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) error {
	wells, err := json.Marshal(job.Wells)
	if err != nil {
		return fmt.Errorf("encode wells: %w", err)
	}
	log := job.StageLog
	if log == nil {
		log = domain.StageLog{}
	}
	stages, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode stage log: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO jobs (id, operator, pad, wells, stage_log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Operator, job.Pad, wells, stages, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return unavailable("create job "+job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("create job "+job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, stagelog.ErrJobExists)
	}
	return nil
}

// GetJob loads the current row for jobID.
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job    domain.Job
		wells  []byte
		stages []byte
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, operator, pad, wells, stage_log, created_at, updated_at
		FROM jobs WHERE id = $1`, jobID)
	err := row.Scan(&job.ID, &job.Operator, &job.Pad, &wells, &stages, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, stagelog.ErrJobNotFound)
	}
	if err != nil {
		return nil, unavailable("get job "+jobID, err)
	}

	if err := json.Unmarshal(wells, &job.Wells); err != nil {
		return nil, fmt.Errorf("decode wells of job %s: %w", jobID, err)
	}
	job.StageLog = domain.StageLog{}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &job.StageLog); err != nil {
			return nil, fmt.Errorf("decode stage log of job %s: %w", jobID, err)
		}
	}
	return &job, nil
}

// UpsertStages merges the patch into stage_log in one statement.
func (s *PostgresStore) UpsertStages(ctx context.Context, jobID string, stages domain.StageLog) error {
	if err := checkPatch(jobID, stages); err != nil {
		return err
	}
	patch, err := json.Marshal(stages)
	if err != nil {
		return fmt.Errorf("encode stage patch: %w", err)
	}

	start := time.Now()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET stage_log = stage_log || $2::jsonb, updated_at = $3
		WHERE id = $1`,
		jobID, patch, s.clock(),
	)
	if err != nil {
		return unavailable("upsert stages of job "+jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("upsert stages of job "+jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, stagelog.ErrJobNotFound)
	}

	s.Logger.DebugContext(ctx, "stages upserted",
		slog.String("job_id", jobID),
		slog.Int("stages", len(stages)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// ListJobs returns job summaries ordered by ID.
func (s *PostgresStore) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, operator, pad, wells, (SELECT count(*) FROM jsonb_object_keys(stage_log)), updated_at
		FROM jobs ORDER BY id`)
	if err != nil {
		return nil, unavailable("list jobs", err)
	}
	defer rows.Close()

	result := make([]domain.JobSummary, 0)
	for rows.Next() {
		var (
			job      domain.Job
			wells    []byte
			recorded int
		)
		if err := rows.Scan(&job.ID, &job.Operator, &job.Pad, &wells, &recorded, &job.UpdatedAt); err != nil {
			return nil, unavailable("list jobs", err)
		}
		if err := json.Unmarshal(wells, &job.Wells); err != nil {
			return nil, fmt.Errorf("decode wells of job %s: %w", job.ID, err)
		}
		summary := job.Summary()
		summary.Recorded = recorded
		result = append(result, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list jobs", err)
	}
	return result, nil
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", stagelog.ErrStoreUnavailable, op, err)
}
