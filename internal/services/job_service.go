package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"kpiledger/internal/config"
	apierrors "kpiledger/internal/errors"
	"kpiledger/internal/exporter"
	"kpiledger/internal/infrastructure"
	"kpiledger/internal/stagelog"
	ws "kpiledger/internal/websocket"
	"kpiledger/pkg/contracts/domain"
)

// Broadcaster pushes events to connected dashboards
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, data any) bool
}

// StructValidator checks a request struct against its validate tags
type StructValidator interface {
	ValidateStruct(s any) error
}

// CreateJobRequest is the payload of the "create job" operation
type CreateJobRequest struct {
	ID       string         `json:"id" yaml:"id" validate:"required,kpiname,max=64"`
	Operator string         `json:"operator" yaml:"operator" validate:"required,max=120"`
	Pad      string         `json:"pad" yaml:"pad" validate:"required,max=120"`
	Wells    map[string]int `json:"wells" yaml:"wells" validate:"required,min=1,dive,keys,kpiname,max=64,endkeys,gte=1"`
}

// JobDetails is the summary view of one job with its derived progress
type JobDetails struct {
	domain.JobSummary
	Wells    map[string]int     `json:"wells"`
	JobStart *time.Time         `json:"job_start,omitempty"`
	Progress domain.PadProgress `json:"progress"`
}

// UploadRequest carries one workbook for one well
type UploadRequest struct {
	JobID    string
	Well     string
	Filename string
	Body     io.Reader
}

// UploadResponse is what the operator sees after an upload
type UploadResponse struct {
	*stagelog.MergeReport
	Rows    int                `json:"rows"`
	Message string             `json:"message"`
	Pad     domain.PadProgress `json:"pad"`
}

// JobUpdate is the payload of a job:updated websocket event
type JobUpdate struct {
	JobID       string                         `json:"job_id"`
	Well        string                         `json:"well"`
	UploadID    string                         `json:"upload_id"`
	Inserted    int                            `json:"inserted"`
	Overwritten int                            `json:"overwritten"`
	NoOps       int                            `json:"noops"`
	RowErrors   int                            `json:"row_errors"`
	Message     string                         `json:"message"`
	Wells       map[string]domain.WellProgress `json:"wells,omitempty"`
	Pad         domain.PadProgress             `json:"pad"`
}

// JobServiceOptions configures a JobService. Every field is optional.
type JobServiceOptions struct {
	Ingest       config.IngestConfig
	StoreTimeout time.Duration
	Validator    StructValidator
	Hub          Broadcaster
	Metrics      *infrastructure.BusinessMetrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// JobService implements the job operations shared by the HTTP API and kpictl
type JobService struct {
	store      stagelog.JobStore
	reconciler *stagelog.Reconciler
	parse      stagelog.ParseOptions
	maxErrors  int
	timeout    time.Duration
	validator  StructValidator
	hub        Broadcaster
	metrics    *infrastructure.BusinessMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewJobService creates the job service over store
func NewJobService(store stagelog.JobStore, opts JobServiceOptions) *JobService {
	if opts.Logger == nil {
		opts.Logger = infrastructure.GetLogger()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = stagelog.DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	maxErrors := opts.Ingest.MaxReportedErrors
	if maxErrors <= 0 {
		maxErrors = 5
	}
	tolerance := opts.Ingest.DurationTolerance
	logger := opts.Logger.With(slog.String("service", "jobs"))

	return &JobService{
		store: store,
		reconciler: stagelog.NewReconciler(store, stagelog.ReconcilerOptions{
			StoreTimeout: opts.StoreTimeout,
			Logger:       opts.Logger,
		}),
		parse: stagelog.ParseOptions{
			SheetName:         opts.Ingest.SheetName,
			DurationTolerance: &tolerance,
		},
		maxErrors: maxErrors,
		timeout:   opts.StoreTimeout,
		validator: opts.Validator,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       opts.Now,
	}
}

// CreateJob validates req and stores a new job with an empty stage log
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	req.ID = strings.TrimSpace(req.ID)
	req.Operator = strings.TrimSpace(req.Operator)
	req.Pad = strings.TrimSpace(req.Pad)

	if s.validator != nil {
		if err := s.validator.ValidateStruct(req); err != nil {
			return nil, err
		}
	}
	if err := validateWells(req.ID, req.Wells); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &domain.Job{
		ID:        req.ID,
		Operator:  req.Operator,
		Pad:       req.Pad,
		Wells:     make(map[string]int, len(req.Wells)),
		StageLog:  domain.StageLog{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for well, stages := range req.Wells {
		job.Wells[strings.TrimSpace(well)] = stages
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job %q: %w", job.ID, err)
	}

	s.logger.InfoContext(ctx, "job created",
		slog.String("job_id", job.ID),
		slog.Int("wells", len(job.Wells)),
		slog.Int("total_stages", job.TotalStages()))
	return job, nil
}

// validateWells applies the rules the struct tags cannot express, and all of
// them when no validator is configured.
func validateWells(jobID string, wells map[string]int) error {
	if err := stagelog.ValidateName(jobID); err != nil {
		return apierrors.ErrValidation("id", err.Error())
	}
	if len(wells) == 0 {
		return apierrors.ErrValidation("wells", "at least one well is required")
	}
	seen := make(map[string]struct{}, len(wells))
	for well, stages := range wells {
		field := fmt.Sprintf("wells[%s]", well)
		if err := stagelog.ValidateName(well); err != nil {
			return apierrors.ErrValidation(field, err.Error())
		}
		if stages < 1 {
			return apierrors.ErrValidation(field, "stage count must be at least 1")
		}
		name := strings.TrimSpace(well)
		if _, dup := seen[name]; dup {
			return apierrors.ErrValidation(field, "duplicate well name")
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ListJobs returns every job summary ordered by ID
func (s *JobService) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []domain.JobSummary{}
	}
	return jobs, nil
}

func (s *JobService) job(ctx context.Context, jobID string) (*domain.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", jobID, err)
	}
	return job, nil
}

// GetJob returns the job summary together with its start and pad progress
func (s *JobService) GetJob(ctx context.Context, jobID string) (*JobDetails, error) {
	job, err := s.job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	progress := stagelog.ComputeProgress(job)
	return &JobDetails{
		JobSummary: job.Summary(),
		Wells:      job.Wells,
		JobStart:   progress.JobStart,
		Progress:   progress.Pad,
	}, nil
}

// Progress derives per-well and pad completion for a job
func (s *JobService) Progress(ctx context.Context, jobID string) (stagelog.Progress, error) {
	job, err := s.job(ctx, jobID)
	if err != nil {
		return stagelog.Progress{}, err
	}
	return stagelog.ComputeProgress(job), nil
}

// Timeline projects a job's stage log. order is "well" (default) or
// "chronological".
func (s *JobService) Timeline(ctx context.Context, jobID, order string) (stagelog.Timeline, error) {
	o, err := stagelog.ParseTimelineOrder(order)
	if err != nil {
		return stagelog.Timeline{}, apierrors.ErrValidation("order", err.Error())
	}
	job, err := s.job(ctx, jobID)
	if err != nil {
		return stagelog.Timeline{}, err
	}
	return stagelog.ProjectTimeline(job.StageLog, o), nil
}

// WriteTimelineCSV writes the timeline of a job to w. Nothing is written if
// the job cannot be read.
func (s *JobService) WriteTimelineCSV(ctx context.Context, w io.Writer, jobID, order string) error {
	timeline, err := s.Timeline(ctx, jobID, order)
	if err != nil {
		return err
	}
	return exporter.WriteTimeline(w, timeline, true)
}

// Upload parses a workbook and merges it into the stage log of one well.
// Schema errors abort before the store is touched. On success the merge
// summary and fresh pad progress are broadcast as job:updated.
func (s *JobService) Upload(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	start := s.now()
	if err := stagelog.ValidateName(req.JobID); err != nil {
		return nil, err
	}
	if err := stagelog.ValidateName(req.Well); err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, apierrors.ErrMissingUpload
	}

	logger := s.logger.With(
		slog.String("job_id", req.JobID),
		slog.String("well", req.Well),
		slog.String("filename", req.Filename),
	)

	opts := s.parse
	opts.Well = req.Well
	batch, err := stagelog.ParseBatch(ctx, req.Body, opts)
	if err != nil {
		s.recordUpload(ctx, "rejected", nil, start)
		infrastructure.RecordError(ctx, err)
		logger.WarnContext(ctx, "upload rejected", slog.String("error", err.Error()))
		return nil, err
	}

	report, err := s.reconciler.Merge(ctx, req.JobID, req.Well, batch)
	if err != nil {
		s.recordUpload(ctx, uploadFailureStatus(err), nil, start)
		infrastructure.RecordError(ctx, err)
		return nil, err
	}
	s.recordUpload(ctx, "merged", report, start)

	resp := &UploadResponse{
		MergeReport: report,
		Rows:        batch.Rows,
		Message:     report.Summary(s.maxErrors),
	}

	update := JobUpdate{
		JobID:       report.JobID,
		Well:        report.Well,
		UploadID:    report.UploadID,
		Inserted:    report.Inserted,
		Overwritten: report.Overwritten,
		NoOps:       report.NoOps,
		RowErrors:   len(report.RowErrors),
		Message:     resp.Message,
	}
	if job, err := s.job(ctx, req.JobID); err != nil {
		logger.WarnContext(ctx, "progress unavailable after merge", slog.String("error", err.Error()))
	} else {
		progress := stagelog.ComputeProgress(job)
		resp.Pad = progress.Pad
		update.Pad = progress.Pad
		update.Wells = progress.Wells
	}

	if s.hub != nil {
		s.hub.Broadcast(ctx, ws.TypeJobUpdated, update)
	}

	logger.InfoContext(ctx, "upload processed",
		slog.String("upload_id", report.UploadID),
		slog.Int("rows", batch.Rows),
		slog.Int("merged", report.Merged()),
		slog.Int("row_errors", len(report.RowErrors)),
		slog.Float64("pad_ratio", resp.Pad.Ratio))
	return resp, nil
}

func uploadFailureStatus(err error) string {
	switch {
	case stagelog.IsUnknownJobOrWell(err):
		return "unknown_target"
	case stagelog.IsStoreUnavailable(err):
		return "store_unavailable"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "failed"
}

func (s *JobService) recordUpload(ctx context.Context, status string, report *stagelog.MergeReport, start time.Time) {
	result := infrastructure.UploadResult{
		Status:   status,
		Duration: s.now().Sub(start),
	}
	if report != nil {
		result.Inserted = report.Inserted
		result.Overwritten = report.Overwritten
		result.NoOps = report.NoOps
		result.Warnings = len(report.Warnings)
		result.RowErrors = make(map[string]int)
		for _, re := range report.RowErrors {
			result.RowErrors[string(re.Kind)]++
		}
	}
	s.metrics.RecordUpload(ctx, result)
}
