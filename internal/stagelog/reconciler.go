package stagelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kpiledger/pkg/contracts/domain"
)

// TracerName is the instrumentation scope for stage-log spans.
const TracerName = "kpiledger.stagelog"

// DefaultStoreTimeout bounds each store call made by the reconciler.
const DefaultStoreTimeout = 10 * time.Second

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Reconciler merges parsed batches into a job's persisted stage log.
type Reconciler struct {
	store   JobStore
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store JobStore, opts ReconcilerOptions) *Reconciler {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reconciler{
		store:   store,
		timeout: opts.StoreTimeout,
		logger:  opts.Logger.With(slog.String("component", "reconciler")),
		tracer:  otel.Tracer(TracerName),
	}
}

// Merge reconciles batch into the stage log of jobID for the given well.
//
// The job is re-read from the store first. Every key is classified as insert,
// overwrite or no-op against that fresh state, and only inserts and
// overwrites are written back in one atomic per-key upsert. Either every
// change lands or none does.
func (r *Reconciler) Merge(ctx context.Context, jobID, well string, batch Batch) (*MergeReport, error) {
	ctx, span := r.tracer.Start(ctx, "stagelog.merge",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.well", well),
			attribute.Int("batch.records", len(batch.Records)),
			attribute.Int("batch.row_errors", len(batch.RowErrors)),
		),
	)
	defer span.End()

	report, err := r.merge(ctx, jobID, well, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.WarnContext(ctx, "merge failed",
			slog.String("job_id", jobID),
			slog.String("well", well),
			slog.String("error", err.Error()))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("merge.inserted", report.Inserted),
		attribute.Int("merge.overwritten", report.Overwritten),
		attribute.Int("merge.noops", report.NoOps),
	)
	r.logger.InfoContext(ctx, "merge complete",
		slog.String("upload_id", report.UploadID),
		slog.String("job_id", jobID),
		slog.String("well", well),
		slog.Int("inserted", report.Inserted),
		slog.Int("overwritten", report.Overwritten),
		slog.Int("noops", report.NoOps),
		slog.Int("row_errors", len(report.RowErrors)),
		slog.Int("warnings", len(report.Warnings)))
	return report, nil
}

func (r *Reconciler) merge(ctx context.Context, jobID, well string, batch Batch) (*MergeReport, error) {
	job, err := r.fetch(ctx, jobID)
	if err != nil {
		return nil, r.classifyStoreError(jobID, well, err)
	}
	if !job.HasWell(well) {
		return nil, &ReconcileError{Kind: UnknownJobOrWell, JobID: jobID, Well: well}
	}

	report := &MergeReport{
		UploadID:  uuid.New().String(),
		JobID:     jobID,
		Well:      well,
		Outcomes:  make(map[domain.StageKey]Outcome),
		RowErrors: append([]RowError{}, batch.RowErrors...),
		Anomalies: append([]ParseAnomaly(nil), batch.Anomalies...),
	}

	// Collapse the batch first so a key is classified once, last row wins.
	incoming := make(domain.StageLog, len(batch.Records))
	order := make([]domain.StageKey, 0, len(batch.Records))
	orphans := make(map[string]bool)
	for _, rec := range batch.Records {
		if rec.Well == "" {
			rec.Well = well
		}
		if !job.HasWell(rec.Well) {
			report.Warnings = append(report.Warnings, orphanWarning(jobID, rec.Well, rec.Stage))
			orphans[rec.Well] = true
		}
		key := BuildKey(jobID, rec.Well, rec.Stage)
		if _, seen := incoming[key]; seen {
			report.Superseded++
		} else {
			order = append(order, key)
		}
		incoming[key] = rec
	}

	changes := make(domain.StageLog)
	for _, key := range order {
		rec := incoming[key]
		stored, exists := job.StageLog[key]
		switch {
		case !exists:
			report.Inserted++
			report.Outcomes[key] = OutcomeInsert
			changes[key] = rec
		case !stored.Equal(rec):
			report.Overwritten++
			report.Outcomes[key] = OutcomeOverwrite
			changes[key] = rec
		default:
			report.NoOps++
			report.Outcomes[key] = OutcomeNoOp
		}
	}
	for orphan := range orphans {
		r.logger.WarnContext(ctx, "stage records reference undeclared well",
			slog.String("job_id", jobID),
			slog.String("well", orphan))
	}

	if len(changes) == 0 {
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("merge aborted before write-back: %w", err)
	}
	if err := r.write(ctx, jobID, changes); err != nil {
		return nil, r.classifyStoreError(jobID, well, err)
	}
	return report, nil
}

func (r *Reconciler) fetch(ctx context.Context, jobID string) (*domain.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.GetJob(ctx, jobID)
}

func (r *Reconciler) write(ctx context.Context, jobID string, changes domain.StageLog) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.UpsertStages(ctx, jobID, changes)
}

func (r *Reconciler) classifyStoreError(jobID, well string, err error) error {
	if errors.Is(err, ErrJobNotFound) {
		return &ReconcileError{Kind: UnknownJobOrWell, JobID: jobID, Well: well, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("merge cancelled: %w", err)
	}
	return &ReconcileError{Kind: StoreUnavailable, JobID: jobID, Well: well, Err: err}
}
