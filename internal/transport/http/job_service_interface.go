package http

import (
	"context"
	"io"

	"kpiledger/internal/services"
	"kpiledger/internal/stagelog"
	"kpiledger/pkg/contracts/domain"
)

// JobServiceInterface defines the job operations the HTTP API exposes
type JobServiceInterface interface {
	CreateJob(ctx context.Context, req services.CreateJobRequest) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.JobSummary, error)
	GetJob(ctx context.Context, jobID string) (*services.JobDetails, error)
	Upload(ctx context.Context, req services.UploadRequest) (*services.UploadResponse, error)
	Progress(ctx context.Context, jobID string) (stagelog.Progress, error)
	Timeline(ctx context.Context, jobID, order string) (stagelog.Timeline, error)
	WriteTimelineCSV(ctx context.Context, w io.Writer, jobID, order string) error
}

var _ JobServiceInterface = (*services.JobService)(nil)
