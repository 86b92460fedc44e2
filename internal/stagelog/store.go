package stagelog

import (
	"context"

	"kpiledger/pkg/contracts/domain"
)

// JobStore is the document store the reconciler reads from and writes to.
//
// GetJob must return the latest persisted state, never a cached copy.
// UpsertStages must apply every entry or none, and must only touch the given
// keys so concurrent uploads to other keys are preserved.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CreateJob(ctx context.Context, job *domain.Job) error
	UpsertStages(ctx context.Context, jobID string, stages domain.StageLog) error
	ListJobs(ctx context.Context) ([]domain.JobSummary, error)
}
