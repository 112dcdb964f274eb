package trigger

import (
	"context"
	"errors"

	"github.com/animus-labs/retrigger/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// Service is the ingestion backend that re-runs failed jobs.
type Service interface {
	TriggerJob(ctx context.Context, jobID int64, partitions []string, batchSize int) (domain.TriggerResult, error)
	GetJobStatus(ctx context.Context, jobID int64) (domain.StatusReport, error)
	GetJobPayloadPreview(ctx context.Context, jobID int64, partitions []string) (domain.PayloadPreview, error)
}
