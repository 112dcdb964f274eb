package repo

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/retrigger/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type JobFilter struct {
	Status    domain.JobStatus
	TableName string
	Limit     int
}

// JobRepository supplies the failed job records the console renders.
type JobRepository interface {
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status domain.JobStatus) error
}

// TriggerRecord is one manual re-trigger attempt, successful or not.
type TriggerRecord struct {
	ID         string           `json:"trigger_id"`
	JobID      int64            `json:"job_id"`
	Status     domain.JobStatus `json:"status"`
	Message    string           `json:"message,omitempty"`
	Partitions []string         `json:"partitions"`
	BatchSize  int              `json:"batch_size"`
	Actor      string           `json:"actor"`
	PayloadKey string           `json:"payload_key,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// TriggerRepository keeps the append-only re-trigger history.
type TriggerRepository interface {
	AppendTrigger(ctx context.Context, record TriggerRecord) (TriggerRecord, error)
	ListTriggers(ctx context.Context, jobID int64, limit int) ([]TriggerRecord, error)
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// NormalizeLimit bounds list sizes the same way for every store.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
