package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/partition"
	"github.com/animus-labs/retrigger/internal/repo"
)

// Archiver keeps a copy of every trigger payload and returns the object key.
type Archiver interface {
	PutPayload(ctx context.Context, jobID int64, triggerID string, body []byte) (string, error)
}

type Request struct {
	Job        domain.Job
	Partitions []string
	BatchSize  int
	Actor      string
}

type Outcome struct {
	TriggerID  string               `json:"trigger_id"`
	Result     domain.TriggerResult `json:"result"`
	PayloadKey string               `json:"payload_key,omitempty"`
}

// Recorder triggers jobs through a Service and keeps the history. A backend
// failure is not returned as an error: it becomes an ERROR result, and is never
// retried.
type Recorder struct {
	svc     Service
	history repo.TriggerRepository
	archive Archiver
	logger  *slog.Logger
	now     func() time.Time
}

func NewRecorder(svc Service, history repo.TriggerRepository, archive Archiver, logger *slog.Logger) (*Recorder, error) {
	if svc == nil {
		return nil, errors.New("trigger service is required")
	}
	if history == nil {
		return nil, errors.New("trigger history is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{svc: svc, history: history, archive: archive, logger: logger, now: time.Now}, nil
}

func (r *Recorder) Trigger(ctx context.Context, req Request) (Outcome, error) {
	if len(req.Partitions) == 0 {
		return Outcome{}, partition.ErrNoPartitions
	}
	if req.BatchSize < 1 {
		req.BatchSize = 1
	}
	triggerID := uuid.NewString()
	requestedAt := r.now().UTC()

	result, err := r.svc.TriggerJob(ctx, req.Job.ID, req.Partitions, req.BatchSize)
	switch {
	case errors.Is(err, ErrJobNotFound):
		return Outcome{}, err
	case err != nil:
		r.logger.Warn("trigger failed", "job_id", req.Job.ID, "trigger_id", triggerID, "error", err)
		result = domain.TriggerResult{
			JobID:      req.Job.ID,
			Status:     domain.JobStatusError,
			Message:    err.Error(),
			Partitions: req.Partitions,
			BatchSize:  req.BatchSize,
		}
	default:
		result = normalizeResult(result, req)
	}

	outcome := Outcome{TriggerID: triggerID, Result: result}
	if r.archive != nil {
		key, err := r.archivePayload(ctx, triggerID, requestedAt, req, result)
		if err != nil {
			r.logger.Warn("archive trigger payload failed", "job_id", req.Job.ID, "trigger_id", triggerID, "error", err)
		} else {
			outcome.PayloadKey = key
		}
	}

	if _, err := r.history.AppendTrigger(ctx, repo.TriggerRecord{
		ID:         triggerID,
		JobID:      req.Job.ID,
		Status:     result.Status,
		Message:    result.Message,
		Partitions: result.Partitions,
		BatchSize:  result.BatchSize,
		Actor:      req.Actor,
		PayloadKey: outcome.PayloadKey,
		CreatedAt:  requestedAt,
	}); err != nil {
		r.logger.Warn("record trigger failed", "job_id", req.Job.ID, "trigger_id", triggerID, "error", err)
	}

	r.logger.Info("job triggered",
		"job_id", req.Job.ID,
		"trigger_id", triggerID,
		"status", result.Status,
		"partitions", len(result.Partitions),
		"batch_size", result.BatchSize,
		"actor", req.Actor,
	)
	return outcome, nil
}

func (r *Recorder) History(ctx context.Context, jobID int64, limit int) ([]repo.TriggerRecord, error) {
	return r.history.ListTriggers(ctx, jobID, limit)
}

func normalizeResult(result domain.TriggerResult, req Request) domain.TriggerResult {
	result.JobID = req.Job.ID
	status := domain.NormalizeJobStatus(string(result.Status))
	if status == "" {
		result.Message = fmt.Sprintf("backend returned unknown status %q", result.Status)
		status = domain.JobStatusError
	}
	result.Status = status
	if len(result.Partitions) == 0 {
		result.Partitions = req.Partitions
	}
	if result.BatchSize < 1 {
		result.BatchSize = req.BatchSize
	}
	return result
}

type archivedPayload struct {
	TriggerID    string               `json:"trigger_id"`
	RequestedAt  time.Time            `json:"requested_at"`
	Actor        string               `json:"actor"`
	JobID        int64                `json:"job_id"`
	TableName    string               `json:"table_name"`
	SourceSystem string               `json:"source_system"`
	PipelineKey  domain.PipelineKey   `json:"pipeline_key"`
	Partitions   []string             `json:"partitions"`
	BatchSize    int                  `json:"batch_size"`
	Result       domain.TriggerResult `json:"result"`
}

func (r *Recorder) archivePayload(ctx context.Context, triggerID string, at time.Time, req Request, result domain.TriggerResult) (string, error) {
	body, err := json.Marshal(archivedPayload{
		TriggerID:    triggerID,
		RequestedAt:  at,
		Actor:        req.Actor,
		JobID:        req.Job.ID,
		TableName:    req.Job.TableName,
		SourceSystem: req.Job.SourceSystem,
		PipelineKey:  req.Job.PipelineKey,
		Partitions:   req.Partitions,
		BatchSize:    req.BatchSize,
		Result:       result,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return r.archive.PutPayload(ctx, req.Job.ID, triggerID, body)
}
