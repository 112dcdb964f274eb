package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/repo"
)

type TriggerStore struct {
	db DB
}

const (
	insertTriggerQuery = `INSERT INTO job_triggers (
		trigger_id,
		job_id,
		status,
		message,
		partitions,
		batch_size,
		actor,
		payload_key,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	listTriggersQuery = `SELECT trigger_id, job_id, status, message, partitions, batch_size, actor, payload_key, created_at
	 FROM job_triggers
	 WHERE job_id = $1
	 ORDER BY created_at DESC, trigger_id DESC
	 LIMIT $2`
)

func NewTriggerStore(db DB) *TriggerStore {
	if db == nil {
		return nil
	}
	return &TriggerStore{db: db}
}

func (s *TriggerStore) AppendTrigger(ctx context.Context, record repo.TriggerRecord) (repo.TriggerRecord, error) {
	if s == nil || s.db == nil {
		return repo.TriggerRecord{}, fmt.Errorf("trigger store not initialized")
	}
	if record.JobID <= 0 {
		return repo.TriggerRecord{}, fmt.Errorf("job id is required")
	}
	status := domain.NormalizeJobStatus(string(record.Status))
	if status == "" {
		return repo.TriggerRecord{}, fmt.Errorf("unsupported trigger status: %q", record.Status)
	}
	if record.BatchSize < 1 {
		return repo.TriggerRecord{}, fmt.Errorf("batch size must be >= 1")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if strings.TrimSpace(record.Actor) == "" {
		record.Actor = "anonymous"
	}
	record.Status = status
	record.Partitions = nonNil(record.Partitions)
	record.CreatedAt = normalizeTime(record.CreatedAt)

	_, err := s.db.ExecContext(
		ctx,
		insertTriggerQuery,
		record.ID,
		record.JobID,
		string(record.Status),
		record.Message,
		record.Partitions,
		record.BatchSize,
		record.Actor,
		record.PayloadKey,
		record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.TriggerRecord{}, repo.ErrAlreadyExists
		}
		return repo.TriggerRecord{}, fmt.Errorf("insert trigger: %w", err)
	}
	return record, nil
}

func (s *TriggerStore) ListTriggers(ctx context.Context, jobID int64, limit int) ([]repo.TriggerRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("trigger store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listTriggersQuery, jobID, repo.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	out := []repo.TriggerRecord{}
	for rows.Next() {
		var (
			record     repo.TriggerRecord
			status     string
			partitions []string
		)
		if err := rows.Scan(
			&record.ID,
			&record.JobID,
			&status,
			&record.Message,
			textArray(&partitions),
			&record.BatchSize,
			&record.Actor,
			&record.PayloadKey,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		record.Status = domain.NormalizeJobStatus(status)
		record.Partitions = nonNil(partitions)
		record.CreatedAt = record.CreatedAt.UTC()
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return out, nil
}
