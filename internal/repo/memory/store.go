package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/repo"
)

// JobStore keeps jobs in memory. Reads return copies.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[int64]domain.Job
}

func NewJobStore(jobs []domain.Job) *JobStore {
	s := &JobStore{jobs: make(map[int64]domain.Job, len(jobs))}
	for _, job := range jobs {
		s.jobs[job.ID] = copyJob(job)
	}
	return s
}

func (s *JobStore) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := domain.NormalizeJobStatus(string(filter.Status))
	table := strings.TrimSpace(filter.TableName)
	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		if table != "" && job.TableName != table {
			continue
		}
		out = append(out, copyJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit := repo.NormalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, repo.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *JobStore) UpdateJobStatus(ctx context.Context, id int64, status domain.JobStatus) error {
	normalized := domain.NormalizeJobStatus(string(status))
	if normalized == "" {
		return fmt.Errorf("unsupported job status: %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	job.Status = normalized
	s.jobs[id] = job
	return nil
}

func copyJob(job domain.Job) domain.Job {
	job.MissingPartitions = append([]string{}, job.MissingPartitions...)
	return job
}

type TriggerStore struct {
	mu      sync.Mutex
	records []repo.TriggerRecord
	ids     map[string]struct{}
	now     func() time.Time
}

func NewTriggerStore() *TriggerStore {
	return &TriggerStore{ids: map[string]struct{}{}, now: time.Now}
}

func (s *TriggerStore) AppendTrigger(ctx context.Context, record repo.TriggerRecord) (repo.TriggerRecord, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if _, dup := s.ids[record.ID]; dup {
		return repo.TriggerRecord{}, repo.ErrAlreadyExists
	}
	if strings.TrimSpace(record.Actor) == "" {
		record.Actor = "anonymous"
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.Status = status
	record.Partitions = append([]string{}, record.Partitions...)

	s.ids[record.ID] = struct{}{}
	s.records = append(s.records, record)
	return record, nil
}

// ListTriggers returns the job's history newest first.
func (s *TriggerStore) ListTriggers(ctx context.Context, jobID int64, limit int) ([]repo.TriggerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = repo.NormalizeLimit(limit)
	out := []repo.TriggerRecord{}
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.records[i]
		if rec.JobID != jobID {
			continue
		}
		rec.Partitions = append([]string{}, rec.Partitions...)
		out = append(out, rec)
	}
	return out, nil
}
