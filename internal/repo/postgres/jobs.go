package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/repo"
)

type JobStore struct {
	db DB
}

const (
	jobColumns = `job_id, table_name, partition, status, route, source_system, pipeline_type, pipeline_key, error_message, failed_step, missing_partitions`

	selectJobQuery = `SELECT ` + jobColumns + `
	 FROM failed_jobs
	 WHERE job_id = $1`

	listJobsQuery = `SELECT ` + jobColumns + `
	 FROM failed_jobs
	 WHERE ($1 = '' OR status = $1)
	   AND ($2 = '' OR table_name = $2)
	 ORDER BY job_id ASC
	 LIMIT $3`

	updateJobStatusQuery = `UPDATE failed_jobs
	 SET status = $2, updated_at = now()
	 WHERE job_id = $1`

	upsertJobQuery = `INSERT INTO failed_jobs (` + jobColumns + `)
	 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	 ON CONFLICT (job_id) DO UPDATE SET
		table_name = EXCLUDED.table_name,
		partition = EXCLUDED.partition,
		status = EXCLUDED.status,
		route = EXCLUDED.route,
		source_system = EXCLUDED.source_system,
		pipeline_type = EXCLUDED.pipeline_type,
		pipeline_key = EXCLUDED.pipeline_key,
		error_message = EXCLUDED.error_message,
		failed_step = EXCLUDED.failed_step,
		missing_partitions = EXCLUDED.missing_partitions,
		updated_at = now()`
)

func NewJobStore(db DB) *JobStore {
	if db == nil {
		return nil
	}
	return &JobStore{db: db}
}

func (s *JobStore) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	if s == nil || s.db == nil {
		return domain.Job{}, fmt.Errorf("job store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectJobQuery, id)
	job, err := scanJob(row)
	if err != nil {
		return domain.Job{}, handleNotFound(err)
	}
	return job, nil
}

func (s *JobStore) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	status := string(domain.NormalizeJobStatus(string(filter.Status)))
	rows, err := s.db.QueryContext(ctx, listJobsQuery, status, strings.TrimSpace(filter.TableName), repo.NormalizeLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (s *JobStore) UpdateJobStatus(ctx context.Context, id int64, status domain.JobStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	normalized := domain.NormalizeJobStatus(string(status))
	if normalized == "" {
		return fmt.Errorf("unsupported job status: %q", status)
	}
	res, err := s.db.ExecContext(ctx, updateJobStatusQuery, id, string(normalized))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job status rows: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// UpsertJob loads or refreshes a job record, used when importing seed fixtures.
func (s *JobStore) UpsertJob(ctx context.Context, job domain.Job) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validate job %d: %w", job.ID, err)
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertJobQuery,
		job.ID,
		trimmed(job.TableName),
		trimmed(job.Partition),
		string(domain.NormalizeJobStatus(string(job.Status))),
		trimmed(job.Route),
		trimmed(job.SourceSystem),
		trimmed(job.PipelineType),
		string(job.PipelineKey),
		job.ErrorMessage,
		trimmed(job.FailedStepID),
		nonNil(job.MissingPartitions),
	)
	if err != nil {
		return fmt.Errorf("upsert job %d: %w", job.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job         domain.Job
		status      string
		pipelineKey string
		missing     []string
	)
	if err := row.Scan(
		&job.ID,
		&job.TableName,
		&job.Partition,
		&status,
		&job.Route,
		&job.SourceSystem,
		&job.PipelineType,
		&pipelineKey,
		&job.ErrorMessage,
		&job.FailedStepID,
		textArray(&missing),
	); err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.NormalizeJobStatus(status)
	job.PipelineKey = domain.PipelineKey(pipelineKey)
	job.MissingPartitions = nonNil(missing)
	return job, nil
}
