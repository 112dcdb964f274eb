package domain

import (
	"errors"
	"fmt"
	"strings"
)

// JobStatus is the lifecycle status of an ingestion job as reported by the backend.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusError     JobStatus = "ERROR"
)

// NormalizeJobStatus maps free-form status values to canonical job statuses.
// Unrecognized values return the empty status.
func NormalizeJobStatus(value string) JobStatus {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(JobStatusPending):
		return JobStatusPending
	case string(JobStatusRunning):
		return JobStatusRunning
	case string(JobStatusFailed):
		return JobStatusFailed
	case string(JobStatusCompleted):
		return JobStatusCompleted
	case string(JobStatusError):
		return JobStatusError
	default:
		return ""
	}
}

// IsTerminal reports whether no further progress is expected after a re-trigger.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusError:
		return true
	default:
		return false
	}
}

var ErrFailedStepRequired = errors.New("failed step id is required for FAILED jobs")

// Job is a failed (or re-triggered) ingestion job for one table partition.
type Job struct {
	ID                int64       `json:"id" yaml:"id"`
	TableName         string      `json:"table_name" yaml:"table_name"`
	Partition         string      `json:"partition" yaml:"partition"`
	Status            JobStatus   `json:"status" yaml:"status"`
	Route             string      `json:"route,omitempty" yaml:"route"`
	SourceSystem      string      `json:"source_system,omitempty" yaml:"source_system"`
	PipelineType      string      `json:"pipeline_type,omitempty" yaml:"pipeline_type"`
	PipelineKey       PipelineKey `json:"pipeline_key,omitempty" yaml:"pipeline_key"`
	ErrorMessage      string      `json:"error_message,omitempty" yaml:"error_message"`
	FailedStepID      string      `json:"failed_step_id,omitempty" yaml:"failed_step"`
	MissingPartitions []string    `json:"missing_partitions" yaml:"missing_partitions"`
}

func (j Job) Validate() error {
	if j.ID <= 0 {
		return errors.New("job id must be positive")
	}
	if strings.TrimSpace(j.TableName) == "" {
		return errors.New("table name is required")
	}
	if strings.TrimSpace(j.Partition) == "" {
		return errors.New("partition is required")
	}
	if NormalizeJobStatus(string(j.Status)) == "" {
		return fmt.Errorf("unsupported job status: %q", j.Status)
	}
	for i, p := range j.MissingPartitions {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("missing_partitions[%d] is empty", i)
		}
	}
	return nil
}

// ValidateStrict additionally requires a failed step reference on FAILED jobs so the
// stage diagram never has to fall back to a possibly stale step index.
func (j Job) ValidateStrict() error {
	if err := j.Validate(); err != nil {
		return err
	}
	if j.Status == JobStatusFailed && strings.TrimSpace(j.FailedStepID) == "" {
		return ErrFailedStepRequired
	}
	return nil
}

// AllPartitions returns the failed partition followed by the missing partitions.
func (j Job) AllPartitions() []string {
	out := make([]string, 0, len(j.MissingPartitions)+1)
	out = append(out, j.Partition)
	out = append(out, j.MissingPartitions...)
	return out
}
