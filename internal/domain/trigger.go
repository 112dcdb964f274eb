package domain

import "time"

// TriggerResult is the backend's answer to a manual re-trigger.
type TriggerResult struct {
	JobID      int64     `json:"job_id"`
	Status     JobStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	Partitions []string  `json:"partitions"`
	BatchSize  int       `json:"batch_size"`
}

// StatusReport is one poll of a re-triggered job. CurrentStep, when the backend
// reports it, is a step id of the job's pipeline definition.
type StatusReport struct {
	JobID                int64     `json:"job_id"`
	Status               JobStatus `json:"status"`
	LastUpdated          time.Time `json:"last_updated"`
	ProcessingPartitions []string  `json:"processing_partitions"`
	CurrentStep          string    `json:"current_step,omitempty"`
}

// PayloadPreview is what would be sent to the ingestion backend for a trigger.
type PayloadPreview struct {
	TableName    string    `json:"table_name"`
	Partitions   []string  `json:"partitions"`
	Pipeline     string    `json:"pipeline"`
	SourceSystem string    `json:"source_system"`
	Timestamp    time.Time `json:"timestamp"`
}
