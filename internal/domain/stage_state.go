package domain

// StageRenderState is the derived display status of one pipeline stage.
// It is computed on every request and never persisted.
type StageRenderState string

const (
	StagePending   StageRenderState = "pending"
	StageActive    StageRenderState = "active"
	StageRunning   StageRenderState = "running"
	StageCompleted StageRenderState = "completed"
	StageFailed    StageRenderState = "failed"
)

// PartitionStatus is the display status of one date partition on the timeline.
type PartitionStatus string

const (
	PartitionProcessing PartitionStatus = "PROCESSING"
	PartitionFailed     PartitionStatus = "FAILED"
	PartitionMissing    PartitionStatus = "MISSING"
	PartitionCompleted  PartitionStatus = "COMPLETED"
)
