package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/partition"
	"github.com/animus-labs/retrigger/internal/pipeline"
	"github.com/animus-labs/retrigger/internal/trigger"
)

// MaxLogEntries bounds the per-session activity log.
const MaxLogEntries = 200

var ErrTriggerInFlight = errors.New("a trigger for this job is already in flight")

type TriggeredJob struct {
	TriggerID   string           `json:"trigger_id,omitempty"`
	Status      domain.JobStatus `json:"status,omitempty"`
	Message     string           `json:"message,omitempty"`
	Partitions  []string         `json:"partitions,omitempty"`
	Loading     bool             `json:"loading"`
	TriggeredAt time.Time        `json:"triggered_at"`
}

// JobState is everything one operator has done to one job.
type JobState struct {
	JobID                int64
	BatchSize            int
	Selection            *partition.Selection
	Triggered            *TriggeredJob
	CurrentStep          int
	CurrentStepName      string
	// FailedStepID is the step a FAILED report named after a trigger. It
	// replaces the job's stored failed step for this session.
	FailedStepID         string
	ProcessingPartitions []string
	LastReport           *domain.StatusReport
	RetriggeredCount     int
}

type LogEntry struct {
	At      time.Time `json:"at"`
	JobID   int64     `json:"job_id"`
	Message string    `json:"message"`
}

// State is one operator session. It is only touched through Store, which holds
// the lock.
type State struct {
	ID        string
	CreatedAt time.Time
	LastSeen  time.Time

	jobs map[int64]*JobState
	logs []LogEntry
	now  func() time.Time
}

func newState(id string, now func() time.Time) *State {
	at := now().UTC()
	return &State{
		ID:        id,
		CreatedAt: at,
		LastSeen:  at,
		jobs:      map[int64]*JobState{},
		now:       now,
	}
}

// Job returns the state for jobID, creating it with a batch size of one.
func (s *State) Job(jobID int64) *JobState {
	js, ok := s.jobs[jobID]
	if !ok {
		js = &JobState{JobID: jobID, BatchSize: 1}
		s.jobs[jobID] = js
	}
	return js
}

func (s *State) Lookup(jobID int64) (*JobState, bool) {
	js, ok := s.jobs[jobID]
	return js, ok
}

func (s *State) SetBatchSize(job domain.Job, size int) int {
	js := s.Job(job.ID)
	js.BatchSize = partition.ClampBatchSize(job, size)
	return js.BatchSize
}

// OpenSelection initialises the job's selection from its batch size the first
// time it is opened. Later calls keep what the operator chose.
func (s *State) OpenSelection(job domain.Job) *partition.Selection {
	js := s.Job(job.ID)
	if js.Selection == nil {
		js.Selection = partition.DefaultSelection(job, js.BatchSize)
	}
	return js.Selection
}

func (s *State) TogglePartition(job domain.Job, p string) error {
	return s.OpenSelection(job).Toggle(p)
}

func (s *State) SelectAll(job domain.Job) {
	s.OpenSelection(job).SelectAll()
}

func (s *State) DeselectAll(job domain.Job) {
	s.OpenSelection(job).DeselectAll()
}

// PartitionsToProcess uses the explicit selection once one exists, otherwise the
// batch size.
func (s *State) PartitionsToProcess(job domain.Job) ([]string, error) {
	js := s.Job(job.ID)
	return partition.ToProcess(job, js.Selection, js.BatchSize)
}

func (s *State) BeginTrigger(job domain.Job, partitions []string) error {
	js := s.Job(job.ID)
	if js.Triggered != nil && js.Triggered.Loading {
		return ErrTriggerInFlight
	}
	js.Triggered = &TriggeredJob{Loading: true, Partitions: append([]string{}, partitions...), TriggeredAt: s.now().UTC()}
	js.ProcessingPartitions = append([]string{}, partitions...)
	s.log(job.ID, fmt.Sprintf("Triggering job for %d partition(s): %s", len(partitions), strings.Join(partitions, ", ")))
	return nil
}

// AbortTrigger clears an in-flight trigger that never reached the backend.
func (s *State) AbortTrigger(job domain.Job, err error) {
	js := s.Job(job.ID)
	js.Triggered = &TriggeredJob{Status: domain.JobStatusError, Message: err.Error(), TriggeredAt: s.now().UTC()}
	js.ProcessingPartitions = nil
	s.log(job.ID, "Error triggering job: "+err.Error())
}

func (s *State) FinishTrigger(job domain.Job, outcome trigger.Outcome) {
	js := s.Job(job.ID)
	result := outcome.Result
	triggeredAt := s.now().UTC()
	if js.Triggered != nil {
		triggeredAt = js.Triggered.TriggeredAt
	}
	js.Triggered = &TriggeredJob{
		TriggerID:   outcome.TriggerID,
		Status:      result.Status,
		Message:     result.Message,
		Partitions:  append([]string{}, result.Partitions...),
		TriggeredAt: triggeredAt,
	}
	js.LastReport = nil
	js.FailedStepID = ""

	if result.Status == domain.JobStatusError {
		js.ProcessingPartitions = nil
		s.log(job.ID, "Error triggering job: "+result.Message)
		return
	}

	js.RetriggeredCount += len(result.Partitions)
	js.ProcessingPartitions = append([]string{}, result.Partitions...)
	js.CurrentStep = startStep(job)
	js.CurrentStepName = "Initializing"
	s.log(job.ID, fmt.Sprintf("Job triggered successfully. Status: %s", result.Status))
}

// ApplyReport replaces the derived state with a fresh status poll.
func (s *State) ApplyReport(job domain.Job, report domain.StatusReport) {
	js := s.Job(job.ID)
	r := report
	r.ProcessingPartitions = append([]string{}, report.ProcessingPartitions...)
	js.LastReport = &r
	if js.Triggered != nil {
		js.Triggered.Status = report.Status
	}
	s.log(job.ID, fmt.Sprintf("Status updated: %s at %s", report.Status, report.LastUpdated.UTC().Format(time.TimeOnly)))

	def := pipeline.ForJob(job)
	switch report.Status {
	case domain.JobStatusRunning:
		js.ProcessingPartitions = append([]string{}, report.ProcessingPartitions...)
		if idx := def.StepIndex(report.CurrentStep); idx >= 0 && (idx != js.CurrentStep || js.CurrentStepName == "Initializing") {
			js.CurrentStep = idx
			js.CurrentStepName = "Processing at " + def.Steps[idx].Label
			s.log(job.ID, js.CurrentStepName)
		}
	case domain.JobStatusCompleted:
		js.ProcessingPartitions = nil
		js.CurrentStep = len(def.Steps) - 1
		js.CurrentStepName = "Completed"
	case domain.JobStatusFailed, domain.JobStatusError:
		js.ProcessingPartitions = nil
		js.FailedStepID = ""
		if idx := def.StepIndex(report.CurrentStep); idx >= 0 {
			js.CurrentStep = idx
			js.FailedStepID = def.Steps[idx].ID
		}
		js.CurrentStepName = "Failed"
	}
}

func (s *State) ApplyPollError(jobID int64, err error) {
	s.log(jobID, "Error fetching status: "+err.Error())
}

// Status is the job's effective status in this session: the last reported or
// triggered status, else the stored one.
func (s *State) Status(job domain.Job) domain.JobStatus {
	js, ok := s.jobs[job.ID]
	if !ok || js.Triggered == nil || js.Triggered.Status == "" {
		return job.Status
	}
	return js.Triggered.Status
}

// Logs returns log entries newest first, optionally for a single job (jobID > 0).
func (s *State) Logs(jobID int64) []LogEntry {
	out := make([]LogEntry, 0, len(s.logs))
	for i := len(s.logs) - 1; i >= 0; i-- {
		if jobID > 0 && s.logs[i].JobID != jobID {
			continue
		}
		out = append(out, s.logs[i])
	}
	return out
}

func (s *State) log(jobID int64, message string) {
	s.logs = append(s.logs, LogEntry{At: s.now().UTC(), JobID: jobID, Message: message})
	if over := len(s.logs) - MaxLogEntries; over > 0 {
		s.logs = append([]LogEntry{}, s.logs[over:]...)
	}
}

func startStep(job domain.Job) int {
	if idx := pipeline.ForJob(job).StepIndex(job.FailedStepID); idx >= 0 {
		return idx
	}
	return 0
}
