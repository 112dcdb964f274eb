package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/partition"
	"github.com/animus-labs/retrigger/internal/pipeline"
	"github.com/animus-labs/retrigger/internal/trigger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(ttl time.Duration) (*Store, *clock) {
	c := &clock{t: time.Date(2025, 7, 26, 9, 0, 0, 0, time.UTC)}
	s := NewStore(ttl)
	s.now = c.now
	return s, c
}

var job = domain.Job{
	ID:                1,
	TableName:         "customer_data",
	Partition:         "2025-07-25",
	Status:            domain.JobStatusFailed,
	SourceSystem:      "TERADATA",
	PipelineType:      "DIAS2.0",
	PipelineKey:       domain.PipelineTeradataDIAS,
	FailedStepID:      "poll_dias",
	MissingPartitions: []string{"2025-07-24", "2025-07-23", "2025-07-22"},
}

func TestSelectionLifecycle(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	id := store.Create().ID

	err := store.Update(id, func(st *State) error {
		parts, err := st.PartitionsToProcess(job)
		if err != nil || len(parts) != 1 || parts[0] != "2025-07-25" {
			t.Fatalf("default partitions=%v err=%v, want failed partition only", parts, err)
		}
		if got := st.SetBatchSize(job, 3); got != 3 {
			t.Fatalf("SetBatchSize()=%d, want 3", got)
		}
		if got := st.SetBatchSize(job, 50); got != 4 {
			t.Fatalf("SetBatchSize(50)=%d, want clamp to 4", got)
		}
		st.SetBatchSize(job, 2)

		sel := st.OpenSelection(job)
		if got := sel.Selected(); len(got) != 2 || got[1] != "2025-07-24" {
			t.Fatalf("opened selection=%v, want failed + first missing", got)
		}
		if err := st.TogglePartition(job, "2025-07-25"); err != nil {
			t.Fatalf("TogglePartition() err=%v", err)
		}
		st.SetBatchSize(job, 4)
		parts, _ = st.PartitionsToProcess(job)
		if len(parts) != 1 || parts[0] != "2025-07-24" {
			t.Fatalf("partitions=%v, want explicit selection to win over batch size", parts)
		}
		if err := st.TogglePartition(job, "1999-01-01"); !errors.Is(err, partition.ErrUnknownPartition) {
			t.Fatalf("err=%v, want ErrUnknownPartition", err)
		}
		st.DeselectAll(job)
		if _, err := st.PartitionsToProcess(job); !errors.Is(err, partition.ErrNoPartitions) {
			t.Fatalf("err=%v, want ErrNoPartitions", err)
		}
		st.SelectAll(job)
		parts, _ = st.PartitionsToProcess(job)
		if len(parts) != 4 {
			t.Fatalf("partitions=%v, want all 4", parts)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() err=%v", err)
	}
}

func TestTriggerAndReports(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	id := store.Create().ID
	def := pipeline.Lookup(domain.PipelineTeradataDIAS)

	_ = store.Update(id, func(st *State) error {
		parts := []string{"2025-07-25", "2025-07-24"}
		if err := st.BeginTrigger(job, parts); err != nil {
			t.Fatalf("BeginTrigger() err=%v", err)
		}
		if err := st.BeginTrigger(job, parts); !errors.Is(err, ErrTriggerInFlight) {
			t.Fatalf("second BeginTrigger() err=%v, want ErrTriggerInFlight", err)
		}
		st.FinishTrigger(job, trigger.Outcome{TriggerID: "t-1", Result: domain.TriggerResult{Status: domain.JobStatusRunning, Message: "ok", Partitions: parts}})

		js, _ := st.Lookup(job.ID)
		if js.Triggered.Loading || js.Triggered.Status != domain.JobStatusRunning || js.RetriggeredCount != 2 {
			t.Fatalf("triggered=%+v count=%d", js.Triggered, js.RetriggeredCount)
		}
		if js.CurrentStep != def.StepIndex("poll_dias") || js.CurrentStepName != "Initializing" {
			t.Fatalf("step=%d %q, want failed step and Initializing", js.CurrentStep, js.CurrentStepName)
		}
		if st.Status(job) != domain.JobStatusRunning {
			t.Fatalf("Status()=%q, want RUNNING", st.Status(job))
		}

		st.ApplyReport(job, domain.StatusReport{Status: domain.JobStatusRunning, ProcessingPartitions: []string{"2025-07-24"}, CurrentStep: "file_check"})
		if js.CurrentStep != def.StepIndex("file_check") || !strings.HasPrefix(js.CurrentStepName, "Processing at ") {
			t.Fatalf("step=%d %q after running report", js.CurrentStep, js.CurrentStepName)
		}
		if len(js.ProcessingPartitions) != 1 {
			t.Fatalf("processing=%v", js.ProcessingPartitions)
		}

		st.ApplyReport(job, domain.StatusReport{Status: domain.JobStatusCompleted})
		if js.CurrentStep != len(def.Steps)-1 || js.CurrentStepName != "Completed" || js.ProcessingPartitions != nil {
			t.Fatalf("after completion: %+v", js)
		}
		if st.Status(job) != domain.JobStatusCompleted {
			t.Fatalf("Status()=%q, want COMPLETED", st.Status(job))
		}

		st.ApplyPollError(job.ID, errors.New("timeout"))
		logs := st.Logs(job.ID)
		if len(logs) == 0 || logs[0].Message != "Error fetching status: timeout" {
			t.Fatalf("logs=%v, want newest first", logs)
		}
		return nil
	})
}

func TestFailedReportRecordsFailedStep(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	id := store.Create().ID
	def := pipeline.Lookup(domain.PipelineTeradataDIAS)

	_ = store.Update(id, func(st *State) error {
		_ = st.BeginTrigger(job, []string{"2025-07-25"})
		st.FinishTrigger(job, trigger.Outcome{TriggerID: "t-1", Result: domain.TriggerResult{Status: domain.JobStatusRunning, Partitions: []string{"2025-07-25"}}})
		js, _ := st.Lookup(job.ID)
		if js.FailedStepID != "" {
			t.Fatalf("FailedStepID=%q after trigger, want empty", js.FailedStepID)
		}

		st.ApplyReport(job, domain.StatusReport{Status: domain.JobStatusFailed, CurrentStep: "verify"})
		if js.FailedStepID != "verify" || js.CurrentStep != def.StepIndex("verify") {
			t.Fatalf("FailedStepID=%q step=%d, want verify at %d", js.FailedStepID, js.CurrentStep, def.StepIndex("verify"))
		}
		if snap := st.JobSnapshot(job.ID); snap.FailedStepID != "verify" {
			t.Fatalf("snapshot FailedStepID=%q, want verify", snap.FailedStepID)
		}

		st.ApplyReport(job, domain.StatusReport{Status: domain.JobStatusFailed, CurrentStep: "nowhere"})
		if js.FailedStepID != "" {
			t.Fatalf("FailedStepID=%q for unknown step, want empty", js.FailedStepID)
		}

		_ = st.BeginTrigger(job, []string{"2025-07-25"})
		st.FinishTrigger(job, trigger.Outcome{TriggerID: "t-2", Result: domain.TriggerResult{Status: domain.JobStatusRunning, Partitions: []string{"2025-07-25"}}})
		if js, _ = st.Lookup(job.ID); js.FailedStepID != "" {
			t.Fatalf("FailedStepID=%q after retrigger, want empty", js.FailedStepID)
		}
		return nil
	})
}

func TestFinishTriggerError(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	id := store.Create().ID
	_ = store.Update(id, func(st *State) error {
		_ = st.BeginTrigger(job, []string{"2025-07-25"})
		st.FinishTrigger(job, trigger.Outcome{Result: domain.TriggerResult{Status: domain.JobStatusError, Message: "backend down"}})
		js, _ := st.Lookup(job.ID)
		if js.Triggered.Status != domain.JobStatusError || js.RetriggeredCount != 0 || js.ProcessingPartitions != nil {
			t.Fatalf("state=%+v triggered=%+v", js, js.Triggered)
		}
		if err := st.BeginTrigger(job, []string{"2025-07-25"}); err != nil {
			t.Fatalf("retry after ERROR should be allowed: %v", err)
		}
		st.AbortTrigger(job, errors.New("cancelled"))
		if js.Triggered.Loading {
			t.Fatalf("AbortTrigger should clear loading")
		}
		return nil
	})
}

func TestStoreExpiry(t *testing.T) {
	store, c := newTestStore(time.Minute)
	first := store.Create().ID
	c.t = c.t.Add(30 * time.Second)
	second := store.Create().ID

	c.t = c.t.Add(45 * time.Second)
	if _, err := store.Snapshot(first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Snapshot(first) err=%v, want ErrNotFound after idle ttl", err)
	}
	if err := store.Update(second, func(*State) error { return nil }); err != nil {
		t.Fatalf("Update(second) err=%v", err)
	}

	c.t = c.t.Add(2 * time.Minute)
	if expired := store.Sweep(); len(expired) != 1 || expired[0] != second {
		t.Fatalf("Sweep()=%v, want [%s]", expired, second)
	}
	if store.Len() != 0 {
		t.Fatalf("Len()=%d, want 0", store.Len())
	}
	if err := store.Touch(second, func(*State) {}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch() err=%v, want ErrNotFound", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	store, _ := newTestStore(0)
	id := store.Create().ID
	_ = store.Update(id, func(st *State) error {
		st.OpenSelection(job)
		return st.BeginTrigger(job, []string{"2025-07-25"})
	})

	snap, err := store.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot() err=%v", err)
	}
	if len(snap.Jobs) != 1 || !snap.Jobs[0].SelectionOpen || !snap.Jobs[0].Triggered.Loading {
		t.Fatalf("snapshot=%+v", snap)
	}
	snap.Jobs[0].Triggered.Partitions[0] = "mutated"
	again, _ := store.Snapshot(id)
	if again.Jobs[0].Triggered.Partitions[0] == "mutated" {
		t.Fatalf("snapshot shares memory with the session")
	}
	if !store.Delete(id) || store.Delete(id) {
		t.Fatalf("Delete() should report existence once")
	}
}

func TestRunJanitor(t *testing.T) {
	store, c := newTestStore(time.Millisecond)
	id := store.Create().ID
	c.t = c.t.Add(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	expired := make(chan string, 1)
	go store.RunJanitor(ctx, time.Millisecond, func(got string) { expired <- got })

	select {
	case got := <-expired:
		if got != id {
			t.Fatalf("expired=%q, want %q", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not expire the session")
	}
}

func TestLogCap(t *testing.T) {
	store, _ := newTestStore(0)
	id := store.Create().ID
	_ = store.Update(id, func(st *State) error {
		for i := 0; i < MaxLogEntries+25; i++ {
			st.ApplyPollError(job.ID, errors.New("x"))
		}
		if n := len(st.Logs(0)); n != MaxLogEntries {
			t.Fatalf("len(logs)=%d, want %d", n, MaxLogEntries)
		}
		return nil
	})
}
