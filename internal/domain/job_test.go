package domain

import (
	"errors"
	"testing"
)

func TestNormalizeJobStatus(t *testing.T) {
	tests := []struct {
		in   string
		want JobStatus
	}{
		{in: "FAILED", want: JobStatusFailed},
		{in: " running ", want: JobStatusRunning},
		{in: "Completed", want: JobStatusCompleted},
		{in: "error", want: JobStatusError},
		{in: "pending", want: JobStatusPending},
		{in: "TRIGGERING", want: ""},
		{in: "", want: ""},
	}
	for _, tc := range tests {
		if got := NormalizeJobStatus(tc.in); got != tc.want {
			t.Fatalf("NormalizeJobStatus(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusPending:   false,
		JobStatusRunning:   false,
		JobStatusFailed:    true,
		JobStatusCompleted: true,
		JobStatusError:     true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal()=%v, want %v", status, got, want)
		}
	}
}

func TestJobValidate(t *testing.T) {
	valid := Job{
		ID:                1,
		TableName:         "customer_data",
		Partition:         "2025-07-25",
		Status:            JobStatusFailed,
		FailedStepID:      "poll_dias",
		MissingPartitions: []string{"2025-07-24"},
	}
	if err := valid.ValidateStrict(); err != nil {
		t.Fatalf("ValidateStrict() err=%v", err)
	}

	noStep := valid
	noStep.FailedStepID = ""
	if err := noStep.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if err := noStep.ValidateStrict(); !errors.Is(err, ErrFailedStepRequired) {
		t.Fatalf("ValidateStrict() err=%v, want ErrFailedStepRequired", err)
	}

	badStatus := valid
	badStatus.Status = "TRIGGERING"
	if err := badStatus.Validate(); err == nil {
		t.Fatalf("expected error for unsupported status")
	}

	emptyMissing := valid
	emptyMissing.MissingPartitions = []string{" "}
	if err := emptyMissing.Validate(); err == nil {
		t.Fatalf("expected error for empty missing partition")
	}
}

func TestJobAllPartitions(t *testing.T) {
	job := Job{Partition: "2025-07-25", MissingPartitions: []string{"2025-07-24", "2025-07-23"}}
	got := job.AllPartitions()
	want := []string{"2025-07-25", "2025-07-24", "2025-07-23"}
	if len(got) != len(want) {
		t.Fatalf("AllPartitions()=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AllPartitions()[%d]=%q, want %q", i, got[i], want[i])
		}
	}
}

func TestPipelineDefinitionStepIndex(t *testing.T) {
	def := PipelineDefinition{Steps: []StageDescriptor{{ID: "source"}, {ID: "identify"}, {ID: "verify"}}}
	if got := def.StepIndex("identify"); got != 1 {
		t.Fatalf("StepIndex(identify)=%d, want 1", got)
	}
	if got := def.StepIndex("missing"); got != -1 {
		t.Fatalf("StepIndex(missing)=%d, want -1", got)
	}
	if got := def.StepIndex(""); got != -1 {
		t.Fatalf("StepIndex(\"\")=%d, want -1", got)
	}
}
