package stage

import (
	"errors"
	"strings"

	"github.com/animus-labs/retrigger/internal/domain"
)

var (
	ErrNoSteps              = errors.New("steps are required")
	ErrFailedStepUnresolved = errors.New("failed step id does not match any stage; fell back to current step index")
)

// Projection is the per-stage render state of a job together with how it was derived.
type Projection struct {
	States []domain.StageRenderState `json:"states"`
	// CurrentIndex is the stage the projection centred on after clamping, or the
	// position of the matched failed step.
	CurrentIndex int `json:"current_index"`
	// Clamped is set when the supplied index was outside the step range.
	Clamped bool `json:"clamped"`
	// IndexFallback is set for FAILED jobs whose failed step id did not match any
	// stage; the failed marker then sits on CurrentIndex, which may be stale.
	IndexFallback bool `json:"index_fallback"`
}

// Project computes the render state of every stage. The result always has the same
// length as steps and depends only on the arguments.
func Project(steps []domain.StageDescriptor, status domain.JobStatus, currentIndex int, failedStepID string) []domain.StageRenderState {
	return Explain(steps, status, currentIndex, failedStepID).States
}

// Explain is Project with derivation details.
func Explain(steps []domain.StageDescriptor, status domain.JobStatus, currentIndex int, failedStepID string) Projection {
	n := len(steps)
	if n == 0 {
		return Projection{States: []domain.StageRenderState{}}
	}

	idx, clamped := clampIndex(currentIndex, n)
	out := Projection{
		States:       make([]domain.StageRenderState, n),
		CurrentIndex: idx,
		Clamped:      clamped,
	}

	switch domain.NormalizeJobStatus(string(status)) {
	case domain.JobStatusCompleted:
		for i := range out.States {
			out.States[i] = domain.StageCompleted
		}
		out.CurrentIndex = n - 1
	case domain.JobStatusRunning:
		fillAround(out.States, idx, domain.StageRunning)
	case domain.JobStatusFailed:
		if pos := indexOf(steps, failedStepID); pos >= 0 {
			fillAround(out.States, pos, domain.StageFailed)
			out.CurrentIndex = pos
			out.Clamped = false
			break
		}
		out.IndexFallback = true
		fillAround(out.States, idx, domain.StageFailed)
	default:
		for i := range out.States {
			if i <= idx {
				out.States[i] = domain.StageActive
			} else {
				out.States[i] = domain.StagePending
			}
		}
	}
	return out
}

// ProjectChecked rejects projections that would place a failed marker by index alone.
// The projection is still returned alongside ErrFailedStepUnresolved.
func ProjectChecked(steps []domain.StageDescriptor, status domain.JobStatus, currentIndex int, failedStepID string) (Projection, error) {
	if len(steps) == 0 {
		return Projection{States: []domain.StageRenderState{}}, ErrNoSteps
	}
	p := Explain(steps, status, currentIndex, failedStepID)
	if p.IndexFallback {
		return p, ErrFailedStepUnresolved
	}
	return p, nil
}

func fillAround(states []domain.StageRenderState, pivot int, at domain.StageRenderState) {
	for i := range states {
		switch {
		case i < pivot:
			states[i] = domain.StageCompleted
		case i == pivot:
			states[i] = at
		default:
			states[i] = domain.StagePending
		}
	}
}

func clampIndex(idx, n int) (int, bool) {
	if idx < 0 {
		return 0, true
	}
	if idx >= n {
		return n - 1, true
	}
	return idx, false
}

func indexOf(steps []domain.StageDescriptor, id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i, step := range steps {
		if step.ID == id {
			return i
		}
	}
	return -1
}
