package stage

import (
	"reflect"
	"testing"

	"github.com/animus-labs/retrigger/internal/domain"
)

func TestParseRoute(t *testing.T) {
	got := ParseRoute(" SOR -> SFP->AWS ->")
	want := []string{"SOR", "SFP", "AWS"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseRoute()=%v, want %v", got, want)
	}
}

func TestProjectRoute(t *testing.T) {
	tests := []struct {
		name   string
		route  string
		status domain.JobStatus
		module string
		want   []domain.StageRenderState
	}{
		{name: "completed", route: "SOR->SFP->AWS", status: domain.JobStatusCompleted, module: "SFP", want: []domain.StageRenderState{c, c, c}},
		{name: "running at sfp", route: "SOR->SFP->AWS", status: domain.JobStatusRunning, module: "SFP", want: []domain.StageRenderState{c, r, p}},
		{name: "running unknown module", route: "SOR->AWS", status: domain.JobStatusRunning, module: "", want: []domain.StageRenderState{p, p}},
		{name: "failed at aws", route: "SOR->SFP->AWS", status: domain.JobStatusFailed, module: "AWS", want: []domain.StageRenderState{c, c, f}},
		{name: "failed without module", route: "SOR->AWS", status: domain.JobStatusFailed, module: "", want: []domain.StageRenderState{c, c}},
		{name: "failed module off route", route: "SOR->AWS", status: domain.JobStatusFailed, module: "SFP", want: []domain.StageRenderState{p, p}},
	}
	for _, tc := range tests {
		got := ProjectRoute(tc.route, tc.status, tc.module)
		states := make([]domain.StageRenderState, 0, len(got))
		for _, m := range got {
			states = append(states, m.State)
		}
		if !reflect.DeepEqual(states, tc.want) {
			t.Fatalf("%s: ProjectRoute()=%v, want %v", tc.name, states, tc.want)
		}
	}
}
