package stage

import (
	"strings"

	"github.com/animus-labs/retrigger/internal/domain"
)

// ModuleState is the render state of one system on a job's route, e.g. SOR or SFP.
type ModuleState struct {
	Module string                  `json:"module"`
	State  domain.StageRenderState `json:"state"`
}

// ParseRoute splits a route such as "SOR->SFP->AWS" into its modules.
func ParseRoute(route string) []string {
	parts := strings.Split(route, "->")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		module := strings.TrimSpace(part)
		if module == "" {
			continue
		}
		out = append(out, module)
	}
	return out
}

// ProjectRoute derives the coarse module view of a job. For RUNNING jobs module names
// the module currently processing; otherwise it names the module that failed.
func ProjectRoute(route string, status domain.JobStatus, module string) []ModuleState {
	modules := ParseRoute(route)
	out := make([]ModuleState, len(modules))
	module = strings.TrimSpace(module)
	pos := -1
	for i, m := range modules {
		out[i].Module = m
		if module != "" && m == module && pos < 0 {
			pos = i
		}
	}

	switch domain.NormalizeJobStatus(string(status)) {
	case domain.JobStatusCompleted:
		for i := range out {
			out[i].State = domain.StageCompleted
		}
	case domain.JobStatusRunning:
		for i := range out {
			switch {
			case pos >= 0 && i < pos:
				out[i].State = domain.StageCompleted
			case i == pos:
				out[i].State = domain.StageRunning
			default:
				out[i].State = domain.StagePending
			}
		}
	default:
		boundary := len(out)
		if module != "" {
			boundary = pos
		}
		for i := range out {
			switch {
			case i == pos:
				out[i].State = domain.StageFailed
			case i < boundary:
				out[i].State = domain.StageCompleted
			default:
				out[i].State = domain.StagePending
			}
		}
	}
	return out
}
