package domain

import "strings"

// PipelineKey identifies which ordered list of stages applies to a job.
type PipelineKey string

const (
	PipelineTeradataDIAS    PipelineKey = "TERADATA_DIAS2.0"
	PipelineTeradataINTF1   PipelineKey = "TERADATA_INTF1"
	PipelineCCBDLDora       PipelineKey = "CCBDL_DORA"
	PipelineDirectIngestion PipelineKey = "DIRECT_INGESTION"
)

// StageDescriptor is one node of a pipeline diagram. Identity is ID.
type StageDescriptor struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// PipelineDefinition is an immutable, ordered list of stages for a source system.
type PipelineDefinition struct {
	Key          PipelineKey       `json:"key"`
	Name         string            `json:"name"`
	SourceSystem string            `json:"source_system"`
	Steps        []StageDescriptor `json:"steps"`
}

// StepIndex returns the position of the step with the given id, or -1.
func (p PipelineDefinition) StepIndex(id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i, step := range p.Steps {
		if step.ID == id {
			return i
		}
	}
	return -1
}

func (p PipelineDefinition) StepIDs() []string {
	out := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		out = append(out, step.ID)
	}
	return out
}
