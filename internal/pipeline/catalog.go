package pipeline

import (
	"strings"

	"github.com/animus-labs/retrigger/internal/domain"
)

var (
	stepIdentify   = domain.StageDescriptor{ID: "identify", Label: "Identify Job", Description: "Identify job type based on dataset characteristics"}
	stepFileCheck  = domain.StageDescriptor{ID: "file_check", Label: "File Check SFP", Description: "Verify files in SFP layer"}
	stepPrepareAWS = domain.StageDescriptor{ID: "prepare_aws", Label: "Prepare AWS", Description: "Prepare SFP to AWS payload"}
	stepTriggerAWS = domain.StageDescriptor{ID: "trigger_aws", Label: "Trigger AWS", Description: "Trigger AWS ingestion job"}
	stepPollAWS    = domain.StageDescriptor{ID: "poll_aws", Label: "Poll AWS", Description: "Monitor AWS job progress"}
	stepVerify     = domain.StageDescriptor{ID: "verify", Label: "Verify", Description: "Verify dataset is loaded successfully"}
)

// definitions is ordered; Keys returns keys in this order.
var definitions = []domain.PipelineDefinition{
	{
		Key:          domain.PipelineTeradataDIAS,
		Name:         "TERADATA to AWS via DIAS2.0",
		SourceSystem: "TERADATA",
		Steps: []domain.StageDescriptor{
			{ID: "source", Label: "TERADATA", Description: "Source data from TERADATA database"},
			stepIdentify,
			{ID: "prepare_dias", Label: "Prepare DIAS2.0", Description: "Prepare payload for DIAS2.0 processing"},
			{ID: "trigger_dias", Label: "Trigger DIAS2.0", Description: "Trigger job in DIAS2.0 system"},
			{ID: "poll_dias", Label: "Poll DIAS2.0", Description: "Monitor DIAS2.0 job progress"},
			stepFileCheck,
			stepPrepareAWS,
			stepTriggerAWS,
			stepPollAWS,
			stepVerify,
		},
	},
	{
		Key:          domain.PipelineTeradataINTF1,
		Name:         "TERADATA to AWS via INTF1",
		SourceSystem: "TERADATA",
		Steps: []domain.StageDescriptor{
			{ID: "source", Label: "TERADATA", Description: "Source data from TERADATA database"},
			stepIdentify,
			{ID: "prepare_intf1", Label: "Prepare INTF1", Description: "Prepare payload for INTF1 processing"},
			{ID: "trigger_intf1", Label: "Trigger INTF1", Description: "Trigger job in INTF1 system"},
			{ID: "poll_intf1", Label: "Poll INTF1", Description: "Monitor INTF1 job progress"},
			stepFileCheck,
			stepPrepareAWS,
			stepTriggerAWS,
			stepPollAWS,
			stepVerify,
		},
	},
	{
		Key:          domain.PipelineCCBDLDora,
		Name:         "CCBDL to AWS via DORA",
		SourceSystem: "CCBDL",
		Steps: []domain.StageDescriptor{
			{ID: "source", Label: "CCBDL", Description: "Source data from CCBDL system"},
			stepIdentify,
			{ID: "prepare_dora", Label: "Prepare DORA", Description: "Prepare CCBDL to DORA payload"},
			{ID: "trigger_ingestion", Label: "Trigger Ingestion", Description: "Trigger ingestion in DORA"},
			{ID: "poll_ingestion", Label: "Poll Ingestion", Description: "Monitor ingestion job progress"},
			{ID: "prepare_truncation", Label: "Prepare Truncation", Description: "Prepare payload for truncation"},
			{ID: "trigger_truncation", Label: "Trigger Truncation", Description: "Trigger truncation job"},
			{ID: "poll_truncation", Label: "Poll Truncation", Description: "Monitor truncation job progress"},
			stepVerify,
		},
	},
	{
		Key:          domain.PipelineDirectIngestion,
		Name:         "Direct Ingestion to AWS",
		SourceSystem: "Generic",
		Steps: []domain.StageDescriptor{
			{ID: "source", Label: "Dataset", Description: "Source dataset"},
			stepIdentify,
			{ID: "prepare_ingestion", Label: "Prepare Ingestion", Description: "Prepare ingestion payload"},
			{ID: "trigger_ingestion", Label: "Trigger Ingestion", Description: "Trigger ingestion job"},
			{ID: "poll_ingestion", Label: "Poll Ingestion", Description: "Monitor ingestion job progress"},
			stepVerify,
		},
	},
}

// DefaultKey is used whenever a key cannot be resolved.
const DefaultKey = domain.PipelineDirectIngestion

// Resolve selects a pipeline key from the source system and pipeline type.
// Rules are evaluated in order and the first match wins.
func Resolve(sourceSystem, pipelineType string) domain.PipelineKey {
	source := strings.ToUpper(strings.TrimSpace(sourceSystem))
	switch {
	case source == "TERADATA" && strings.Contains(pipelineType, "DIAS2.0"):
		return domain.PipelineTeradataDIAS
	case source == "TERADATA" && strings.Contains(pipelineType, "INTF1"):
		return domain.PipelineTeradataINTF1
	case source == "CCBDL" || strings.Contains(pipelineType, "DORA"):
		return domain.PipelineCCBDLDora
	default:
		return DefaultKey
	}
}

// Lookup returns the definition for key. Unknown keys degrade to the direct
// ingestion definition.
func Lookup(key domain.PipelineKey) domain.PipelineDefinition {
	if def, ok := find(key); ok {
		return clone(def)
	}
	def, _ := find(DefaultKey)
	return clone(def)
}

// ParseKey maps a stored key string to a known key.
func ParseKey(value string) (domain.PipelineKey, bool) {
	key := domain.PipelineKey(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := find(key); ok {
		return key, true
	}
	return "", false
}

// Keys returns all known keys in catalog order.
func Keys() []domain.PipelineKey {
	out := make([]domain.PipelineKey, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def.Key)
	}
	return out
}

// All returns copies of every definition in catalog order.
func All() []domain.PipelineDefinition {
	out := make([]domain.PipelineDefinition, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, clone(def))
	}
	return out
}

// KeyForJob prefers a stored key and falls back to resolving from the job's source
// system and pipeline type.
func KeyForJob(job domain.Job) domain.PipelineKey {
	if key, ok := ParseKey(string(job.PipelineKey)); ok {
		return key
	}
	return Resolve(job.SourceSystem, job.PipelineType)
}

func ForJob(job domain.Job) domain.PipelineDefinition {
	return Lookup(KeyForJob(job))
}

func find(key domain.PipelineKey) (domain.PipelineDefinition, bool) {
	for _, def := range definitions {
		if def.Key == key {
			return def, true
		}
	}
	return domain.PipelineDefinition{}, false
}

func clone(def domain.PipelineDefinition) domain.PipelineDefinition {
	steps := make([]domain.StageDescriptor, len(def.Steps))
	copy(steps, def.Steps)
	def.Steps = steps
	return def
}
