package memory

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/pipeline"
)

//go:embed jobs.yaml
var defaultSeed []byte

type seedFile struct {
	Jobs []domain.Job `yaml:"jobs"`
}

// DefaultJobs returns the built-in fixture jobs.
func DefaultJobs() ([]domain.Job, error) {
	return DecodeSeed(bytes.NewReader(defaultSeed))
}

func LoadSeedFile(path string) ([]domain.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return DecodeSeed(f)
}

// DecodeSeed parses a YAML job fixture. Unknown fields are rejected, ids must be
// unique and pipeline keys are resolved when the fixture leaves them blank.
func DecodeSeed(r io.Reader) ([]domain.Job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file seedFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return []domain.Job{}, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	seen := make(map[int64]struct{}, len(file.Jobs))
	out := make([]domain.Job, 0, len(file.Jobs))
	for i, job := range file.Jobs {
		job.Status = domain.NormalizeJobStatus(string(job.Status))
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("seed job %d: %w", i, err)
		}
		if _, dup := seen[job.ID]; dup {
			return nil, fmt.Errorf("seed job %d: duplicate id %d", i, job.ID)
		}
		seen[job.ID] = struct{}{}
		if job.PipelineKey == "" {
			job.PipelineKey = pipeline.Resolve(job.SourceSystem, job.PipelineType)
		}
		if job.MissingPartitions == nil {
			job.MissingPartitions = []string{}
		}
		out = append(out, job)
	}
	return out, nil
}
