// Package mock is an in-process stand-in for the ingestion backend. It answers like
// the real service but decides job progress at random.
package mock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/pipeline"
	"github.com/animus-labs/retrigger/internal/platform/env"
	"github.com/animus-labs/retrigger/internal/repo"
	"github.com/animus-labs/retrigger/internal/trigger"
)

type JobLookup interface {
	GetJob(ctx context.Context, id int64) (domain.Job, error)
}

type Config struct {
	TriggerLatency time.Duration
	StatusLatency  time.Duration
	PreviewLatency time.Duration
	Seed           uint64
}

func ConfigFromEnv() (Config, error) {
	triggerLatency, err := env.Duration("MOCK_TRIGGER_LATENCY", time.Second)
	if err != nil {
		return Config{}, err
	}
	statusLatency, err := env.Duration("MOCK_STATUS_LATENCY", 800*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	previewLatency, err := env.Duration("MOCK_PREVIEW_LATENCY", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	seed, err := env.Int("MOCK_SEED", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		TriggerLatency: triggerLatency,
		StatusLatency:  statusLatency,
		PreviewLatency: previewLatency,
		Seed:           uint64(seed),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TriggerLatency < 0 || c.StatusLatency < 0 || c.PreviewLatency < 0 {
		return errors.New("mock latencies must be >= 0")
	}
	return nil
}

type Backend struct {
	jobs JobLookup
	cfg  Config
	now  func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	cursors map[int64]int
}

var _ trigger.Service = (*Backend)(nil)

// New returns a mock backend. A zero seed draws one from the runtime source.
func New(jobs JobLookup, cfg Config) (*Backend, error) {
	if jobs == nil {
		return nil, errors.New("job lookup is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Backend{
		jobs:    jobs,
		cfg:     cfg,
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cursors: map[int64]int{},
	}, nil
}

// WithClock replaces the clock used for timestamps.
func (b *Backend) WithClock(now func() time.Time) *Backend {
	b.now = now
	return b
}

func (b *Backend) TriggerJob(ctx context.Context, jobID int64, partitions []string, batchSize int) (domain.TriggerResult, error) {
	if err := sleep(ctx, b.cfg.TriggerLatency); err != nil {
		return domain.TriggerResult{}, err
	}
	job, err := b.lookup(ctx, jobID)
	if err != nil {
		return domain.TriggerResult{}, err
	}
	if len(partitions) == 0 {
		partitions = []string{job.Partition}
	}
	if batchSize < 1 {
		batchSize = 1
	}

	def := pipeline.ForJob(job)
	start := def.StepIndex(job.FailedStepID)
	if start < 0 {
		start = 0
	}
	b.mu.Lock()
	b.cursors[jobID] = start
	b.mu.Unlock()

	return domain.TriggerResult{
		JobID:      jobID,
		Status:     domain.JobStatusRunning,
		Message:    "Job triggered successfully",
		Partitions: append([]string{}, partitions...),
		BatchSize:  batchSize,
	}, nil
}

// GetJobStatus reports RUNNING or COMPLETED with equal odds. A RUNNING report
// carries one or two missing partitions as processing and advances the step.
func (b *Backend) GetJobStatus(ctx context.Context, jobID int64) (domain.StatusReport, error) {
	if err := sleep(ctx, b.cfg.StatusLatency); err != nil {
		return domain.StatusReport{}, err
	}
	job, err := b.lookup(ctx, jobID)
	if err != nil {
		return domain.StatusReport{}, err
	}
	steps := pipeline.ForJob(job).StepIDs()

	b.mu.Lock()
	defer b.mu.Unlock()

	report := domain.StatusReport{
		JobID:                jobID,
		LastUpdated:          b.now().UTC(),
		ProcessingPartitions: []string{},
	}
	if b.rng.IntN(2) == 0 {
		report.Status = domain.JobStatusRunning
		n := min(b.rng.IntN(2)+1, len(job.MissingPartitions))
		report.ProcessingPartitions = append(report.ProcessingPartitions, job.MissingPartitions[:n]...)

		cursor, ok := b.cursors[jobID]
		if ok && cursor < len(steps)-1 {
			cursor++
		}
		if !ok {
			cursor = 0
		}
		b.cursors[jobID] = cursor
		if len(steps) > 0 {
			report.CurrentStep = steps[cursor]
		}
		return report, nil
	}

	report.Status = domain.JobStatusCompleted
	if len(steps) > 0 {
		report.CurrentStep = steps[len(steps)-1]
	}
	delete(b.cursors, jobID)
	return report, nil
}

func (b *Backend) GetJobPayloadPreview(ctx context.Context, jobID int64, partitions []string) (domain.PayloadPreview, error) {
	if err := sleep(ctx, b.cfg.PreviewLatency); err != nil {
		return domain.PayloadPreview{}, err
	}
	job, err := b.lookup(ctx, jobID)
	if err != nil {
		return domain.PayloadPreview{}, err
	}
	if len(partitions) == 0 {
		partitions = []string{job.Partition}
	}
	return domain.PayloadPreview{
		TableName:    job.TableName,
		Partitions:   append([]string{}, partitions...),
		Pipeline:     job.PipelineType,
		SourceSystem: job.SourceSystem,
		Timestamp:    b.now().UTC(),
	}, nil
}

func (b *Backend) lookup(ctx context.Context, jobID int64) (domain.Job, error) {
	job, err := b.jobs.GetJob(ctx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, trigger.ErrJobNotFound
	}
	return job, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
