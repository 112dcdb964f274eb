package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/platform/env"
)

const DefaultInterval = 3 * time.Second

type StatusSource interface {
	GetJobStatus(ctx context.Context, jobID int64) (domain.StatusReport, error)
}

// Update is one poll: either a report or the error fetching it.
type Update struct {
	JobID  int64
	Report domain.StatusReport
	Err    error
}

type Config struct {
	Interval time.Duration
	// MaxDuration bounds a single watch. Zero means until terminal or cancelled.
	MaxDuration time.Duration
}

func ConfigFromEnv() (Config, error) {
	interval, err := env.Duration("WATCH_INTERVAL", DefaultInterval)
	if err != nil {
		return Config{}, err
	}
	maxDuration, err := env.Duration("WATCH_MAX_DURATION", 30*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Interval: interval, MaxDuration: maxDuration}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("WATCH_INTERVAL must be positive")
	}
	if c.MaxDuration < 0 {
		return errors.New("WATCH_MAX_DURATION must be >= 0")
	}
	return nil
}

// Poll fetches the job status every interval, first after one interval, and
// hands each result to onUpdate before the next fetch. It returns the first
// terminal report. Fetch errors are passed on and polling continues.
func Poll(ctx context.Context, src StatusSource, jobID int64, interval time.Duration, logger *slog.Logger, onUpdate func(Update)) (domain.StatusReport, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.StatusReport{}, ctx.Err()
		case <-ticker.C:
		}

		report, err := src.GetJobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return domain.StatusReport{}, ctx.Err()
			}
			logger.Warn("job status poll failed", "job_id", jobID, "error", err)
			if onUpdate != nil {
				onUpdate(Update{JobID: jobID, Err: err})
			}
			continue
		}
		// A report that lands after cancel belongs to a replaced or stopped watch.
		if ctx.Err() != nil {
			return domain.StatusReport{}, ctx.Err()
		}

		if onUpdate != nil {
			onUpdate(Update{JobID: jobID, Report: report})
		}
		if report.Status.IsTerminal() {
			logger.Info("job reached terminal status", "job_id", jobID, "status", report.Status)
			return report, nil
		}
	}
}
