package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/platform/httpserver"
	"github.com/animus-labs/retrigger/internal/platform/objectstore"
	"github.com/animus-labs/retrigger/internal/platform/postgres"
	"github.com/animus-labs/retrigger/internal/repo"
	"github.com/animus-labs/retrigger/internal/repo/memory"
	repopg "github.com/animus-labs/retrigger/internal/repo/postgres"
	"github.com/animus-labs/retrigger/internal/trigger"
	"github.com/animus-labs/retrigger/internal/trigger/archive"
	"github.com/animus-labs/retrigger/internal/trigger/httpbackend"
	"github.com/animus-labs/retrigger/internal/trigger/mock"
)

// Backend is the wired set of stores and the trigger service.
type Backend struct {
	Jobs     repo.JobRepository
	History  repo.TriggerRepository
	Service  trigger.Service
	Recorder *trigger.Recorder

	// DB is nil for the memory store.
	DB *sql.DB

	cfg         Config
	objectStore *minio.Client
}

// Open connects to every dependency the config selects. Errors mean a
// dependency is unavailable; config problems are caught by ConfigFromEnv.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{cfg: cfg}

	seed, err := loadSeed(cfg.SeedFile, cfg.Store)
	if err != nil {
		return nil, err
	}

	switch cfg.Store {
	case StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		b.DB = db
		jobs := repopg.NewJobStore(db)
		for _, job := range seed {
			if err := jobs.UpsertJob(ctx, job); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("seed job %d: %w", job.ID, err)
			}
		}
		if len(seed) > 0 {
			logger.Info("seeded jobs", "count", len(seed), "file", cfg.SeedFile)
		}
		b.Jobs = jobs
		b.History = repopg.NewTriggerStore(db)
	default:
		b.Jobs = memory.NewJobStore(seed)
		b.History = memory.NewTriggerStore()
	}

	switch cfg.Trigger {
	case TriggerHTTP:
		client, err := httpbackend.New(cfg.HTTP, nil)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("trigger backend: %w", err)
		}
		b.Service = client
	default:
		backend, err := mock.New(b.Jobs, cfg.Mock)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("mock backend: %w", err)
		}
		b.Service = backend
	}

	var archiver trigger.Archiver
	if cfg.Archive {
		client, err := objectstore.NewMinIOClient(cfg.ObjectStore)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("object store client: %w", err)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = objectstore.EnsureBucket(startupCtx, client, cfg.ObjectStore)
		cancel()
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("object store: %w", err)
		}
		store, err := archive.New(client, cfg.ObjectStore.BucketPayload)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.objectStore = client
		archiver = store
	}

	b.Recorder, err = trigger.NewRecorder(b.Service, b.History, archiver, logger)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	logger.Info("backend ready",
		"store", cfg.Store,
		"trigger_backend", cfg.Trigger,
		"archive", cfg.Archive,
		"jobs_seeded", len(seed),
	)
	return b, nil
}

// ReadinessChecks covers the external dependencies in use.
func (b *Backend) ReadinessChecks() []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	if b.DB != nil {
		db := b.DB
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: httpserver.WithTimeout(750*time.Millisecond, db.PingContext),
		})
	}
	if b.objectStore != nil {
		client, cfg := b.objectStore, b.cfg.ObjectStore
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: httpserver.WithTimeout(750*time.Millisecond, func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, client, cfg)
			}),
		})
	}
	return checks
}

func (b *Backend) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

// loadSeed reads the seed file when one is configured. The memory store falls
// back to the embedded jobs; postgres is only seeded on request.
func loadSeed(path string, store StoreKind) ([]domain.Job, error) {
	if strings.TrimSpace(path) != "" {
		jobs, err := memory.LoadSeedFile(path)
		if err != nil {
			return nil, fmt.Errorf("seed file: %w", err)
		}
		return jobs, nil
	}
	if store == StorePostgres {
		return nil, nil
	}
	jobs, err := memory.DefaultJobs()
	if err != nil {
		return nil, fmt.Errorf("embedded seed: %w", err)
	}
	if len(jobs) == 0 {
		return nil, errors.New("embedded seed is empty")
	}
	return jobs, nil
}
