package backend

import (
	"fmt"
	"strings"

	"github.com/animus-labs/retrigger/internal/platform/env"
	"github.com/animus-labs/retrigger/internal/platform/objectstore"
	"github.com/animus-labs/retrigger/internal/platform/postgres"
	"github.com/animus-labs/retrigger/internal/trigger/httpbackend"
	"github.com/animus-labs/retrigger/internal/trigger/mock"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
)

type TriggerKind string

const (
	TriggerMock TriggerKind = "mock"
	TriggerHTTP TriggerKind = "http"
)

// Config selects where jobs live and which ingestion backend re-runs them. Only
// the sub-config of the selected kind is loaded.
type Config struct {
	Store    StoreKind
	Trigger  TriggerKind
	SeedFile string
	Archive  bool

	Postgres    postgres.Config
	ObjectStore objectstore.Config
	HTTP        httpbackend.Config
	Mock        mock.Config
}

func ConfigFromEnv() (Config, error) {
	archive, err := env.Bool("RETRIGGER_ARCHIVE_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Store:    StoreKind(strings.ToLower(env.String("RETRIGGER_STORE", string(StoreMemory)))),
		Trigger:  TriggerKind(strings.ToLower(env.String("RETRIGGER_TRIGGER_BACKEND", string(TriggerMock)))),
		SeedFile: env.String("RETRIGGER_SEED_FILE", ""),
		Archive:  archive,
	}
	if err := cfg.validateKinds(); err != nil {
		return Config{}, err
	}

	if cfg.Store == StorePostgres {
		if cfg.Postgres, err = postgres.ConfigFromEnv(); err != nil {
			return Config{}, fmt.Errorf("database config: %w", err)
		}
	}
	if cfg.Archive {
		if cfg.ObjectStore, err = objectstore.ConfigFromEnv(); err != nil {
			return Config{}, fmt.Errorf("object store config: %w", err)
		}
	}
	switch cfg.Trigger {
	case TriggerHTTP:
		if cfg.HTTP, err = httpbackend.ConfigFromEnv(); err != nil {
			return Config{}, fmt.Errorf("trigger backend config: %w", err)
		}
	case TriggerMock:
		if cfg.Mock, err = mock.ConfigFromEnv(); err != nil {
			return Config{}, fmt.Errorf("mock backend config: %w", err)
		}
	}
	return cfg, nil
}

func (c Config) validateKinds() error {
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("RETRIGGER_STORE must be one of memory, postgres (got %q)", c.Store)
	}
	switch c.Trigger {
	case TriggerMock, TriggerHTTP:
	default:
		return fmt.Errorf("RETRIGGER_TRIGGER_BACKEND must be one of mock, http (got %q)", c.Trigger)
	}
	return nil
}

// Validate checks the selected kinds and their sub-configs.
func (c Config) Validate() error {
	if err := c.validateKinds(); err != nil {
		return err
	}
	if c.Store == StorePostgres {
		if err := c.Postgres.Validate(); err != nil {
			return fmt.Errorf("database config: %w", err)
		}
	}
	if c.Archive {
		if err := c.ObjectStore.Validate(); err != nil {
			return fmt.Errorf("object store config: %w", err)
		}
	}
	switch c.Trigger {
	case TriggerHTTP:
		if err := c.HTTP.Validate(); err != nil {
			return fmt.Errorf("trigger backend config: %w", err)
		}
	case TriggerMock:
		if err := c.Mock.Validate(); err != nil {
			return fmt.Errorf("mock backend config: %w", err)
		}
	}
	return nil
}
