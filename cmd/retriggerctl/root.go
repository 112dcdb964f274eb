package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/animus-labs/retrigger/internal/backend"
	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/repo"
)

// configError marks failures the operator fixes by changing flags or env.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

type app struct {
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger

	seedFile string
	output   string

	// open builds the backend on first use. Tests swap it out.
	open    func(ctx context.Context, a *app) (*backend.Backend, error)
	backend *backend.Backend
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		logger: slog.New(slog.NewJSONHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn})),
		open:   openFromEnv,
	}
}

func openFromEnv(ctx context.Context, a *app) (*backend.Backend, error) {
	cfg, err := backend.ConfigFromEnv()
	if err != nil {
		return nil, &configError{err: err}
	}
	if strings.TrimSpace(a.seedFile) != "" {
		cfg.SeedFile = a.seedFile
	}
	return backend.Open(ctx, cfg, a.logger)
}

func (a *app) load(ctx context.Context) (*backend.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	b, err := a.open(ctx, a)
	if err != nil {
		return nil, err
	}
	a.backend = b
	return b, nil
}

func (a *app) close() {
	if a.backend != nil {
		_ = a.backend.Close()
		a.backend = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "retriggerctl",
		Short:         "Inspect and re-trigger failed ingestion jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch a.output {
			case "table", "json":
				return nil
			default:
				return &configError{err: fmt.Errorf("unknown output format %q (table, json)", a.output)}
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.PersistentFlags().StringVar(&a.seedFile, "seed", "", "YAML job seed file (overrides RETRIGGER_SEED_FILE)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "output format: table or json")

	root.AddCommand(
		jobsCmd(a),
		stagesCmd(a),
		timelineCmd(a),
		historyCmd(a),
		pipelinesCmd(a),
		resolveCmd(a),
		previewCmd(a),
		triggerCmd(a),
	)
	return root
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &configError{err: fmt.Errorf("invalid job id %q", raw)}
	}
	return id, nil
}

func (a *app) getJob(ctx context.Context, raw string) (*backend.Backend, domain.Job, error) {
	id, err := parseJobID(raw)
	if err != nil {
		return nil, domain.Job{}, err
	}
	b, err := a.load(ctx)
	if err != nil {
		return nil, domain.Job{}, err
	}
	job, err := b.Jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, domain.Job{}, fmt.Errorf("job %d not found", id)
		}
		return nil, domain.Job{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return b, job, nil
}

func (a *app) json(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) table(header string, rows func(w io.Writer)) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	return tw.Flush()
}
