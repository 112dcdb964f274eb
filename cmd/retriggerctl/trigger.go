package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/partition"
	"github.com/animus-labs/retrigger/internal/platform/env"
	"github.com/animus-labs/retrigger/internal/session"
	"github.com/animus-labs/retrigger/internal/trigger"
	"github.com/animus-labs/retrigger/internal/watch"
)

// selectPartitions applies --batch-size and --partitions to a session the way
// the console does: explicit partitions replace the batch.
func selectPartitions(st *session.State, job domain.Job, batchSize int, requested []string) ([]string, error) {
	st.SetBatchSize(job, batchSize)
	if len(requested) > 0 {
		st.DeselectAll(job)
		sel := st.OpenSelection(job)
		for _, p := range requested {
			if sel.IsSelected(p) {
				continue
			}
			if err := st.TogglePartition(job, p); err != nil {
				return nil, &configError{err: err}
			}
		}
	}
	parts, err := st.PartitionsToProcess(job)
	if errors.Is(err, partition.ErrNoPartitions) {
		return nil, &configError{err: err}
	}
	return parts, err
}

func previewCmd(a *app) *cobra.Command {
	var (
		partitions []string
		batchSize  int
	)
	cmd := &cobra.Command{
		Use:   "preview <job-id>",
		Short: "Show the payload a trigger would send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, job, err := a.getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sessions := session.NewStore(0)
			sid := sessions.Create().ID
			var parts []string
			err = sessions.Update(sid, func(st *session.State) error {
				var err error
				parts, err = selectPartitions(st, job, batchSize, partitions)
				return err
			})
			if err != nil {
				return err
			}
			preview, err := b.Service.GetJobPayloadPreview(cmd.Context(), job.ID, parts)
			if err != nil {
				return fmt.Errorf("preview job %d: %w", job.ID, err)
			}
			return a.json(preview)
		},
	}
	cmd.Flags().StringSliceVar(&partitions, "partitions", nil, "partitions to include (default: batch)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1, "failed partition plus this many minus one missing partitions")
	return cmd
}

func triggerCmd(a *app) *cobra.Command {
	var (
		partitions []string
		batchSize  int
		watchJob   bool
		interval   time.Duration
		actor      string
	)
	cmd := &cobra.Command{
		Use:   "trigger <job-id>",
		Short: "Re-trigger a job and optionally watch it until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if watchJob && interval <= 0 {
				return &configError{err: errors.New("--interval must be positive")}
			}
			b, job, err := a.getJob(ctx, args[0])
			if err != nil {
				return err
			}

			sessions := session.NewStore(0)
			sid := sessions.Create().ID
			logs := &logPrinter{a: a, jobID: job.ID}

			var parts []string
			err = sessions.Update(sid, func(st *session.State) error {
				var err error
				if parts, err = selectPartitions(st, job, batchSize, partitions); err != nil {
					return err
				}
				if err := st.BeginTrigger(job, parts); err != nil {
					return err
				}
				logs.flush(st)
				return nil
			})
			if err != nil {
				return err
			}

			outcome, err := b.Recorder.Trigger(ctx, trigger.Request{
				Job:        job,
				Partitions: parts,
				BatchSize:  len(parts),
				Actor:      actor,
			})
			if err != nil {
				_ = sessions.Touch(sid, func(st *session.State) {
					st.AbortTrigger(job, err)
					logs.flush(st)
				})
				return fmt.Errorf("trigger job %d: %w", job.ID, err)
			}
			_ = sessions.Touch(sid, func(st *session.State) {
				st.FinishTrigger(job, outcome)
				logs.flush(st)
			})
			if a.output == "json" {
				if err := a.json(outcome); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(a.out, "trigger %s: %s\n", outcome.TriggerID, outcome.Result.Status)
			}

			if outcome.Result.Status == domain.JobStatusError {
				return fmt.Errorf("trigger job %d: %s", job.ID, outcome.Result.Message)
			}
			if !watchJob {
				return nil
			}

			report, err := watch.Poll(ctx, b.Service, job.ID, interval, a.logger, func(u watch.Update) {
				_ = sessions.Touch(sid, func(st *session.State) {
					if u.Err != nil {
						st.ApplyPollError(job.ID, u.Err)
					} else {
						st.ApplyReport(job, u.Report)
					}
					logs.flush(st)
				})
			})
			if err != nil {
				return fmt.Errorf("watch job %d: %w", job.ID, err)
			}
			if report.Status == domain.JobStatusCompleted || report.Status == domain.JobStatusFailed {
				if err := b.Jobs.UpdateJobStatus(ctx, job.ID, report.Status); err != nil {
					a.logger.Warn("update job status failed", "job_id", job.ID, "error", err)
				}
			}
			fmt.Fprintf(a.out, "job %d finished: %s\n", job.ID, report.Status)
			if report.Status != domain.JobStatusCompleted {
				return fmt.Errorf("job %d ended %s", job.ID, report.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&partitions, "partitions", nil, "partitions to trigger (default: batch)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1, "failed partition plus this many minus one missing partitions")
	cmd.Flags().BoolVar(&watchJob, "watch", false, "poll the job until it reaches a terminal status")
	cmd.Flags().DurationVar(&interval, "interval", watch.DefaultInterval, "poll interval for --watch")
	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "name recorded in the trigger history")
	return cmd
}

func defaultActor() string {
	if v := strings.TrimSpace(env.String("RETRIGGER_ACTOR", "")); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("USER")); v != "" {
		return v
	}
	return "retriggerctl"
}

// logPrinter writes session log lines oldest first, each once. The session
// log is bounded, so it remembers the last line rather than a count.
type logPrinter struct {
	a     *app
	jobID int64
	last  *session.LogEntry
}

func (p *logPrinter) flush(st *session.State) {
	if p.a.output == "json" {
		return
	}
	entries := st.Logs(p.jobID)
	start := len(entries) - 1
	if p.last != nil {
		for i, e := range entries {
			if e == *p.last {
				start = i - 1
				break
			}
		}
	}
	for i := start; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(p.a.errOut, "%s  %s\n", e.At.Format(time.TimeOnly), e.Message)
		p.last = &e
	}
}
