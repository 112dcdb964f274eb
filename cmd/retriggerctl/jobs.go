package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/execution/stage"
	"github.com/animus-labs/retrigger/internal/partition"
	"github.com/animus-labs/retrigger/internal/pipeline"
	"github.com/animus-labs/retrigger/internal/repo"
)

func jobsCmd(a *app) *cobra.Command {
	var (
		status string
		table  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repo.JobFilter{TableName: strings.TrimSpace(table), Limit: limit}
			if strings.TrimSpace(status) != "" {
				filter.Status = domain.NormalizeJobStatus(status)
				if filter.Status == "" {
					return &configError{err: fmt.Errorf("unknown status %q", status)}
				}
			}
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := b.Jobs.ListJobs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if a.output == "json" {
				return a.json(jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(a.out, "No jobs.")
				return nil
			}
			return a.table("ID\tTABLE\tPARTITION\tSTATUS\tPIPELINE\tMISSING\tERROR", func(w io.Writer) {
				for _, j := range jobs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n", j.ID, j.TableName, j.Partition, j.Status, pipeline.KeyForJob(j), len(j.MissingPartitions), j.ErrorMessage)
				}
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status")
	cmd.Flags().StringVar(&table, "table", "", "only jobs for this table")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs (default 100)")
	return cmd
}

func stagesCmd(a *app) *cobra.Command {
	var (
		status      string
		currentStep int
		module      string
	)
	cmd := &cobra.Command{
		Use:   "stages <job-id>",
		Short: "Show the stage diagram of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, job, err := a.getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st := job.Status
			if strings.TrimSpace(status) != "" {
				if st = domain.NormalizeJobStatus(status); st == "" {
					return &configError{err: fmt.Errorf("unknown status %q", status)}
				}
			}
			def := pipeline.ForJob(job)
			idx := currentStep
			if !cmd.Flags().Changed("current-step") {
				idx = max(def.StepIndex(job.FailedStepID), 0)
			}

			projection, perr := stage.ProjectChecked(def.Steps, st, idx, job.FailedStepID)
			if perr != nil {
				fmt.Fprintf(a.errOut, "warning: %v (step %d)\n", perr, projection.CurrentIndex)
			}
			var route []stage.ModuleState
			if strings.TrimSpace(job.Route) != "" {
				route = stage.ProjectRoute(job.Route, st, strings.TrimSpace(module))
			}

			if a.output == "json" {
				return a.json(map[string]any{
					"job_id":     job.ID,
					"status":     st,
					"pipeline":   def.Key,
					"steps":      def.Steps,
					"projection": projection,
					"route":      route,
				})
			}
			fmt.Fprintf(a.out, "%s (%s) status=%s\n", def.Name, def.Key, st)
			err = a.table("#\tSTEP\tLABEL\tSTATE", func(w io.Writer) {
				for i, s := range def.Steps {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, s.ID, s.Label, projection.States[i])
				}
			})
			if err != nil || len(route) == 0 {
				return err
			}
			parts := make([]string, 0, len(route))
			for _, m := range route {
				parts = append(parts, fmt.Sprintf("%s[%s]", m.Module, m.State))
			}
			fmt.Fprintf(a.out, "route: %s\n", strings.Join(parts, " -> "))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status to project (default: the job's status)")
	cmd.Flags().IntVar(&currentStep, "current-step", 0, "current step index (default: the failed step)")
	cmd.Flags().StringVar(&module, "module", "", "route module that is running or failed, e.g. SFP")
	return cmd
}

func timelineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <job-id>",
		Short: "Show the job's partitions grouped by month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, job, err := a.getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			groups := partition.Timeline(job.Partition, job.MissingPartitions, nil)
			if a.output == "json" {
				return a.json(groups)
			}
			for _, g := range groups {
				fmt.Fprintf(a.out, "%s\n", g.Month)
				for _, e := range g.Partitions {
					fmt.Fprintf(a.out, "  %s  %s\n", e.Display, e.Status)
				}
			}
			return nil
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <job-id>",
		Short: "Show recorded triggers of a job, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, job, err := a.getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			records, err := b.Recorder.History(cmd.Context(), job.ID, limit)
			if err != nil {
				return fmt.Errorf("list triggers: %w", err)
			}
			if a.output == "json" {
				return a.json(records)
			}
			if len(records) == 0 {
				fmt.Fprintln(a.out, "No triggers recorded.")
				return nil
			}
			return a.table("TRIGGER\tAT\tSTATUS\tPARTITIONS\tACTOR\tMESSAGE", func(w io.Writer) {
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, strings.Join(r.Partitions, ","), r.Actor, r.Message)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of triggers")
	return cmd
}
