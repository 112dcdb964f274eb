package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/animus-labs/retrigger/internal/pipeline"
)

func pipelinesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List pipeline definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := pipeline.All()
			if a.output == "json" {
				return a.json(defs)
			}
			return a.table("KEY\tNAME\tSOURCE\tSTEPS", func(w io.Writer) {
				for _, d := range defs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", d.Key, d.Name, d.SourceSystem, len(d.Steps))
				}
			})
		},
	}
}

func resolveCmd(a *app) *cobra.Command {
	var sourceSystem, pipelineType string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the pipeline for a source system and pipeline type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := pipeline.Resolve(sourceSystem, pipelineType)
			def := pipeline.Lookup(key)
			if a.output == "json" {
				return a.json(def)
			}
			fmt.Fprintf(a.out, "%s (%s)\n", def.Key, def.Name)
			return a.table("#\tSTEP\tLABEL", func(w io.Writer) {
				for i, s := range def.Steps {
					fmt.Fprintf(w, "%d\t%s\t%s\n", i, s.ID, s.Label)
				}
			})
		},
	}
	cmd.Flags().StringVar(&sourceSystem, "source-system", "", "source system, e.g. TERADATA")
	cmd.Flags().StringVar(&pipelineType, "pipeline-type", "", "pipeline type, e.g. DIAS2.0")
	return cmd
}
