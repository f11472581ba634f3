package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vidpipe/internal/api"
	"vidpipe/internal/layout"
	"vidpipe/internal/pipeline"
	"vidpipe/internal/queue"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <entity-id> <source>",
		Short: "Register an uploaded file and enqueue its transcoding jobs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := filepath.Abs(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			return ctx.withPipeline(func(pipe *pipeline.Pipeline) error {
				entity, err := pipe.OnUpload(cmd.Context(), strings.TrimSpace(args[0]), source)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Entity %s queued with %d jobs (%s)\n",
					entity.ID, len(entity.Artifacts), statusLabel(string(entity.Status)))
				return nil
			})
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity-id>",
		Short: "Delete an entity and every artifact derived from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withPipeline(func(pipe *pipeline.Pipeline) error {
				if err := pipe.OnDelete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Entity %s deleted\n", id)
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <entity-id>",
		Short: "Show an entity and the state of its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPipeline(func(pipe *pipeline.Pipeline) error {
				entity, err := pipe.Entity(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, api.FromEntity(entity))
				}
				fmt.Fprint(cmd.OutOrStdout(), renderEntity(entity, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderEntity(entity *queue.Entity, colorize bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity:  %s\n", entity.ID)
	fmt.Fprintf(&b, "Status:  %s\n", paint(string(entity.Status), colorize))
	fmt.Fprintf(&b, "Source:  %s\n", entity.SourcePath)
	fmt.Fprintf(&b, "Updated: %s\n", formatTimestamp(entity.UpdatedAt))
	if entity.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:   %s\n", entity.ErrorMessage)
	}

	rows := make([][]string, 0, len(entity.Artifacts))
	for _, kind := range layout.AllKinds() {
		artifact, ok := entity.Artifacts[kind]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			string(kind),
			paint(string(artifact.State), colorize),
			dash(artifact.Path),
			dash(artifact.Error),
		})
	}
	b.WriteString(renderTable([]column{
		{Header: "Kind"},
		{Header: "State"},
		{Header: "Path"},
		{Header: "Error"},
	}, rows))
	b.WriteString("\n")
	return b.String()
}
