package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vidpipe/internal/api"
	"vidpipe/internal/config"
	"vidpipe/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses   []string
		entityID   string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.JobFilter{EntityID: strings.TrimSpace(entityID), Limit: limit}
			for _, value := range statuses {
				status, ok := queue.ParseJobStatus(strings.ToLower(strings.TrimSpace(value)))
				if !ok {
					return fmt.Errorf("unknown job status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				jobs, err := store.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					out := make([]api.Job, 0, len(jobs))
					for _, job := range jobs {
						out = append(out, api.FromJob(job))
					}
					return writeJSON(cmd, out)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, running, succeeded, failed)")
	cmd.Flags().StringVar(&entityID, "entity", "", "Only show jobs of this entity")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderJobs(jobs []*queue.Job, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.EntityID,
			string(job.Kind),
			paint(string(job.Status), colorize),
			strconv.Itoa(job.Attempts),
			formatTimestamp(job.UpdatedAt),
			dash(truncate(job.LastError, 60)),
		})
	}
	return renderTable([]column{
		{Header: "ID", AlignRight: true},
		{Header: "Entity"},
		{Header: "Kind"},
		{Header: "Status"},
		{Header: "Attempts", AlignRight: true},
		{Header: "Updated"},
		{Header: "Last Error"},
	}, rows)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Re-queue failed jobs (all failed jobs when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				if count == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed jobs to retry")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %d job(s)\n", count)
				return nil
			})
		},
	}
}
