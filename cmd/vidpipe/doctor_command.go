package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vidpipe/internal/config"
	"vidpipe/internal/preflight"
	"vidpipe/internal/queue"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check dependencies, directories, the queue database and the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			depRows := [][]string{}
			missing := 0
			for _, status := range preflight.CheckSystemDeps(cmd.Context(), cfg) {
				state := "ok"
				switch {
				case !status.Available && status.Optional:
					state = "optional"
				case !status.Available:
					state = "missing"
					missing++
				}
				depRows = append(depRows, []string{
					status.Name,
					paint(state, colorize),
					status.Command,
					dash(firstNonEmpty(status.Version, status.Detail)),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Header: "Dependency"},
				{Header: "Status"},
				{Header: "Command"},
				{Header: "Detail"},
			}, depRows))

			results := preflight.RunAll(cmd.Context(), cfg)
			results = append(results, preflight.CheckAPI(cmd.Context(), cfg.API.Bind))
			checkRows := make([][]string, 0, len(results))
			for _, r := range results {
				state := "ok"
				if !r.Passed {
					state = "failed"
				}
				checkRows = append(checkRows, []string{r.Name, paint(state, colorize), r.Detail})
			}
			fmt.Fprintln(out, renderTable([]column{
				{Header: "Check"},
				{Header: "Status"},
				{Header: "Detail"},
			}, checkRows))

			if err := ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderQueueSummary(summary))
				return nil
			}); err != nil {
				return fmt.Errorf("queue summary: %w", err)
			}

			// The daemon not running is informational; only hard failures count.
			failed := 0
			for _, r := range preflight.Failed(results) {
				if r.Name != "Event API" {
					failed++
				}
			}
			if missing > 0 || failed > 0 {
				return errors.New("doctor found problems; see the tables above")
			}
			return nil
		},
	}
}

func renderQueueSummary(summary queue.HealthSummary) string {
	rows := [][]string{}
	for _, status := range []queue.EntityStatus{
		queue.EntityUploaded, queue.EntityProcessing, queue.EntityReady,
		queue.EntityPartiallyFailed, queue.EntityFailed,
	} {
		rows = append(rows, []string{"Entities", statusLabel(string(status)), fmt.Sprint(summary.Entities[status])})
	}
	for _, status := range queue.AllJobStatuses() {
		rows = append(rows, []string{"Jobs", statusLabel(string(status)), fmt.Sprint(summary.Jobs[status])})
	}
	rows = append(rows,
		[]string{"Tombstones", "Deleted", fmt.Sprint(summary.Deleted)},
		[]string{"Tombstones", "Cleanup Pending", fmt.Sprint(summary.CleanupPending)},
	)
	return renderTable([]column{
		{Header: "Queue"},
		{Header: "State"},
		{Header: "Count", AlignRight: true},
	}, rows)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
