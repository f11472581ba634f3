package preflight

import (
	"context"

	"vidpipe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable filesystem and database checks.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Media root", cfg.Paths.MediaRoot),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.Ingest.WatchEnabled {
		results = append(results, CheckDirectoryAccess("Watch directory", cfg.Paths.WatchDir))
	}
	if results[0].Passed {
		results = append(results, CheckFreeSpace("Media root space", cfg.Paths.MediaRoot, MinFreeBytes))
	}
	results = append(results, CheckQueueDatabase(ctx, cfg))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
