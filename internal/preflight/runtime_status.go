package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"vidpipe/internal/config"
	"vidpipe/internal/queue"
)

// CheckQueueDatabase opens the queue database and verifies schema and integrity.
func CheckQueueDatabase(ctx context.Context, cfg *config.Config) Result {
	const name = "Queue database"

	store, err := queue.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.QueueDBPath(), err)}
	}
	defer store.Close()

	health, err := store.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", health.DBPath, err)}
	}
	switch {
	case health.Error != "":
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", health.DBPath, health.Error)}
	case len(health.MissingTables) > 0:
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing tables: %s)", health.DBPath, strings.Join(health.MissingTables, ", "))}
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: fmt.Sprintf("%s (integrity check failed)", health.DBPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema v%d)", health.DBPath, health.SchemaVersion)}
}

// CheckAPI reports whether a daemon is answering on the configured bind address.
func CheckAPI(ctx context.Context, bind string) Result {
	const name = "Event API"

	bind = strings.TrimSpace(bind)
	if bind == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, "http://"+dialAddress(bind)+"/healthz", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid bind %q (%v)", bind, err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("not reachable on %s", bind)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("unhealthy (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("daemon answering on %s", bind)}
}

// dialAddress turns a wildcard listen address into one a client can dial.
func dialAddress(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
