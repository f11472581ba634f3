// Package ffmpeg runs ffmpeg invocations in their own process group and maps
// their outcome onto the services error taxonomy.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/procgroup"
	"vidpipe/internal/services"
)

const (
	stderrLines     = 64
	stderrTailLines = 8
)

// Invocation describes one ffmpeg run.
type Invocation struct {
	Component string
	Operation string
	Args      []string
	// FailureMarker classifies a non-zero exit, e.g. services.ErrEncodingFailed.
	FailureMarker error
}

// ExitError carries the exit code and stderr tail of a failed run.
type ExitError struct {
	Code   int
	Stderr []string
}

func (e *ExitError) Error() string {
	tail := e.Stderr
	if len(tail) > stderrTailLines {
		tail = tail[len(tail)-stderrTailLines:]
	}
	if len(tail) == 0 {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, strings.Join(tail, " | "))
}

// Runner executes ffmpeg.
type Runner struct {
	binary    string
	killGrace time.Duration
	logger    *slog.Logger
}

// NewRunner builds a Runner. An empty binary defaults to "ffmpeg".
func NewRunner(binary string, killGrace time.Duration, logger *slog.Logger) *Runner {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Runner{binary: binary, killGrace: killGrace, logger: logging.NewComponentLogger(logger, "ffmpeg")}
}

// Binary returns the executable the runner invokes.
func (r *Runner) Binary() string { return r.binary }

// Run executes the invocation and blocks until the process exits or ctx ends.
//
// Outcomes:
//   - exit 0: nil
//   - non-zero exit: inv.FailureMarker wrapping *ExitError
//   - start failure: services.ErrTransient
//   - ctx deadline: services.ErrTimeout after the process group is killed
//   - ctx cancellation: services.ErrTransient wrapping context.Canceled
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	marker := inv.FailureMarker
	if marker == nil {
		marker = services.ErrExternalTool
	}
	ring := NewLineRing(stderrLines)

	cmd := exec.Command(r.binary, inv.Args...)
	cmd.Stderr = ring
	procgroup.Set(cmd)

	logger := logging.WithContext(ctx, r.logger)
	logger.Debug("ffmpeg starting", logging.String("operation", inv.Operation), logging.String("args", strings.Join(inv.Args, " ")))

	if err := cmd.Start(); err != nil {
		metrics.RecordToolExit("ffmpeg", "spawn_error")
		return services.Wrap(services.ErrTransient, inv.Component, inv.Operation, "start "+r.binary, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		return r.classifyExit(inv, marker, ring, err)
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, r.killGrace)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.RecordToolExit("ffmpeg", "timeout")
			logging.WarnWithContext(logger, "ffmpeg deadline exceeded; process group killed", "ffmpeg_timeout",
				logging.String("operation", inv.Operation),
				logging.String(logging.FieldErrorHint, "raise ffmpeg timeouts for long sources"),
			)
			return services.Wrap(services.ErrTimeout, inv.Component, inv.Operation, "deadline exceeded", ctx.Err())
		}
		metrics.RecordToolExit("ffmpeg", "canceled")
		return services.Wrap(services.ErrTransient, inv.Component, inv.Operation, "canceled", ctx.Err())
	}
}

func (r *Runner) classifyExit(inv Invocation, marker error, ring *LineRing, err error) error {
	if err == nil {
		metrics.RecordToolExit("ffmpeg", "ok")
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		metrics.RecordToolExit("ffmpeg", "nonzero")
		return services.Wrap(marker, inv.Component, inv.Operation, "ffmpeg failed", &ExitError{
			Code:   exitErr.ExitCode(),
			Stderr: ring.Lines(),
		})
	}
	metrics.RecordToolExit("ffmpeg", "wait_error")
	return services.Wrap(services.ErrTransient, inv.Component, inv.Operation, "wait for ffmpeg", err)
}
