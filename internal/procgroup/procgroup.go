// Package procgroup starts external tools in their own process group so a
// deadline can take down the tool and every child it spawned.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"vidpipe/internal/metrics"
)

// Terminate stops a running command. It sends SIGTERM to the process group,
// waits up to grace for waitCh to report the exit, then sends SIGKILL and
// drains waitCh. The returned error is the command's Wait result.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	recordSignal("SIGTERM", Kill(cmd, syscall.SIGTERM))

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	recordSignal("SIGKILL", Kill(cmd, syscall.SIGKILL))
	return <-waitCh
}

func recordSignal(signal string, err error) {
	switch {
	case err == nil:
		metrics.IncProcTerminate(signal, "sent")
	case errors.Is(err, ErrUnsupported):
		metrics.IncProcTerminate(signal, "unsupported")
	default:
		metrics.IncProcTerminate(signal, "error")
	}
}

// ErrUnsupported is returned by Kill on platforms without process groups.
var ErrUnsupported = errors.New("process groups unsupported")
