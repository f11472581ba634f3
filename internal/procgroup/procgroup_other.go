//go:build !unix

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set is a no-op where process groups are unavailable.
func Set(cmd *exec.Cmd) {}

// Kill falls back to killing the direct child only.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	return ErrUnsupported
}
