//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestKillTerminatesWholeGroup(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & sleep 30")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	pgid, err := unix.Getpgid(pid)
	if err != nil {
		t.Fatalf("getpgid: %v", err)
	}
	if pgid != pid {
		t.Fatalf("expected process to lead its group, pgid=%d pid=%d", pgid, pid)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	err = Terminate(cmd, waitCh, 2*time.Second)
	if err == nil {
		t.Fatal("expected signal exit error")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T: %v", err, err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("terminate took too long: %s", time.Since(start))
	}
}

func TestKillIgnoresExitedProcess(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	Set(cmd)
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := Kill(cmd, syscall.SIGTERM); err != nil {
		t.Fatalf("Kill on exited process: %v", err)
	}
}

func TestTerminateNilCommand(t *testing.T) {
	if err := Terminate(nil, nil, time.Second); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
