// Package daemonctl is the control path the CLI uses to launch, inspect, and
// stop a nori watch daemon running in another process.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"nori/internal/daemon"
)

// ErrNotRunning indicates no live daemon owns the PID file.
var ErrNotRunning = errors.New("nori watch is not running")

// LaunchOptions controls background daemon launch.
type LaunchOptions struct {
	ConfigPath string
	Agent      string
	LogLevel   string
}

// Launch starts a detached `watch --foreground` process in its own session
// and returns its pid. Output goes to the daemon log file, not the terminal.
func Launch(executablePath string, opts LaunchOptions) (int, error) {
	if strings.TrimSpace(executablePath) == "" {
		return 0, fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"watch", "--foreground"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if agent := strings.TrimSpace(opts.Agent); agent != "" {
		args = append(args, "--agent", agent)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	proc := exec.Command(executablePath, args...)
	proc.Stdin = devNull
	proc.Stdout = devNull
	proc.Stderr = devNull
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("launch daemon: %w", err)
	}
	pid := proc.Process.Pid
	return pid, proc.Process.Release()
}

// ProcessInfo reports whether the PID file names a live process other than
// the caller, and that pid.
func ProcessInfo(pidPath string) (bool, int, error) {
	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if pid == os.Getpid() {
		return false, pid, nil
	}
	return daemon.ProcessAlive(pid), pid, nil
}

// Stop reads the daemon pid and sends it SIGTERM. The pid is read before any
// shutdown starts since the daemon deletes its PID file on the way out. A
// stale PID file is removed and reported as ErrNotRunning.
func Stop(pidPath string) (int, error) {
	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	if !daemon.ProcessAlive(pid) {
		if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("remove stale pid file %q: %w", pidPath, err)
		}
		return 0, ErrNotRunning
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return pid, nil
}

// WaitForExit polls until pid is gone or timeout elapses.
func WaitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !daemon.ProcessAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon process %d still running after %s", pid, timeout)
}

// WaitForStart polls until the PID file names pid or timeout elapses.
func WaitForStart(pidPath string, pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		recorded, err := daemon.ReadPIDFile(pidPath)
		if err == nil && recorded == pid {
			return nil
		}
		if !daemon.ProcessAlive(pid) {
			return fmt.Errorf("daemon process %d exited during startup; see the daemon log", pid)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon process %d did not write its pid file within %s", pid, timeout)
}
