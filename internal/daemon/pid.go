package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ReadPIDFile returns the process id recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid contents %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

func writePIDFile(path string, pid int) error {
	value := strconv.Itoa(pid) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// removePIDFile deletes path only while it still names pid, so a newer
// instance's PID file is left alone.
func removePIDFile(path string, pid int) error {
	recorded, err := ReadPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && recorded != pid {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ProcessAlive reports whether a process with pid exists. A permission error
// still proves the process exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
