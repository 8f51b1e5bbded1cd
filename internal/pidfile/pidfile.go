// Package pidfile reads and writes the plain-text PID files that track
// the managed long-lived processes (worker, current playback). A PID
// file is advisory only: liveness is always re-checked against the OS.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Write persists a decimal process id at path.
func Write(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Read parses the decimal process id stored at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s holds invalid pid %d", path, pid)
	}
	return pid, nil
}

// Remove deletes the PID file. Best effort; absence is not an error.
func Remove(path string) {
	_ = os.Remove(path)
}

// Alive reports whether a process with the given pid currently exists,
// using signal-0 semantics. Any error counts as not alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Terminate sends a graceful termination signal to the process
// recorded at path. It returns false when the PID file is absent or
// the signal could not be delivered (stale pid).
func Terminate(path string) bool {
	pid, err := Read(path)
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.SIGTERM) == nil
}
