package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/pidfile"
)

var (
	// ErrStartupFailed means the worker exited or logged a fatal error
	// before becoming ready.
	ErrStartupFailed = errors.New("worker startup failed")
	// ErrStartupTimeout means readiness was not reached within the
	// deadline. Distinct from ErrStartupFailed so callers can tell
	// "it's broken" from "it's just slow".
	ErrStartupTimeout = errors.New("worker startup timed out")
)

const (
	logTailLines = 15
	logTailBytes = 2000
)

var fatalMarkers = []string{
	"Traceback (most recent call last):",
	"FATAL",
}

// Options tunes the lifecycle manager. Zero values fall back to the
// production defaults; tests shorten the readiness window.
type Options struct {
	Runtime          string
	IdleTimeout      time.Duration
	ReadinessTimeout time.Duration
	PollInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Runtime == "" {
		o.Runtime = "python3"
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.ReadinessTimeout <= 0 {
		o.ReadinessTimeout = 8 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	return o
}

// Manager brings a warm worker into existence and tears it down.
type Manager struct {
	paths  config.Paths
	opts   Options
	prober *Prober
	logger *slog.Logger
}

func NewManager(paths config.Paths, opts Options, log *slog.Logger) *Manager {
	return &Manager{
		paths:  paths,
		opts:   opts.withDefaults(),
		prober: NewProber(paths),
		logger: log.With(slog.String("component", "worker-manager")),
	}
}

// Start spawns a detached worker process and waits for it to become
// reachable. Starting while a live worker is already bound to the
// socket is a no-op success.
func (m *Manager) Start(ctx context.Context) error {
	if m.prober.Running() {
		m.logger.Info("worker already running", slog.String("socket", m.paths.Socket))
		return nil
	}

	if err := WriteScript(m.paths); err != nil {
		return err
	}

	pid, err := m.spawn()
	if err != nil {
		return err
	}
	m.logger.Info("worker spawned", slog.Int("pid", pid), slog.String("log", m.paths.Log))

	return m.awaitReady(ctx)
}

// spawn launches the runtime against the worker script, redirecting
// both output streams to a fresh log file, and releases ownership of
// the child to the OS process table.
func (m *Manager) spawn() (int, error) {
	parser := shellwords.NewParser()
	argv, err := parser.Parse(m.opts.Runtime)
	if err != nil {
		return 0, fmt.Errorf("parse worker runtime command: %w", err)
	}
	if len(argv) == 0 {
		return 0, fmt.Errorf("worker runtime command is empty")
	}

	logFile, err := os.OpenFile(m.paths.Log, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()

	args := append(argv[1:],
		m.paths.Script,
		"--socket", m.paths.Socket,
		"--pid", m.paths.WorkerPID,
		"--idle", strconv.Itoa(int(m.opts.IdleTimeout.Seconds())),
	)
	cmd := exec.Command(argv[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn worker: %w", err)
	}
	pid := cmd.Process.Pid
	// Ownership transfers to the OS; the child is observed only via
	// the health probe and its PID file from here on.
	_ = cmd.Process.Release()
	return pid, nil
}

// awaitReady polls the health prober until the worker answers, a
// fatal error shows up in the log, or the deadline elapses.
func (m *Manager) awaitReady(ctx context.Context) error {
	deadline := time.Now().Add(m.opts.ReadinessTimeout)
	for {
		if m.prober.Running() {
			m.logger.Info("worker ready", slog.String("socket", m.paths.Socket))
			return nil
		}
		if marker, found := m.scanLogForFatal(); found {
			return fmt.Errorf("%w: %s: %s", ErrStartupFailed, marker, m.logTail())
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s: %s", ErrStartupTimeout, m.opts.ReadinessTimeout, m.logTail())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.opts.PollInterval):
		}
	}
}

func (m *Manager) scanLogForFatal() (string, bool) {
	data, err := os.ReadFile(m.paths.Log)
	if err != nil {
		return "", false
	}
	content := string(data)
	for _, marker := range fatalMarkers {
		if strings.Contains(content, marker) {
			return marker, true
		}
	}
	return "", false
}

// logTail returns the last few lines of the worker log, bounded in
// both line count and bytes, for startup diagnostics.
func (m *Manager) logTail() string {
	data, err := os.ReadFile(m.paths.Log)
	if err != nil {
		return "(no worker log)"
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > logTailLines {
		lines = lines[len(lines)-logTailLines:]
	}
	tail := strings.Join(lines, "\n")
	if len(tail) > logTailBytes {
		tail = tail[len(tail)-logTailBytes:]
	}
	if tail == "" {
		return "(worker log empty)"
	}
	return tail
}

// Stop signals the recorded worker process and scrubs any leftover
// socket/PID state. Idempotent: stopping when nothing runs is fine,
// and after Stop returns the prober never reports running.
func (m *Manager) Stop() {
	if pidfile.Terminate(m.paths.WorkerPID) {
		m.logger.Info("worker signaled")
		m.awaitSocketGone(2 * time.Second)
	}
	// The worker removes its own files on graceful exit; this covers
	// crashes and stale state.
	_ = os.Remove(m.paths.Socket)
	pidfile.Remove(m.paths.WorkerPID)
}

func (m *Manager) awaitSocketGone(bound time.Duration) {
	deadline := time.Now().Add(bound)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(m.paths.Socket); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
