// Package playback owns at most one active audio-output process at a
// time, tracked through a PID file so independent invocations by the
// same user coordinate without in-process locking.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/pidfile"
)

// playerCandidates are tried in order when no player command is
// configured.
var playerCandidates = [][]string{
	{"afplay"},
	{"paplay"},
	{"aplay", "-q"},
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
}

type Supervisor struct {
	paths  config.Paths
	player []string
	logger *slog.Logger

	mu   sync.Mutex
	done chan struct{} // closed when the most recent player exits
}

func NewSupervisor(paths config.Paths, cfg config.PlaybackConfig, log *slog.Logger) (*Supervisor, error) {
	player, err := resolvePlayer(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		paths:  paths,
		player: player,
		logger: log.With(slog.String("component", "playback")),
	}, nil
}

func resolvePlayer(command string) ([]string, error) {
	if command != "" {
		parser := shellwords.NewParser()
		argv, err := parser.Parse(command)
		if err != nil {
			return nil, fmt.Errorf("parse playback command: %w", err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("playback command is empty")
		}
		return argv, nil
	}
	for _, candidate := range playerCandidates {
		if _, err := exec.LookPath(candidate[0]); err == nil {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("no audio player found; set playback.command")
}

// Play tears down any current playback, then spawns a detached player
// against the file and records its pid. The player's exit handler is
// the only cleanup path for the audio file: when the process exits,
// normally or killed, both the file and the PID file are removed.
func (s *Supervisor) Play(filePath string) error {
	s.StopCurrent()

	args := append(append([]string{}, s.player[1:]...), filePath)
	cmd := exec.Command(s.player[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start audio player: %w", err)
	}

	pid := cmd.Process.Pid
	if err := pidfile.Write(s.paths.PlaybackPID, pid); err != nil {
		_ = cmd.Process.Kill()
		return err
	}
	s.logger.Info("playback started", slog.Int("pid", pid), slog.String("file", filePath))

	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = cmd.Wait()
		_ = os.Remove(filePath)
		// Only clear the PID file if it still refers to this player;
		// a newer Play may have replaced it already.
		if current, err := pidfile.Read(s.paths.PlaybackPID); err == nil && current == pid {
			pidfile.Remove(s.paths.PlaybackPID)
		}
		s.logger.Debug("playback finished", slog.Int("pid", pid))
	}()

	return nil
}

// Wait blocks until the most recently started player exits and its
// exit handler has cleaned up, so short-lived callers do not tear the
// handler down mid-flight. A cancelled context stops the player first
// and still waits for the cleanup to finish. Returns immediately when
// this supervisor never started a player.
func (s *Supervisor) Wait(ctx context.Context) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		s.StopCurrent()
		<-done
	}
}

// StopCurrent terminates the recorded player, if any, and removes the
// PID file unconditionally. Safe to call when nothing is playing.
func (s *Supervisor) StopCurrent() {
	if pidfile.Terminate(s.paths.PlaybackPID) {
		s.logger.Debug("playback stopped")
	}
	pidfile.Remove(s.paths.PlaybackPID)
}

// Playing reports whether the PID file names a live player process.
// Stale or corrupt PID files count as not playing.
func (s *Supervisor) Playing() bool {
	pid, err := pidfile.Read(s.paths.PlaybackPID)
	if err != nil {
		return false
	}
	return pidfile.Alive(pid)
}
