package playback

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/pidfile"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// slowPlayer sleeps regardless of the file argument appended by the
// supervisor; fastPlayer exits immediately.
const (
	slowPlayer = `sh -c "sleep 30" loqa-test-player`
	fastPlayer = `sh -c "exit 0" loqa-test-player`
)

func newSupervisor(t *testing.T, command string) (*Supervisor, config.Paths) {
	t.Helper()
	paths := config.DerivePaths(t.TempDir())
	if err := os.MkdirAll(paths.StateDir, 0o700); err != nil {
		t.Fatal(err)
	}
	s, err := NewSupervisor(paths, config.PlaybackConfig{Command: command}, newLogger())
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	t.Cleanup(s.StopCurrent)
	return s, paths
}

func audioFile(t *testing.T, paths config.Paths, name string) string {
	t.Helper()
	path := filepath.Join(paths.StateDir, name)
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlayRecordsPID(t *testing.T) {
	s, paths := newSupervisor(t, slowPlayer)
	file := audioFile(t, paths, "a.wav")

	if err := s.Play(file); err != nil {
		t.Fatalf("play: %v", err)
	}
	pid, err := pidfile.Read(paths.PlaybackPID)
	if err != nil {
		t.Fatalf("pid file missing: %v", err)
	}
	if !pidfile.Alive(pid) {
		t.Fatal("recorded player must be alive")
	}
	if !s.Playing() {
		t.Fatal("Playing must report true while the player runs")
	}
}

func TestPlayEnforcesSinglePlayback(t *testing.T) {
	s, paths := newSupervisor(t, slowPlayer)
	fileA := audioFile(t, paths, "a.wav")
	fileB := audioFile(t, paths, "b.wav")

	if err := s.Play(fileA); err != nil {
		t.Fatalf("play a: %v", err)
	}
	pidA, err := pidfile.Read(paths.PlaybackPID)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Play(fileB); err != nil {
		t.Fatalf("play b: %v", err)
	}
	pidB, err := pidfile.Read(paths.PlaybackPID)
	if err != nil {
		t.Fatalf("pid file must refer to the second player: %v", err)
	}
	if pidB == pidA {
		t.Fatal("expected a fresh player process")
	}
	waitFor(t, "first player to die", func() bool { return !pidfile.Alive(pidA) })
	if !pidfile.Alive(pidB) {
		t.Fatal("second player must survive")
	}
}

func TestExitHandlerCleansUp(t *testing.T) {
	s, paths := newSupervisor(t, fastPlayer)
	file := audioFile(t, paths, "gone.wav")

	if err := s.Play(file); err != nil {
		t.Fatalf("play: %v", err)
	}
	// Natural exit: no manual cleanup call, yet both the audio file
	// and the PID file disappear within a bounded delay.
	waitFor(t, "audio file cleanup", func() bool {
		_, err := os.Stat(file)
		return os.IsNotExist(err)
	})
	waitFor(t, "pid file cleanup", func() bool {
		_, err := os.Stat(paths.PlaybackPID)
		return os.IsNotExist(err)
	})
	if s.Playing() {
		t.Fatal("Playing must report false after natural exit")
	}
}

func TestStopCurrentIdempotent(t *testing.T) {
	s, paths := newSupervisor(t, slowPlayer)

	// Nothing playing at all.
	s.StopCurrent()
	s.StopCurrent()
	if s.Playing() {
		t.Fatal("nothing should be playing")
	}

	file := audioFile(t, paths, "c.wav")
	if err := s.Play(file); err != nil {
		t.Fatalf("play: %v", err)
	}
	pid, err := pidfile.Read(paths.PlaybackPID)
	if err != nil {
		t.Fatal(err)
	}
	s.StopCurrent()
	if _, err := os.Stat(paths.PlaybackPID); !os.IsNotExist(err) {
		t.Fatal("pid file must be removed by StopCurrent")
	}
	waitFor(t, "player to die", func() bool { return !pidfile.Alive(pid) })
	if s.Playing() {
		t.Fatal("Playing must report false after StopCurrent")
	}
}

func TestWaitReturnsAfterNaturalExit(t *testing.T) {
	s, paths := newSupervisor(t, fastPlayer)
	file := audioFile(t, paths, "d.wav")

	if err := s.Play(file); err != nil {
		t.Fatalf("play: %v", err)
	}
	s.Wait(context.Background())

	// Wait must not return before the exit handler has run.
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Fatal("audio file must be gone once Wait returns")
	}
	if _, err := os.Stat(paths.PlaybackPID); !os.IsNotExist(err) {
		t.Fatal("pid file must be gone once Wait returns")
	}
}

func TestWaitStopsPlayerOnCancel(t *testing.T) {
	s, paths := newSupervisor(t, slowPlayer)
	file := audioFile(t, paths, "e.wav")

	if err := s.Play(file); err != nil {
		t.Fatalf("play: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	s.Wait(ctx)
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("cancelled Wait must not ride out the player, took %s", elapsed)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Fatal("audio file must be cleaned up after a cancelled Wait")
	}
	if s.Playing() {
		t.Fatal("player must be stopped after a cancelled Wait")
	}
}

func TestWaitWithoutPlayback(t *testing.T) {
	s, _ := newSupervisor(t, slowPlayer)
	s.Wait(context.Background()) // must not block
}

func TestPlayingToleratesStalePIDFile(t *testing.T) {
	s, paths := newSupervisor(t, slowPlayer)
	if err := pidfile.Write(paths.PlaybackPID, 1<<22+777); err != nil {
		t.Fatal(err)
	}
	if s.Playing() {
		t.Fatal("stale pid must count as not playing")
	}

	if err := os.WriteFile(paths.PlaybackPID, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if s.Playing() {
		t.Fatal("corrupt pid file must count as not playing")
	}
}

func TestResolvePlayerParsesCommand(t *testing.T) {
	argv, err := resolvePlayer(`ffplay -nodisp -autoexit -loglevel quiet`)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(argv) != 5 || argv[0] != "ffplay" {
		t.Fatalf("unexpected argv %v", argv)
	}

	if _, err := resolvePlayer(`"unbalanced`); err == nil {
		t.Fatal("expected parse error")
	}
}
