package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/loqalabs/loqa-speak/internal/config"
)

// System synthesizes with the host's built-in voice (`say` on macOS,
// espeak-ng/espeak elsewhere). Zero setup, no worker, no lifecycle.
type System struct {
	stateDir string
}

func NewSystem(paths config.Paths) *System {
	return &System{stateDir: paths.StateDir}
}

func (s *System) Name() string { return "system" }

func (s *System) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if err := os.MkdirAll(s.stateDir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	output := filepath.Join(s.stateDir, fmt.Sprintf("utterance-%d.wav", time.Now().UnixNano()))

	if runtime.GOOS == "darwin" {
		cmd := exec.CommandContext(ctx, "say", "-o", output, "--data-format=LEI16@22050", text)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("system voice failed: %w: %s", err, stderr.String())
		}
		return output, nil
	}

	for _, bin := range []string{"espeak-ng", "espeak"} {
		path, err := exec.LookPath(bin)
		if err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, path, "--stdout", text)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		data, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("system voice failed: %w: %s", err, stderr.String())
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return "", fmt.Errorf("write system voice output: %w", err)
		}
		return output, nil
	}
	return "", fmt.Errorf("system voice not available: install espeak-ng or espeak")
}
