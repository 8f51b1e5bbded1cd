// Package engine holds the synthesis backends the dispatcher chooses
// between: the zero-setup system voice and the neural one-shot runner
// used on the cold path when no warm worker is serving.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/protocol"
	"github.com/loqalabs/loqa-speak/internal/worker"
)

// OneShot performs a transient synthesis: it spawns the worker script
// in --one-shot mode, feeds one request frame on stdin and reads one
// response frame from stdout. No socket, no idle timer, no PID file —
// the process pays full pipeline startup cost per call and leaves no
// persistent footprint.
type OneShot struct {
	paths   config.Paths
	runtime string
	logger  *slog.Logger
}

func NewOneShot(paths config.Paths, runtimeCmd string, log *slog.Logger) *OneShot {
	return &OneShot{
		paths:   paths,
		runtime: runtimeCmd,
		logger:  log.With(slog.String("component", "oneshot-engine")),
	}
}

func (o *OneShot) Name() string { return "neural" }

func (o *OneShot) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if err := worker.WriteScript(o.paths); err != nil {
		return "", err
	}
	output := filepath.Join(o.paths.StateDir, fmt.Sprintf("utterance-%d.wav", time.Now().UnixNano()))

	frame, err := protocol.EncodeRequest(protocol.Request{Text: text, Voice: voiceID, Output: output})
	if err != nil {
		return "", err
	}

	parser := shellwords.NewParser()
	argv, err := parser.Parse(o.runtime)
	if err != nil {
		return "", fmt.Errorf("parse worker runtime command: %w", err)
	}
	if len(argv) == 0 {
		return "", fmt.Errorf("worker runtime command is empty")
	}

	args := append(argv[1:], o.paths.Script, "--one-shot")
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Stdin = bytes.NewReader(frame)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()

	// The process prints its response frame even when synthesis fails,
	// so prefer the frame's diagnostic over the bare exit status.
	if line := lastLine(stdout.Bytes()); line != "" {
		resp := protocol.DecodeResponse([]byte(line))
		if resp.OK() {
			o.logger.Debug("one-shot synthesis done", slog.Duration("took", time.Since(started)))
			return output, nil
		}
		return "", fmt.Errorf("synthesis failed: %s", resp.Error)
	}
	if runErr != nil {
		return "", fmt.Errorf("one-shot synthesis failed: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}
	return "", fmt.Errorf("one-shot synthesis produced no response")
}

func lastLine(data []byte) string {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
