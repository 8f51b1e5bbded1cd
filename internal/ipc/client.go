// Package ipc implements the warm-path client side of the worker
// protocol: one freshly opened unix-socket connection, one request
// frame out, one response frame back, close.
package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/protocol"
)

// ErrNoResponse means the worker accepted the connection but no
// response frame arrived within the response timeout.
var ErrNoResponse = errors.New("no response from worker")

const dialTimeout = 2 * time.Second

// Options tunes the client. The response timeout is generous:
// synthesis of long text may take tens of seconds to minutes, far
// beyond the prober's connection bound.
type Options struct {
	ResponseTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = 3 * time.Minute
	}
	return o
}

type Client struct {
	paths  config.Paths
	opts   Options
	logger *slog.Logger
}

func NewClient(paths config.Paths, opts Options, log *slog.Logger) *Client {
	return &Client{
		paths:  paths,
		opts:   opts.withDefaults(),
		logger: log.With(slog.String("component", "ipc-client")),
	}
}

// Request sends one synthesis request to the running worker and waits
// for its response. On success the synthesized audio exists at the
// returned path; on failure no cleanup of the output path is assumed.
func (c *Client) Request(ctx context.Context, text, voiceID string) (string, error) {
	output := filepath.Join(c.paths.StateDir, fmt.Sprintf("utterance-%d.wav", time.Now().UnixNano()))

	frame, err := protocol.EncodeRequest(protocol.Request{Text: text, Voice: voiceID, Output: output})
	if err != nil {
		return "", err
	}

	conn, err := net.DialTimeout("unix", c.paths.Socket, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("connect to worker: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.opts.ResponseTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set connection deadline: %w", err)
	}

	if _, err := conn.Write(frame); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}

	line, err := protocol.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w within %s", ErrNoResponse, c.opts.ResponseTimeout)
		}
		return "", fmt.Errorf("read response: %w", err)
	}

	resp := protocol.DecodeResponse(line)
	if !resp.OK() {
		return "", fmt.Errorf("worker error: %s", resp.Error)
	}
	c.logger.Debug("synthesis acknowledged", slog.String("output", output))
	return output, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
