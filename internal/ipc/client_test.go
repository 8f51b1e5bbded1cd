package ipc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeWorker accepts one connection, decodes one request frame and
// replies with the given response line.
func fakeWorker(t *testing.T, paths config.Paths, respond func(protocol.Request) string) <-chan protocol.Request {
	t.Helper()
	ln, err := net.Listen("unix", paths.Socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan protocol.Request, 8)
	go func() {
		// One connection serviced fully at a time, like the real worker.
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, err := protocol.ReadFrame(bufio.NewReader(conn))
			if err == nil {
				if req, err := protocol.DecodeRequest(line); err == nil {
					received <- req
					_, _ = conn.Write([]byte(respond(req) + "\n"))
				}
			}
			conn.Close()
		}
	}()
	return received
}

func TestRequestSuccess(t *testing.T) {
	paths := config.DerivePaths(t.TempDir())
	received := fakeWorker(t, paths, func(protocol.Request) string {
		return `{"status":"ok"}`
	})

	c := NewClient(paths, Options{}, newLogger())
	output, err := c.Request(context.Background(), "hello there", "en_amy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(output, paths.StateDir) || !strings.HasSuffix(output, ".wav") {
		t.Fatalf("unexpected output path %q", output)
	}

	req := <-received
	if req.Text != "hello there" || req.Voice != "en_amy" {
		t.Fatalf("request mismatch: %+v", req)
	}
	if req.Output != output {
		t.Fatalf("worker was asked for %q but client returned %q", req.Output, output)
	}
}

func TestRequestUniqueOutputPaths(t *testing.T) {
	paths := config.DerivePaths(t.TempDir())

	fakeWorker(t, paths, func(protocol.Request) string { return `{"status":"ok"}` })
	c := NewClient(paths, Options{}, newLogger())

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		output, err := c.Request(context.Background(), "x", "e")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if seen[output] {
			t.Fatalf("output path %q reused", output)
		}
		seen[output] = true
	}
}

func TestRequestWorkerError(t *testing.T) {
	paths := config.DerivePaths(t.TempDir())
	fakeWorker(t, paths, func(protocol.Request) string {
		return `{"status":"error","error":"no voices installed"}`
	})

	c := NewClient(paths, Options{}, newLogger())
	_, err := c.Request(context.Background(), "hi", "en_amy")
	if err == nil || !strings.Contains(err.Error(), "no voices installed") {
		t.Fatalf("expected worker diagnostic passed through, got %v", err)
	}
}

func TestRequestNoResponseTimeout(t *testing.T) {
	paths := config.DerivePaths(t.TempDir())
	ln, err := net.Listen("unix", paths.Socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	// Accept but never answer.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(5 * time.Second)
	}()

	c := NewClient(paths, Options{ResponseTimeout: 200 * time.Millisecond}, newLogger())
	started := time.Now()
	_, err = c.Request(context.Background(), "hi", "en_amy")
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if time.Since(started) > 2*time.Second {
		t.Fatal("timeout did not fire within its bound")
	}
}

func TestRequestNoWorker(t *testing.T) {
	paths := config.DerivePaths(t.TempDir())
	c := NewClient(paths, Options{}, newLogger())
	if _, err := c.Request(context.Background(), "hi", "en_amy"); err == nil {
		t.Fatal("expected connection error with no worker")
	}
}
