// Package dispatch is the orchestration layer a caller invokes: given
// text and a voice, it decides between the warm path (existing
// worker) and the cold path (transient one-shot process), verifies the
// produced audio and hands it to the playback supervisor.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/history"
	"github.com/loqalabs/loqa-speak/internal/wavinfo"
)

// Prober reports whether a warm worker is reachable.
type Prober interface {
	Running() bool
}

// WarmClient sends one request to a running worker.
type WarmClient interface {
	Request(ctx context.Context, text, voiceID string) (string, error)
}

// Engine performs a self-contained synthesis (cold path or system
// voice) and returns the output file path.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, text, voiceID string) (string, error)
}

// Player supervises audio output.
type Player interface {
	Play(filePath string) error
}

type Dispatcher struct {
	cfg     config.SpeechConfig
	prober  Prober
	warm    WarmClient
	cold    Engine
	system  Engine
	player  Player
	history *history.Store
	logger  *slog.Logger
	tracer  trace.Tracer
}

func New(cfg config.SpeechConfig, prober Prober, warm WarmClient, cold, system Engine, player Player, hist *history.Store, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		prober:  prober,
		warm:    warm,
		cold:    cold,
		system:  system,
		player:  player,
		history: hist,
		logger:  log.With(slog.String("component", "dispatcher")),
		tracer:  otel.Tracer("loqa-speak/dispatch"),
	}
}

// Speak synthesizes text and starts playback. Playback only ever
// begins after a completed, verified synthesis; a warm-path failure is
// surfaced as-is rather than silently retried cold, since a failure
// mid-protocol usually means a worker in a bad state.
func (d *Dispatcher) Speak(ctx context.Context, text, voiceID string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to speak")
	}
	if voiceID == "" {
		voiceID = d.cfg.Voice
	}

	ctx, span := d.tracer.Start(ctx, "speak",
		trace.WithAttributes(
			attribute.String("speech.voice", voiceID),
			attribute.String("speech.engine", d.cfg.Engine),
			attribute.Int("speech.text_length", len(text)),
		))
	defer span.End()

	output, route, err := d.synthesize(ctx, text, voiceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return err
	}
	span.SetAttributes(attribute.String("speech.route", route))

	info, err := wavinfo.Inspect(output)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "output verification failed")
		return fmt.Errorf("synthesis output unusable: %w", err)
	}
	d.logger.Info("synthesis complete",
		slog.String("route", route),
		slog.String("output", output),
		slog.Duration("audio", info.Duration))

	if err := d.record(ctx, text, voiceID, route, info); err != nil {
		d.logger.Warn("failed to record utterance", slog.String("error", err.Error()))
	}

	if err := d.player.Play(output); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "playback failed")
		return err
	}
	return nil
}

func (d *Dispatcher) synthesize(ctx context.Context, text, voiceID string) (string, string, error) {
	if d.cfg.Engine == "system" {
		output, err := d.system.Synthesize(ctx, text, voiceID)
		return output, "direct", err
	}
	if d.prober.Running() {
		output, err := d.warm.Request(ctx, text, voiceID)
		return output, "warm", err
	}
	output, err := d.cold.Synthesize(ctx, text, voiceID)
	return output, "cold", err
}

func (d *Dispatcher) record(ctx context.Context, text, voiceID, route string, info wavinfo.Info) error {
	engineName := "neural"
	if d.cfg.Engine == "system" {
		engineName = "system"
	}
	return d.history.Append(ctx, history.Record{
		Text:     text,
		Voice:    voiceID,
		Engine:   engineName,
		Route:    route,
		Duration: info.Duration,
	})
}
