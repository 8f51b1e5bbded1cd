package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/dispatch"
	"github.com/loqalabs/loqa-speak/internal/engine"
	"github.com/loqalabs/loqa-speak/internal/history"
	"github.com/loqalabs/loqa-speak/internal/ipc"
	"github.com/loqalabs/loqa-speak/internal/playback"
	"github.com/loqalabs/loqa-speak/internal/telemetry"
	"github.com/loqalabs/loqa-speak/internal/worker"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-speak <command> [flags]

commands:
  speak    synthesize text and play it
  worker   manage the warm synthesis worker (start|stop|status)
  stop     stop current playback
  history  list recent utterances
  version  print version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "speak":
		err = runSpeak(os.Args[2:])
	case "worker":
		err = runWorker(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))
	return cfg, logger, nil
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runSpeak(args []string) error {
	fs := flag.NewFlagSet("speak", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	voice := fs.String("voice", "", "voice identifier (overrides config)")
	engineName := fs.String("engine", "", "synthesis engine: system or neural (overrides config)")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf("speak: no text given")
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *engineName != "" {
		cfg.Speech.Engine = *engineName
		if cfg.Speech.Engine != "system" && cfg.Speech.Engine != "neural" {
			return fmt.Errorf("speak: engine must be system or neural")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = shutdownTracing(shutdownCtx)
	}()

	paths := cfg.Paths()
	if err := os.MkdirAll(paths.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	store, err := history.Open(ctx, historyConfig(cfg, paths), logger)
	if err != nil {
		logger.Warn("history unavailable", slog.String("error", err.Error()))
		store = nil
	}
	defer store.Close()

	player, err := playback.NewSupervisor(paths, cfg.Playback, logger)
	if err != nil {
		return err
	}

	d := dispatch.New(
		cfg.Speech,
		worker.NewProber(paths),
		ipc.NewClient(paths, ipc.Options{ResponseTimeout: time.Duration(cfg.Worker.ResponseTimeoutSec) * time.Second}, logger),
		engine.NewOneShot(paths, cfg.Worker.Runtime, logger),
		engine.NewSystem(paths),
		player,
		store,
		logger,
	)
	if err := d.Speak(ctx, text, *voice); err != nil {
		return err
	}
	// Stay alive until the player exits so its cleanup handler runs;
	// a signal stops playback instead of abandoning the process.
	player.Wait(ctx)
	return nil
}

func runWorker(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("worker: expected start, stop or status")
	}
	sub := args[0]

	fs := flag.NewFlagSet("worker "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args[1:])

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	paths := cfg.Paths()
	manager := worker.NewManager(paths, worker.Options{
		Runtime:          cfg.Worker.Runtime,
		IdleTimeout:      time.Duration(cfg.Worker.IdleTimeoutSec) * time.Second,
		ReadinessTimeout: time.Duration(cfg.Worker.ReadinessTimeoutMS) * time.Millisecond,
		PollInterval:     time.Duration(cfg.Worker.PollIntervalMS) * time.Millisecond,
	}, logger)

	switch sub {
	case "start":
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if err := manager.Start(ctx); err != nil {
			return err
		}
		fmt.Println("worker running")
		return nil
	case "stop":
		manager.Stop()
		fmt.Println("worker stopped")
		return nil
	case "status":
		if worker.NewProber(paths).Running() {
			fmt.Println("worker: running")
		} else {
			fmt.Println("worker: not running")
		}
		return nil
	default:
		return fmt.Errorf("worker: unknown subcommand %q", sub)
	}
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	player, err := playback.NewSupervisor(cfg.Paths(), cfg.Playback, logger)
	if err != nil {
		return err
	}
	player.StopCurrent()
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	limit := fs.Int("limit", 20, "maximum entries to list")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := history.Open(ctx, historyConfig(cfg, cfg.Paths()), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx, *limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s  %-7s %-5s %6s  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Engine, r.Route, r.Duration.Round(100*time.Millisecond), r.Text)
	}
	return nil
}

// historyConfig resolves the default history database location into
// the per-user state directory.
func historyConfig(cfg config.Config, paths config.Paths) config.HistoryConfig {
	hc := cfg.History
	if hc.Path == "" {
		hc.Path = filepath.Join(paths.StateDir, "history.db")
	}
	return hc
}
