package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	TraceEnabled bool   `yaml:"trace_enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type SpeechConfig struct {
	Engine string `yaml:"engine"` // system, neural
	Voice  string `yaml:"voice"`
}

type WorkerConfig struct {
	Runtime            string `yaml:"runtime"`
	IdleTimeoutSec     int    `yaml:"idle_timeout_sec"`
	StateDir           string `yaml:"state_dir"`
	ReadinessTimeoutMS int    `yaml:"readiness_timeout_ms"`
	PollIntervalMS     int    `yaml:"poll_interval_ms"`
	ResponseTimeoutSec int    `yaml:"response_timeout_sec"`
}

type PlaybackConfig struct {
	Command string `yaml:"command"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	MaxEntries    int    `yaml:"max_entries"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Speech    SpeechConfig    `yaml:"speech"`
	Worker    WorkerConfig    `yaml:"worker"`
	Playback  PlaybackConfig  `yaml:"playback"`
	History   HistoryConfig   `yaml:"history"`
}

// Paths collects every piece of on-disk state the subsystem touches.
// Everything lives under one per-user directory so two users on the
// same host never collide, while two invocations by the same user
// coordinate through the same worker.
type Paths struct {
	StateDir    string
	Socket      string
	WorkerPID   string
	PlaybackPID string
	Log         string
	Script      string
}

// DerivePaths resolves the state directory (per-user default when
// empty) into the concrete file locations used by the worker, the
// prober and the playback supervisor.
func DerivePaths(stateDir string) Paths {
	if stateDir == "" {
		stateDir = filepath.Join(os.TempDir(), fmt.Sprintf("loqa-speak-%d", os.Getuid()))
	}
	return Paths{
		StateDir:    stateDir,
		Socket:      filepath.Join(stateDir, "worker.sock"),
		WorkerPID:   filepath.Join(stateDir, "worker.pid"),
		PlaybackPID: filepath.Join(stateDir, "playback.pid"),
		Log:         filepath.Join(stateDir, "worker.log"),
		Script:      filepath.Join(stateDir, "worker.py"),
	}
}

// Paths returns the path set derived from the worker config.
func (c Config) Paths() Paths {
	return DerivePaths(c.Worker.StateDir)
}

func Default() Config {
	return Config{
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			TraceEnabled: false,
			OTLPInsecure: true,
		},
		Speech: SpeechConfig{
			Engine: "neural",
			Voice:  "af_heart",
		},
		Worker: WorkerConfig{
			Runtime:            "python3",
			IdleTimeoutSec:     300,
			ReadinessTimeoutMS: 8000,
			PollIntervalMS:     500,
			ResponseTimeoutSec: 180,
		},
		Playback: PlaybackConfig{},
		History: HistoryConfig{
			Enabled:       true,
			MaxEntries:    1000,
			RetentionDays: 30,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_SPEAK_LOG_LEVEL")
	overrideBool(&cfg.Telemetry.TraceEnabled, "LOQA_SPEAK_TRACE_ENABLED")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_SPEAK_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_SPEAK_OTLP_INSECURE")
	overrideString(&cfg.Speech.Engine, "LOQA_SPEAK_ENGINE")
	overrideString(&cfg.Speech.Voice, "LOQA_SPEAK_VOICE")
	overrideString(&cfg.Worker.Runtime, "LOQA_SPEAK_WORKER_RUNTIME")
	overrideInt(&cfg.Worker.IdleTimeoutSec, "LOQA_SPEAK_WORKER_IDLE_TIMEOUT_SEC")
	overrideString(&cfg.Worker.StateDir, "LOQA_SPEAK_STATE_DIR")
	overrideInt(&cfg.Worker.ReadinessTimeoutMS, "LOQA_SPEAK_WORKER_READINESS_TIMEOUT_MS")
	overrideInt(&cfg.Worker.PollIntervalMS, "LOQA_SPEAK_WORKER_POLL_INTERVAL_MS")
	overrideInt(&cfg.Worker.ResponseTimeoutSec, "LOQA_SPEAK_WORKER_RESPONSE_TIMEOUT_SEC")
	overrideString(&cfg.Playback.Command, "LOQA_SPEAK_PLAYBACK_COMMAND")
	overrideBool(&cfg.History.Enabled, "LOQA_SPEAK_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "LOQA_SPEAK_HISTORY_PATH")
	overrideInt(&cfg.History.MaxEntries, "LOQA_SPEAK_HISTORY_MAX_ENTRIES")
	overrideInt(&cfg.History.RetentionDays, "LOQA_SPEAK_HISTORY_RETENTION_DAYS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Speech.Engine {
	case "system", "neural":
	default:
		return errors.New("speech.engine must be one of system|neural")
	}
	if cfg.Speech.Voice == "" {
		return errors.New("speech.voice must not be empty")
	}
	if cfg.Worker.Runtime == "" {
		return errors.New("worker.runtime must not be empty")
	}
	if cfg.Worker.IdleTimeoutSec <= 0 {
		return errors.New("worker.idle_timeout_sec must be positive")
	}
	if cfg.Worker.ReadinessTimeoutMS <= 0 {
		return errors.New("worker.readiness_timeout_ms must be positive")
	}
	if cfg.Worker.PollIntervalMS <= 0 {
		return errors.New("worker.poll_interval_ms must be positive")
	}
	if cfg.Worker.PollIntervalMS > cfg.Worker.ReadinessTimeoutMS {
		return errors.New("worker.poll_interval_ms must not exceed the readiness timeout")
	}
	if cfg.Worker.ResponseTimeoutSec <= 0 {
		return errors.New("worker.response_timeout_sec must be positive")
	}
	if cfg.History.Enabled {
		if cfg.History.MaxEntries <= 0 {
			return errors.New("history.max_entries must be >= 1 when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	return nil
}
