package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"audio-transcriber/internal/domain"
)

// envPrefix namespaces environment variable overrides.
const envPrefix = "TRANSCRIBER_"

// Config is the full application configuration: tool locations,
// logging, metrics, and default job settings.
type Config struct {
	Environment string        `yaml:"environment"`
	Log         LogConfig     `yaml:"log"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Tools       ToolsConfig   `yaml:"tools"`
	OutputDir   string        `yaml:"output_dir"`
	WorkDir     string        `yaml:"work_dir"`
	Defaults    JobDefaults   `yaml:"defaults"`
}

// LogConfig controls slog level, format, and optional rotated file sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ToolsConfig holds executable names or absolute paths for the
// external collaborators.
type ToolsConfig struct {
	FFmpeg   string `yaml:"ffmpeg"`
	FFprobe  string `yaml:"ffprobe"`
	Whisper  string `yaml:"whisper"`
	Pyannote string `yaml:"pyannote"`
}

// JobDefaults is the file representation of default job settings.
// Durations are whole seconds so the YAML stays plain scalars.
type JobDefaults struct {
	Model              string  `yaml:"model"`
	ModelPath          string  `yaml:"model_path"`
	Device             string  `yaml:"device"`
	Language           string  `yaml:"language"`
	SampleRate         int     `yaml:"sample_rate"`
	Channels           int     `yaml:"channels"`
	ChunkingEnabled    bool    `yaml:"chunking_enabled"`
	ChunkLengthSeconds int     `yaml:"chunk_length_seconds"`
	DiarizationEnabled bool    `yaml:"diarization_enabled"`
	MinSpeakers        int     `yaml:"min_speakers"`
	MaxSpeakers        int     `yaml:"max_speakers"`
	Segmentation       float64 `yaml:"segmentation"`
	Workers            int     `yaml:"workers"`
	ChunkRetries       int     `yaml:"chunk_retries"`
	FailureThreshold   float64 `yaml:"failure_threshold"`
	OutputFormat       string  `yaml:"output_format"`
}

// Settings converts file defaults into runtime job settings.
func (d JobDefaults) Settings() domain.Settings {
	return domain.Settings{
		Model:              d.Model,
		ModelPath:          d.ModelPath,
		Device:             d.Device,
		Language:           d.Language,
		SampleRate:         d.SampleRate,
		Channels:           d.Channels,
		ChunkingEnabled:    d.ChunkingEnabled,
		ChunkLength:        time.Duration(d.ChunkLengthSeconds) * time.Second,
		DiarizationEnabled: d.DiarizationEnabled,
		MinSpeakers:        d.MinSpeakers,
		MaxSpeakers:        d.MaxSpeakers,
		Segmentation:       d.Segmentation,
		Workers:            d.Workers,
		ChunkRetries:       d.ChunkRetries,
		FailureThreshold:   d.FailureThreshold,
		OutputFormat:       d.OutputFormat,
	}
}

// Default returns baseline configuration for first run.
func Default() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return Config{
		Environment: "dev",
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9477",
		},
		Tools: ToolsConfig{
			FFmpeg:   "ffmpeg",
			FFprobe:  "ffprobe",
			Whisper:  "whisper",
			Pyannote: "pyannote-audio",
		},
		OutputDir: filepath.Join(homeDir, "Documents", "Transcripts"),
		WorkDir:   filepath.Join(homeDir, ".audio-transcriber", "work"),
		Defaults: JobDefaults{
			Model:              "base",
			ModelPath:          filepath.Join(homeDir, ".audio-transcriber", "models"),
			Device:             "cpu",
			Language:           "auto",
			SampleRate:         16000,
			Channels:           1,
			ChunkingEnabled:    true,
			ChunkLengthSeconds: 300,
			DiarizationEnabled: false,
			MinSpeakers:        1,
			MaxSpeakers:        2,
			Segmentation:       1.0,
			Workers:            1,
			ChunkRetries:       1,
			FailureThreshold:   0.0,
			OutputFormat:       "txt",
		},
	}
}

// Load reads an optional .env file, the YAML config file, and
// environment overrides, in that order. A missing config file yields
// defaults, matching first-run behavior.
func Load(path string) (Config, error) {
	// Missing .env is not an error; it only seeds the process env.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configurations that would otherwise fail after
// work had already started.
func Validate(cfg Config) error {
	var problems []string

	d := cfg.Defaults
	if d.ChunkingEnabled && d.ChunkLengthSeconds <= 0 {
		problems = append(problems, fmt.Sprintf("chunk_length_seconds must be positive, got %d", d.ChunkLengthSeconds))
	}
	if d.SampleRate <= 0 {
		problems = append(problems, fmt.Sprintf("sample_rate must be positive, got %d", d.SampleRate))
	}
	if d.Channels != 1 && d.Channels != 2 {
		problems = append(problems, fmt.Sprintf("channels must be 1 or 2, got %d", d.Channels))
	}
	if d.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("workers must be positive, got %d", d.Workers))
	}
	if d.ChunkRetries < 0 {
		problems = append(problems, fmt.Sprintf("chunk_retries must not be negative, got %d", d.ChunkRetries))
	}
	if d.FailureThreshold < 0 || d.FailureThreshold > 1 {
		problems = append(problems, fmt.Sprintf("failure_threshold must be in [0,1], got %g", d.FailureThreshold))
	}
	if d.DiarizationEnabled && (d.MinSpeakers <= 0 || d.MaxSpeakers < d.MinSpeakers) {
		problems = append(problems, fmt.Sprintf("speaker bounds invalid: min=%d max=%d", d.MinSpeakers, d.MaxSpeakers))
	}
	if d.OutputFormat != "txt" && d.OutputFormat != "md" {
		problems = append(problems, fmt.Sprintf("output_format must be txt or md, got %q", d.OutputFormat))
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		problems = append(problems, "output_dir must not be empty")
	}

	if len(problems) > 0 {
		return domain.NewCodedError(domain.CodeInvalidConfiguration,
			strings.Join(problems, "; "), nil)
	}
	return nil
}

// applyEnvOverrides maps TRANSCRIBER_* variables onto the config.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Environment, "ENV")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.File, "LOG_FILE")
	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setString(&cfg.Metrics.Addr, "METRICS_ADDR")
	setString(&cfg.Tools.FFmpeg, "FFMPEG")
	setString(&cfg.Tools.FFprobe, "FFPROBE")
	setString(&cfg.Tools.Whisper, "WHISPER")
	setString(&cfg.Tools.Pyannote, "PYANNOTE")
	setString(&cfg.OutputDir, "OUTPUT_DIR")
	setString(&cfg.WorkDir, "WORK_DIR")
	setString(&cfg.Defaults.Model, "MODEL")
	setString(&cfg.Defaults.ModelPath, "MODEL_PATH")
	setString(&cfg.Defaults.Device, "DEVICE")
	setString(&cfg.Defaults.Language, "LANGUAGE")
	setInt(&cfg.Defaults.Workers, "WORKERS")
	setInt(&cfg.Defaults.ChunkLengthSeconds, "CHUNK_LENGTH_SECONDS")
}

// setString overrides dst when the namespaced variable is set.
func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

// setInt overrides dst when the variable parses as an integer.
func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

// setBool overrides dst when the variable parses as a boolean.
func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
