// Package bootstrap wires configuration, logging, metrics, adapters,
// and the orchestrator into one runnable application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"audio-transcriber/internal/asr"
	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/diarize"
	"audio-transcriber/internal/document"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/media"
	"audio-transcriber/internal/metrics"
	"audio-transcriber/internal/orchestrator"
)

// DefaultConfigPath is where the application looks for its YAML
// configuration when no explicit path is given.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".audio-transcriber", "config.yaml")
}

// App holds the wired application: configuration, logger, adapters,
// orchestrator, diagnostics, and the transcript writer.
type App struct {
	Config       config.Config
	Log          *slog.Logger
	Orchestrator *orchestrator.Orchestrator
	Writer       *document.Writer

	checker       *diagnostics.Checker
	metricsServer *http.Server
}

// New loads configuration from path (or the default location when path
// is empty), validates it, and wires all components.
func New(path string) (*App, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	normalizer := media.NewNormalizer(
		cfg.Tools.FFmpeg,
		cfg.Tools.FFprobe,
		cfg.WorkDir,
		cfg.Defaults.SampleRate,
		cfg.Defaults.Channels,
		log,
	)
	transcriber := asr.NewWhisperCLI(cfg.Tools.Whisper, log)
	diarizer := diarize.NewPyannoteCLI(cfg.Tools.Pyannote, log)

	app := &App{
		Config: cfg,
		Log:    log,
		Orchestrator: orchestrator.New(
			normalizer, transcriber, diarizer, cfg.Defaults.Workers, log),
		Writer:  document.NewWriter(cfg.OutputDir),
		checker: diagnostics.NewChecker(),
	}

	if cfg.Metrics.Enabled {
		app.startMetricsServer(cfg.Metrics.Addr)
	}
	return app, nil
}

// RunDiagnostics executes the startup checks against current config.
func (a *App) RunDiagnostics() domain.DiagnosticReport {
	return a.checker.Run(a.Config)
}

// NewJob builds a job from configured defaults, the given inputs, and
// per-invocation overrides already applied to settings.
func (a *App) NewJob(inputs []string, settings domain.Settings) domain.MediaJob {
	return domain.MediaJob{
		ID:        uuid.NewString(),
		Inputs:    inputs,
		OutputDir: a.Config.OutputDir,
		Settings:  settings,
	}
}

// WriteTranscripts exports each transcript of a finished job and
// returns the written paths. logLines become the processing log
// appendix of each document.
func (a *App) WriteTranscripts(job domain.MediaJob, outcome orchestrator.Outcome, logLines []string) ([]string, error) {
	details := document.Details{
		Model:       job.Settings.Model,
		Language:    job.Settings.Language,
		Device:      job.Settings.Device,
		SampleRate:  job.Settings.SampleRate,
		Channels:    job.Settings.Channels,
		ChunkLength: job.Settings.ChunkLength,
		Diarization: job.Settings.DiarizationEnabled,
		Workers:     job.Settings.Workers,
		GeneratedAt: time.Now(),
		Log:         logLines,
	}

	paths := make([]string, 0, len(outcome.Transcripts))
	for _, transcript := range outcome.Transcripts {
		path, err := a.Writer.Write(transcript, details, job.Settings.OutputFormat)
		if err != nil {
			return paths, fmt.Errorf("export %s: %w", transcript.Input, err)
		}
		a.Log.Info("transcript exported", "input", transcript.Input, "path", path)
		paths = append(paths, path)
	}
	return paths, nil
}

// Shutdown stops background services.
func (a *App) Shutdown(ctx context.Context) error {
	if a.metricsServer == nil {
		return nil
	}
	if err := a.metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startMetricsServer exposes /metrics on the configured address.
func (a *App) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Error("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
	a.Log.Info("metrics listening", "addr", addr)
}
