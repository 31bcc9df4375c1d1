// Package diagnostics validates external tools and required
// filesystem paths before any transcription work starts.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"audio-transcriber/internal/asr"
	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
// Diarization tooling is only required when diarization is enabled;
// otherwise its check is skipped rather than failed.
func (c *Checker) Run(cfg config.Config) domain.DiagnosticReport {
	settings := cfg.Defaults.Settings()

	items := []domain.DiagnosticItem{
		c.checkTool("ffmpeg", cfg.Tools.FFmpeg),
		c.checkTool("ffprobe", cfg.Tools.FFprobe),
		c.checkTool("whisper", cfg.Tools.Whisper),
		c.checkDiarizationTool(cfg.Tools.Pyannote, settings.DiarizationEnabled),
		c.checkModel(settings.Model),
		c.checkModelPath(settings.ModelPath),
		c.checkOutputDir(cfg.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable resolves, either as an
// absolute path or on PATH.
func (c *Checker) checkTool(id, command string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "tool_" + id,
		Name: id,
	}

	if strings.TrimSpace(command) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("No command configured for %s.", id)
		item.Hint = "Set the tool path in the configuration file."
		return item
	}

	if filepath.IsAbs(command) {
		if _, err := c.stat(command); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Configured path does not exist: %s", command)
			item.Hint = "Install the tool or fix the configured path."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s", command)
		return item
	}

	path, err := c.lookPath(command)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", command)
		item.Hint = "Install it and ensure the binary is available on PATH before starting a transcription job."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkDiarizationTool checks the diarization CLI only when enabled.
func (c *Checker) checkDiarizationTool(command string, enabled bool) domain.DiagnosticItem {
	if !enabled {
		return domain.DiagnosticItem{
			ID:      "tool_pyannote",
			Name:    "pyannote",
			Status:  domain.DiagnosticStatusSkip,
			Message: "Diarization is disabled.",
		}
	}
	return c.checkTool("pyannote", command)
}

// checkModel validates the configured default model identifier.
func (c *Checker) checkModel(model string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model",
		Name: "Model",
	}

	if strings.TrimSpace(model) == "" {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "No default model configured; jobs must set one."
		return item
	}
	if !asr.KnownModel(model) {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Unknown model: %s", model)
		item.Hint = "Pick one of the supported model identifiers (see the models command)."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model %q is supported.", model)
	return item
}

// checkModelPath validates the configured model file or directory.
// An empty path is fine when the recognition CLI downloads models
// itself.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "Model path not set; the recognition tool manages its own models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a model and configure the path, or clear it to use managed models."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	if _, err := c.readDir(modelPath); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model directory is readable: %s", modelPath)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where transcript files can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for transcript export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
