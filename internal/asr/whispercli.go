package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/media"
)

// defaultTranscribeTimeout bounds one whisper invocation when the
// caller does not supply a timeout.
const defaultTranscribeTimeout = 20 * time.Minute

// WhisperCLI shells out to a whisper command-line tool that writes a
// JSON transcript next to the audio file: an object with a "segments"
// array carrying fractional-second start/end times.
type WhisperCLI struct {
	path     string
	runner   media.CommandRunner
	readFile func(string) ([]byte, error)
	log      *slog.Logger
}

// NewWhisperCLI builds the production whisper adapter.
func NewWhisperCLI(path string, log *slog.Logger) *WhisperCLI {
	return &WhisperCLI{
		path:     path,
		runner:   &media.ExecRunner{},
		readFile: os.ReadFile,
		log:      log,
	}
}

// NewWhisperCLIForTests builds the adapter with injected dependencies.
func NewWhisperCLIForTests(path string, runner media.CommandRunner, readFile func(string) ([]byte, error), log *slog.Logger) *WhisperCLI {
	return &WhisperCLI{path: path, runner: runner, readFile: readFile, log: log}
}

// whisperOutput mirrors the tool's JSON transcript. Times are decimal
// fractional seconds; parsing through decimal avoids float drift when
// converting to milliseconds.
type whisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Text  string          `json:"text"`
	Start decimal.Decimal `json:"start"`
	End   decimal.Decimal `json:"end"`
}

// Transcribe runs the whisper CLI on one audio window and parses the
// JSON transcript it produces.
func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTranscribeTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outDir := filepath.Dir(audioPath)
	args := buildWhisperArgs(audioPath, outDir, opts)

	started := time.Now()
	result, runErr := w.runner.Run(callCtx, w.path, args...)
	if runErr != nil {
		if media.IsNotFound(runErr) {
			return nil, domain.NewCodedError(domain.CodeToolNotFound,
				fmt.Sprintf("whisper not found: %s", w.path), runErr)
		}
		if isResourceExhausted(result.Stderr) {
			return nil, domain.NewCodedError(domain.CodeResourceExhausted,
				"whisper ran out of device memory", runErr)
		}
		return nil, fmt.Errorf("whisper failed (exit=%d): %w", result.ExitCode, runErr)
	}

	jsonPath := transcriptJSONPath(audioPath)
	data, err := w.readFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("whisper completed but transcript %s is missing: %w", jsonPath, err)
	}

	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode whisper transcript %s: %w", jsonPath, err)
	}

	segments := make([]domain.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, domain.Segment{
			Start: msToDuration(s.Start),
			End:   msToDuration(s.End),
			Text:  strings.TrimSpace(s.Text),
		})
	}

	w.log.Debug("transcribed window",
		"audio", audioPath,
		"segments", len(segments),
		"elapsed", time.Since(started))
	return &Result{
		Segments: segments,
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
	}, nil
}

// HealthCheck verifies the whisper executable responds.
func (w *WhisperCLI) HealthCheck(ctx context.Context) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := w.runner.Run(checkCtx, w.path, "--help"); err != nil {
		return false, err
	}
	return true, nil
}

// Name identifies this implementation.
func (w *WhisperCLI) Name() string {
	return "whisper-cli"
}

// buildWhisperArgs assembles the CLI invocation for JSON output.
func buildWhisperArgs(audioPath, outDir string, opts Options) []string {
	args := []string{
		audioPath,
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.ModelDir != "" {
		args = append(args, "--model_dir", opts.ModelDir)
	}
	if opts.Device != "" {
		args = append(args, "--device", opts.Device)
	}
	if lang := normalizeLanguage(opts.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	return args
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// transcriptJSONPath returns the JSON transcript path the tool writes
// for a given audio file.
func transcriptJSONPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// msToDuration converts decimal seconds to a millisecond-precise
// duration.
func msToDuration(seconds decimal.Decimal) time.Duration {
	ms := seconds.Mul(decimal.NewFromInt(1000)).IntPart()
	return time.Duration(ms) * time.Millisecond
}

// isResourceExhausted classifies out-of-memory failures as retryable.
func isResourceExhausted(stderr string) bool {
	lowered := strings.ToLower(stderr)
	return strings.Contains(lowered, "out of memory") ||
		strings.Contains(lowered, "oom") ||
		strings.Contains(lowered, "cannot allocate")
}
