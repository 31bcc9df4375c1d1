// Package media converts arbitrary audio/video inputs into the
// normalized PCM stream the recognition stack consumes, and
// materializes per-chunk audio windows from it.
package media

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"audio-transcriber/internal/domain"
)

// normalizedFileName is the cached normalized WAV inside a workspace.
const normalizedFileName = "normalized.wav"

// Normalizer shells out to ffmpeg/ffprobe to produce a mono or stereo
// PCM WAV of known sample rate and duration. Workspaces are keyed by a
// blake3 fingerprint of the input so re-runs reuse the normalized
// audio instead of converting again.
type Normalizer struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	sampleRate  int
	channels    int
	runner      CommandRunner
	log         *slog.Logger
}

// NewNormalizer builds a normalizer using the real exec runner.
func NewNormalizer(ffmpegPath, ffprobePath, workDir string, sampleRate, channels int, log *slog.Logger) *Normalizer {
	return &Normalizer{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		workDir:     workDir,
		sampleRate:  sampleRate,
		channels:    channels,
		runner:      &ExecRunner{},
		log:         log,
	}
}

// NewNormalizerForTests builds a normalizer with an injected runner.
func NewNormalizerForTests(ffmpegPath, ffprobePath, workDir string, sampleRate, channels int, runner CommandRunner, log *slog.Logger) *Normalizer {
	n := NewNormalizer(ffmpegPath, ffprobePath, workDir, sampleRate, channels, log)
	n.runner = runner
	return n
}

// Normalize converts the input into a normalized WAV and reports its
// duration. The returned path lives inside a fingerprint-keyed
// workspace under the configured work directory.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, time.Duration, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", 0, domain.NewCodedError(domain.CodeUnsupportedFormat,
			fmt.Sprintf("cannot access input media: %s", inputPath), err)
	}

	workspace, err := n.Workspace(inputPath)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", 0, fmt.Errorf("create workspace %s: %w", workspace, err)
	}

	wavPath := filepath.Join(workspace, normalizedFileName)
	if _, err := os.Stat(wavPath); err == nil {
		duration, probeErr := n.Duration(ctx, wavPath)
		if probeErr == nil {
			n.log.Debug("reusing normalized audio", "input", inputPath, "wav", wavPath)
			return wavPath, duration, nil
		}
		// Stale or truncated cache entry; convert again.
		_ = os.Remove(wavPath)
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(n.sampleRate),
		"-ac", strconv.Itoa(n.channels),
		wavPath,
	}
	result, runErr := n.runner.Run(ctx, n.ffmpegPath, args...)
	if runErr != nil {
		if IsNotFound(runErr) {
			return "", 0, domain.NewCodedError(domain.CodeToolNotFound,
				fmt.Sprintf("ffmpeg not found: %s", n.ffmpegPath), runErr)
		}
		return "", 0, domain.NewCodedError(domain.CodeUnsupportedFormat,
			fmt.Sprintf("ffmpeg conversion failed for %s: %s", inputPath, tail(result.Stderr)), runErr)
	}
	if _, err := os.Stat(wavPath); err != nil {
		return "", 0, domain.NewCodedError(domain.CodeUnsupportedFormat,
			"ffmpeg completed but normalized output is missing", err)
	}

	duration, err := n.Duration(ctx, wavPath)
	if err != nil {
		return "", 0, err
	}

	n.log.Info("normalized input",
		"input", inputPath,
		"wav", wavPath,
		"duration", duration,
		"sample_rate", n.sampleRate,
		"channels", n.channels)
	return wavPath, duration, nil
}

// Duration probes a media file's duration via ffprobe.
func (n *Normalizer) Duration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	result, err := n.runner.Run(ctx, n.ffprobePath, args...)
	if err != nil {
		if IsNotFound(err) {
			return 0, domain.NewCodedError(domain.CodeToolNotFound,
				fmt.Sprintf("ffprobe not found: %s", n.ffprobePath), err)
		}
		return 0, domain.NewCodedError(domain.CodeInvalidConfiguration,
			fmt.Sprintf("cannot read duration of %s: %s", path, tail(result.Stderr)), err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil || seconds <= 0 {
		return 0, domain.NewCodedError(domain.CodeInvalidConfiguration,
			fmt.Sprintf("duration of %s is not resolvable: %q", path, strings.TrimSpace(result.Stdout)), err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// CutWindow materializes one chunk window from the normalized WAV.
// The chunk file lives next to the WAV under a chunks/ directory and
// is reclaimed by CleanupChunks after merging.
func (n *Normalizer) CutWindow(ctx context.Context, wavPath string, desc domain.ChunkDescriptor) (string, error) {
	chunkDir := filepath.Join(filepath.Dir(wavPath), "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}

	chunkPath := filepath.Join(chunkDir, fmt.Sprintf("chunk_%03d.wav", desc.Index))
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(desc.Start),
		"-t", formatSeconds(desc.Duration),
		"-i", wavPath,
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(n.sampleRate),
		"-ac", strconv.Itoa(n.channels),
		chunkPath,
	}
	result, err := n.runner.Run(ctx, n.ffmpegPath, args...)
	if err != nil {
		if IsNotFound(err) {
			return "", domain.NewCodedError(domain.CodeToolNotFound,
				fmt.Sprintf("ffmpeg not found: %s", n.ffmpegPath), err)
		}
		return "", fmt.Errorf("cut %s: %s: %w", desc, tail(result.Stderr), err)
	}
	if _, err := os.Stat(chunkPath); err != nil {
		return "", fmt.Errorf("cut %s: output missing: %w", desc, err)
	}

	return chunkPath, nil
}

// CleanupChunks removes the chunk window files for a normalized WAV.
func (n *Normalizer) CleanupChunks(wavPath string) error {
	return os.RemoveAll(filepath.Join(filepath.Dir(wavPath), "chunks"))
}

// Workspace returns the fingerprint-keyed directory for an input file.
func (n *Normalizer) Workspace(inputPath string) (string, error) {
	sum, err := fingerprint(inputPath)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", inputPath, err)
	}
	return filepath.Join(n.workDir, sum), nil
}

// fingerprint hashes the file content with blake3 and returns a short
// hex key stable across runs.
func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// tail returns the last portion of command output for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 300
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

// formatSeconds renders a duration as fractional seconds for ffmpeg.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
