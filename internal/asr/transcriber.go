// Package asr defines the recognition adapter boundary and its
// whisper CLI and mock implementations.
package asr

import (
	"context"
	"time"

	"audio-transcriber/internal/domain"
)

// Options are per-call transcription parameters. All fields are
// optional; implementations provide defaults.
type Options struct {
	// Model is the whisper model name (e.g. "base", "medium").
	Model string

	// ModelDir optionally points to a local model cache directory.
	ModelDir string

	// Language forces a transcription language (ISO 639-1); empty or
	// "auto" means detection.
	Language string

	// Device selects the inference device ("cpu" or "cuda").
	Device string

	// Timeout bounds one transcription call. Zero means the default.
	Timeout time.Duration
}

// Result is the outcome of transcribing one audio window. Segment
// offsets are relative to the window start.
type Result struct {
	Segments []domain.Segment
	Text     string
	Language string
}

// Transcriber is the opaque recognition capability consumed by the
// orchestrator. Implementations must respect context cancellation and
// return an empty Result rather than an error for silent audio.
type Transcriber interface {
	// Transcribe recognizes speech in one WAV file.
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)

	// HealthCheck reports whether the engine is ready to transcribe.
	HealthCheck(ctx context.Context) (bool, error)

	// Name identifies the implementation for logs and metrics.
	Name() string
}
