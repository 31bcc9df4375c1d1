// Package diarize defines the speaker-diarization adapter boundary.
package diarize

import (
	"context"

	"audio-transcriber/internal/domain"
)

// Options are per-call diarization parameters.
type Options struct {
	// MinSpeakers and MaxSpeakers bound the speaker count; equal
	// values fix the exact number of speakers.
	MinSpeakers int
	MaxSpeakers int

	// Segmentation tunes turn granularity; higher yields more turns.
	Segmentation float64

	// Device selects the inference device ("cpu" or "cuda").
	Device string
}

// Diarizer is the opaque diarization capability. Spans are returned
// in global time, ordered by start. Absent entirely when diarization
// is disabled.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, opts Options) ([]domain.SpeakerSpan, error)
	Name() string
}

// Noop returns no spans; transcripts stay unattributed.
type Noop struct{}

// Diarize implements Diarizer with an empty result.
func (Noop) Diarize(ctx context.Context, audioPath string, opts Options) ([]domain.SpeakerSpan, error) {
	return nil, nil
}

// Name identifies this implementation.
func (Noop) Name() string { return "noop" }
