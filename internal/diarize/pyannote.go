package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/media"
)

// defaultDiarizeTimeout bounds one diarization invocation.
const defaultDiarizeTimeout = 30 * time.Minute

// PyannoteCLI shells out to a pyannote runner script that prints a
// JSON array of speaker turns to stdout:
//
//	[{"speaker_id": "A", "start": 1.25, "end": 3.5}, ...]
//
// Speaker identifiers are renamed to SPEAKER_00, SPEAKER_01, ... in
// first-sorted order so output is stable across runs.
type PyannoteCLI struct {
	path   string
	runner media.CommandRunner
	log    *slog.Logger
}

// NewPyannoteCLI builds the production diarization adapter.
func NewPyannoteCLI(path string, log *slog.Logger) *PyannoteCLI {
	return &PyannoteCLI{path: path, runner: &media.ExecRunner{}, log: log}
}

// NewPyannoteCLIForTests builds the adapter with an injected runner.
func NewPyannoteCLIForTests(path string, runner media.CommandRunner, log *slog.Logger) *PyannoteCLI {
	return &PyannoteCLI{path: path, runner: runner, log: log}
}

// speakerTurn mirrors the runner's JSON output element.
type speakerTurn struct {
	SpeakerID string  `json:"speaker_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// Diarize runs the pyannote runner over the full normalized audio and
// returns post-processed spans in global time.
func (p *PyannoteCLI) Diarize(ctx context.Context, audioPath string, opts Options) ([]domain.SpeakerSpan, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultDiarizeTimeout)
	defer cancel()

	args := buildPyannoteArgs(audioPath, opts)
	result, runErr := p.runner.Run(callCtx, p.path, args...)
	if runErr != nil {
		if media.IsNotFound(runErr) {
			return nil, domain.NewCodedError(domain.CodeToolNotFound,
				fmt.Sprintf("pyannote runner not found: %s", p.path), runErr)
		}
		return nil, fmt.Errorf("diarization failed (exit=%d): %w", result.ExitCode, runErr)
	}

	var turns []speakerTurn
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &turns); err != nil {
		return nil, fmt.Errorf("decode diarization output: %w", err)
	}

	spans := renameSpeakers(turns)
	spans = MergeCloseTurns(spans, defaultTurnGap)

	p.log.Info("diarization complete",
		"audio", audioPath,
		"turns", len(spans),
		"speakers", countSpeakers(spans))
	return spans, nil
}

// Name identifies this implementation.
func (p *PyannoteCLI) Name() string { return "pyannote-cli" }

// buildPyannoteArgs assembles the runner invocation. Equal speaker
// bounds become an exact speaker count.
func buildPyannoteArgs(audioPath string, opts Options) []string {
	args := []string{audioPath}

	switch {
	case opts.MinSpeakers > 0 && opts.MinSpeakers == opts.MaxSpeakers:
		args = append(args, "--num-speakers", strconv.Itoa(opts.MinSpeakers))
	default:
		if opts.MinSpeakers > 0 {
			args = append(args, "--min-speakers", strconv.Itoa(opts.MinSpeakers))
		}
		if opts.MaxSpeakers > 0 {
			args = append(args, "--max-speakers", strconv.Itoa(opts.MaxSpeakers))
		}
	}
	if opts.Segmentation > 0 {
		args = append(args, "--segmentation", strconv.FormatFloat(opts.Segmentation, 'f', -1, 64))
	}
	if opts.Device != "" {
		args = append(args, "--device", opts.Device)
	}
	return args
}

// renameSpeakers maps raw speaker identifiers to sequential
// SPEAKER_NN labels, assigned in sorted order of the raw identifiers.
func renameSpeakers(turns []speakerTurn) []domain.SpeakerSpan {
	rawIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for _, turn := range turns {
		if _, ok := seen[turn.SpeakerID]; !ok {
			seen[turn.SpeakerID] = struct{}{}
			rawIDs = append(rawIDs, turn.SpeakerID)
		}
	}
	sort.Strings(rawIDs)

	mapping := make(map[string]string, len(rawIDs))
	for i, raw := range rawIDs {
		mapping[raw] = fmt.Sprintf("SPEAKER_%02d", i)
	}

	spans := make([]domain.SpeakerSpan, 0, len(turns))
	for _, turn := range turns {
		spans = append(spans, domain.SpeakerSpan{
			Speaker: mapping[turn.SpeakerID],
			Start:   secondsToDuration(turn.Start),
			End:     secondsToDuration(turn.End),
		})
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	return spans
}

// countSpeakers returns the number of distinct speakers in spans.
func countSpeakers(spans []domain.SpeakerSpan) int {
	seen := make(map[string]struct{})
	for _, span := range spans {
		seen[span.Speaker] = struct{}{}
	}
	return len(seen)
}

// secondsToDuration converts fractional seconds to a duration.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
}
