package diarize

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/media"
)

type fakeRunner struct {
	calls  [][]string
	result media.CommandResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.result, f.err
}

func TestDiarizeRenamesSpeakersStably(t *testing.T) {
	runner := &fakeRunner{result: media.CommandResult{
		Stdout: `[
			{"speaker_id": "spk_zz", "start": 5.0, "end": 9.0},
			{"speaker_id": "spk_aa", "start": 0.0, "end": 4.0},
			{"speaker_id": "spk_zz", "start": 12.0, "end": 15.0}
		]`,
	}}

	p := NewPyannoteCLIForTests("pyannote", runner, logging.Discard())
	spans, err := p.Diarize(context.Background(), "/audio/normalized.wav", Options{MinSpeakers: 1, MaxSpeakers: 3})
	if err != nil {
		t.Fatalf("Diarize returned error: %v", err)
	}

	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	// Renaming follows sorted raw identifiers: spk_aa -> SPEAKER_00.
	if spans[0].Speaker != "SPEAKER_00" || spans[0].Start != 0 {
		t.Fatalf("unexpected first span: %+v", spans[0])
	}
	if spans[1].Speaker != "SPEAKER_01" {
		t.Fatalf("unexpected second span: %+v", spans[1])
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start < spans[i-1].Start {
			t.Fatalf("spans not ordered by start: %+v", spans)
		}
	}
}

func TestDiarizeExactSpeakerCountArgs(t *testing.T) {
	runner := &fakeRunner{result: media.CommandResult{Stdout: `[]`}}
	p := NewPyannoteCLIForTests("pyannote", runner, logging.Discard())

	opts := Options{MinSpeakers: 2, MaxSpeakers: 2, Segmentation: 0.5, Device: "cuda"}
	if _, err := p.Diarize(context.Background(), "/audio/normalized.wav", opts); err != nil {
		t.Fatalf("Diarize returned error: %v", err)
	}

	args := runner.calls[0]
	sawNum := false
	for i, arg := range args {
		switch arg {
		case "--num-speakers":
			sawNum = true
			if args[i+1] != "2" {
				t.Fatalf("--num-speakers = %s, want 2", args[i+1])
			}
		case "--min-speakers", "--max-speakers":
			t.Fatalf("bounds flags must collapse to --num-speakers: %v", args)
		}
	}
	if !sawNum {
		t.Fatalf("missing --num-speakers: %v", args)
	}
}

func TestDiarizeBoundedSpeakerArgs(t *testing.T) {
	runner := &fakeRunner{result: media.CommandResult{Stdout: `[]`}}
	p := NewPyannoteCLIForTests("pyannote", runner, logging.Discard())

	if _, err := p.Diarize(context.Background(), "/audio/normalized.wav", Options{MinSpeakers: 1, MaxSpeakers: 4}); err != nil {
		t.Fatalf("Diarize returned error: %v", err)
	}

	args := runner.calls[0]
	wantPairs := map[string]string{"--min-speakers": "1", "--max-speakers": "4"}
	for flag, value := range wantPairs {
		found := false
		for i, arg := range args {
			if arg == flag && i+1 < len(args) && args[i+1] == value {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("args missing %s %s: %v", flag, value, args)
		}
	}
}

func TestDiarizeToolNotFound(t *testing.T) {
	runner := &fakeRunner{err: exec.ErrNotFound}
	p := NewPyannoteCLIForTests("pyannote", runner, logging.Discard())

	_, err := p.Diarize(context.Background(), "/audio/normalized.wav", Options{})
	if !domain.IsCode(err, domain.CodeToolNotFound) {
		t.Fatalf("expected tool not found, got %v", err)
	}
}

func TestMergeCloseTurnsJoinsSameSpeaker(t *testing.T) {
	spans := []domain.SpeakerSpan{
		{Speaker: "SPEAKER_00", Start: 0, End: 4 * time.Second},
		{Speaker: "SPEAKER_00", Start: 4200 * time.Millisecond, End: 8 * time.Second},
		{Speaker: "SPEAKER_01", Start: 9 * time.Second, End: 12 * time.Second},
		{Speaker: "SPEAKER_00", Start: 20 * time.Second, End: 22 * time.Second},
	}

	merged := MergeCloseTurns(spans, 500*time.Millisecond)
	if len(merged) != 3 {
		t.Fatalf("expected 3 spans after merge, got %d: %+v", len(merged), merged)
	}
	if merged[0].Speaker != "SPEAKER_00" || merged[0].End != 8*time.Second {
		t.Fatalf("close turns not merged: %+v", merged[0])
	}
	if merged[2].Start != 20*time.Second {
		t.Fatalf("distant turn must stay separate: %+v", merged[2])
	}
}

func TestMergeCloseTurnsKeepsDistinctSpeakersApart(t *testing.T) {
	spans := []domain.SpeakerSpan{
		{Speaker: "SPEAKER_00", Start: 0, End: 4 * time.Second},
		{Speaker: "SPEAKER_01", Start: 4100 * time.Millisecond, End: 8 * time.Second},
	}

	merged := MergeCloseTurns(spans, 500*time.Millisecond)
	if len(merged) != 2 {
		t.Fatalf("different speakers merged: %+v", merged)
	}
}
