package plan

import (
	"testing"
	"time"

	"audio-transcriber/internal/domain"
)

func TestChunksPartitionsWithRemainder(t *testing.T) {
	chunks, err := Chunks(620*time.Second, 300*time.Second, true)
	if err != nil {
		t.Fatalf("Chunks returned error: %v", err)
	}

	want := []domain.ChunkDescriptor{
		{Index: 0, Start: 0, Duration: 300 * time.Second},
		{Index: 1, Start: 300 * time.Second, Duration: 300 * time.Second},
		{Index: 2, Start: 600 * time.Second, Duration: 20 * time.Second},
	}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, chunk := range chunks {
		if chunk != want[i] {
			t.Fatalf("chunk %d = %+v, want %+v", i, chunk, want[i])
		}
	}
}

func TestChunksExactMultiple(t *testing.T) {
	chunks, err := Chunks(600*time.Second, 300*time.Second, true)
	if err != nil {
		t.Fatalf("Chunks returned error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.Duration != 300*time.Second {
			t.Fatalf("chunk %d duration = %s, want 300s", chunk.Index, chunk.Duration)
		}
	}
}

func TestChunksShortInputSingleWindow(t *testing.T) {
	chunks, err := Chunks(120*time.Second, 300*time.Second, true)
	if err != nil {
		t.Fatalf("Chunks returned error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].Duration != 120*time.Second {
		t.Fatalf("unexpected single chunk: %+v", chunks[0])
	}
}

func TestChunksDisabledSingleWindow(t *testing.T) {
	chunks, err := Chunks(2*time.Hour, 300*time.Second, false)
	if err != nil {
		t.Fatalf("Chunks returned error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if chunks[0].Duration != 2*time.Hour {
		t.Fatalf("single chunk duration = %s, want 2h", chunks[0].Duration)
	}
}

func TestChunksCoverExactly(t *testing.T) {
	total := 3723*time.Second + 456*time.Millisecond
	chunks, err := Chunks(total, 300*time.Second, true)
	if err != nil {
		t.Fatalf("Chunks returned error: %v", err)
	}

	var cursor time.Duration
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Fatalf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Start != cursor {
			t.Fatalf("chunk %d starts at %s, want %s", i, chunk.Start, cursor)
		}
		if chunk.Duration <= 0 {
			t.Fatalf("chunk %d has non-positive duration %s", i, chunk.Duration)
		}
		cursor = chunk.End()
	}
	if cursor != total {
		t.Fatalf("chunks cover %s, want %s", cursor, total)
	}
}

func TestChunksRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name        string
		total       time.Duration
		chunkLength time.Duration
		enabled     bool
	}{
		{"zero duration", 0, 300 * time.Second, true},
		{"negative duration", -time.Second, 300 * time.Second, true},
		{"zero chunk length", 600 * time.Second, 0, true},
		{"negative chunk length", 600 * time.Second, -time.Second, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Chunks(tc.total, tc.chunkLength, tc.enabled); err == nil {
				t.Fatal("expected error, got nil")
			} else if !domain.IsCode(err, domain.CodeInvalidConfiguration) {
				t.Fatalf("expected invalid configuration, got %v", err)
			}
		})
	}
}
