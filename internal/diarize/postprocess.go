package diarize

import (
	"sort"
	"time"

	"audio-transcriber/internal/domain"
)

// defaultTurnGap is the largest silence between two turns of the same
// speaker that still merges them into one span.
const defaultTurnGap = 500 * time.Millisecond

// MergeCloseTurns joins consecutive spans of the same speaker
// separated by less than maxGap, which smooths over diarization
// jitter around short pauses. The result is ordered by start time.
func MergeCloseTurns(spans []domain.SpeakerSpan, maxGap time.Duration) []domain.SpeakerSpan {
	if len(spans) == 0 {
		return spans
	}

	bySpeaker := make(map[string][]domain.SpeakerSpan)
	for _, span := range spans {
		bySpeaker[span.Speaker] = append(bySpeaker[span.Speaker], span)
	}

	merged := make([]domain.SpeakerSpan, 0, len(spans))
	for _, turns := range bySpeaker {
		sort.Slice(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })

		current := turns[0]
		for _, next := range turns[1:] {
			if next.Start-current.End < maxGap {
				if next.End > current.End {
					current.End = next.End
				}
				continue
			}
			merged = append(merged, current)
			current = next
		}
		merged = append(merged, current)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Start != merged[j].Start {
			return merged[i].Start < merged[j].Start
		}
		return merged[i].End < merged[j].End
	})
	return merged
}
