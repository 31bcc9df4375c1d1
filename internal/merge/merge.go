// Package merge reassembles per-chunk transcription results into the
// canonical ordered utterance sequence, optionally labeled with
// diarization speakers.
package merge

import (
	"fmt"
	"sort"
	"time"

	"audio-transcriber/internal/domain"
)

// smoothingGap is the largest silence across which an unattributed
// utterance inherits the previous utterance's speaker.
const smoothingGap = time.Second

// Build sorts chunk results by chunk index, rebases their chunk-local
// timestamps to global time using the matching descriptor's window
// start, and concatenates the segments into one utterance sequence.
// Chunk index is the sole ordering truth: arrival order under
// concurrent execution is meaningless. Segments split at a chunk edge
// stay separate utterances; no joining heuristic is applied.
func Build(descriptors []domain.ChunkDescriptor, results []domain.ChunkResult) ([]domain.Utterance, error) {
	byIndex := make(map[int]domain.ChunkDescriptor, len(descriptors))
	for _, desc := range descriptors {
		byIndex[desc.Index] = desc
	}

	if len(results) > len(descriptors) {
		return nil, domain.NewCodedError(domain.CodeMergeInconsistency,
			fmt.Sprintf("more results than planned chunks: %d > %d", len(results), len(descriptors)), nil)
	}

	ordered := append([]domain.ChunkResult(nil), results...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	seen := make(map[int]struct{}, len(ordered))
	utterances := make([]domain.Utterance, 0)
	for _, result := range ordered {
		desc, ok := byIndex[result.Index]
		if !ok {
			return nil, domain.NewCodedError(domain.CodeMergeInconsistency,
				fmt.Sprintf("result references unknown chunk index %d (planned: %d chunks)", result.Index, len(descriptors)), nil)
		}
		if _, dup := seen[result.Index]; dup {
			return nil, domain.NewCodedError(domain.CodeMergeInconsistency,
				fmt.Sprintf("duplicate result for chunk index %d", result.Index), nil)
		}
		seen[result.Index] = struct{}{}

		for _, segment := range result.Segments {
			utterances = append(utterances, domain.Utterance{
				Start: desc.Start + segment.Start,
				End:   desc.Start + segment.End,
				Text:  segment.Text,
			})
		}
	}

	return utterances, nil
}

// AssignSpeakers labels each utterance with the speaker whose spans
// overlap it the most. Ties go to the span with the earlier start.
// Utterances no span overlaps keep an empty speaker, then inherit the
// previous speaker when the gap between them is under one second.
func AssignSpeakers(utterances []domain.Utterance, spans []domain.SpeakerSpan) []domain.Utterance {
	if len(spans) == 0 {
		return utterances
	}

	sorted := append([]domain.SpeakerSpan(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	labeled := append([]domain.Utterance(nil), utterances...)
	for i := range labeled {
		labeled[i].Speaker = dominantSpeaker(labeled[i], sorted)
	}

	// Carry speakers over tiny gaps the diarizer missed.
	for i := 1; i < len(labeled); i++ {
		if labeled[i].Speaker != "" || labeled[i-1].Speaker == "" {
			continue
		}
		if labeled[i].Start-labeled[i-1].End < smoothingGap {
			labeled[i].Speaker = labeled[i-1].Speaker
		}
	}

	return labeled
}

// dominantSpeaker picks the speaker with maximal total overlap against
// the utterance interval. Iterating spans in (start, end) order with a
// strictly-greater comparison makes the earlier span win exact ties.
func dominantSpeaker(u domain.Utterance, sorted []domain.SpeakerSpan) string {
	totals := make(map[string]time.Duration)
	order := make([]string, 0, 2)

	for _, span := range sorted {
		overlap := overlapDuration(u.Start, u.End, span.Start, span.End)
		if overlap <= 0 {
			continue
		}
		if _, ok := totals[span.Speaker]; !ok {
			order = append(order, span.Speaker)
		}
		totals[span.Speaker] += overlap
	}

	best := ""
	var bestOverlap time.Duration
	for _, speaker := range order {
		if totals[speaker] > bestOverlap {
			bestOverlap = totals[speaker]
			best = speaker
		}
	}
	return best
}

// overlapDuration returns the length of the intersection of two
// half-open intervals.
func overlapDuration(aStart, aEnd, bStart, bEnd time.Duration) time.Duration {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
