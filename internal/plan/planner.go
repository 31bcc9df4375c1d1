// Package plan computes the ordered chunk windows for a job.
package plan

import (
	"fmt"
	"time"

	"audio-transcriber/internal/domain"
)

// Chunks partitions [0, totalDuration) into windows of chunkLength.
// The final window keeps the remainder, however short, so the windows
// are contiguous, non-overlapping, and cover the duration exactly
// once. With chunking disabled, or when the audio fits in one window,
// a single descriptor spans the whole duration.
func Chunks(totalDuration, chunkLength time.Duration, chunkingEnabled bool) ([]domain.ChunkDescriptor, error) {
	if totalDuration <= 0 {
		return nil, domain.NewCodedError(domain.CodeInvalidConfiguration,
			fmt.Sprintf("total duration is not resolvable: %s", totalDuration), nil)
	}

	if !chunkingEnabled {
		return []domain.ChunkDescriptor{{Index: 0, Start: 0, Duration: totalDuration}}, nil
	}

	if chunkLength <= 0 {
		return nil, domain.NewCodedError(domain.CodeInvalidConfiguration,
			fmt.Sprintf("chunk length must be positive: %s", chunkLength), nil)
	}

	if totalDuration <= chunkLength {
		return []domain.ChunkDescriptor{{Index: 0, Start: 0, Duration: totalDuration}}, nil
	}

	count := int(totalDuration / chunkLength)
	if totalDuration%chunkLength != 0 {
		count++
	}

	descriptors := make([]domain.ChunkDescriptor, 0, count)
	for i := 0; i < count; i++ {
		start := time.Duration(i) * chunkLength
		length := chunkLength
		if start+length > totalDuration {
			length = totalDuration - start
		}
		descriptors = append(descriptors, domain.ChunkDescriptor{
			Index:    i,
			Start:    start,
			Duration: length,
		})
	}

	return descriptors, nil
}
