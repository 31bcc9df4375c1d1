package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"audio-transcriber/internal/domain"
)

// Outcome is the terminal result of one job: merged transcripts on
// success, a chunk-level failure breakdown on failure, or a
// cancellation acknowledgment.
type Outcome struct {
	JobID        string               `json:"jobId"`
	Status       domain.JobStatus     `json:"status"`
	Transcripts  []domain.Transcript  `json:"transcripts,omitempty"`
	FailedChunks []domain.ChunkResult `json:"failedChunks,omitempty"`
	Err          error                `json:"-"`
}

// Handle tracks one submitted job. All mutable state is guarded by a
// single job-level mutex; chunk results are single-writer (the owning
// worker) and read by others only after turning terminal.
type Handle struct {
	Job domain.MediaJob

	mu      sync.Mutex
	status  domain.JobStatus
	slots   []*chunkSlot
	work    []*inputWork
	outcome Outcome

	events          *EventBus
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// chunkSlot pairs one planned chunk with its live result.
type chunkSlot struct {
	input  string
	desc   domain.ChunkDescriptor
	result domain.ChunkResult
}

// newHandle builds a pending handle for a validated job.
func newHandle(job domain.MediaJob, cancel context.CancelFunc) *Handle {
	return &Handle{
		Job:    job,
		status: domain.JobStatusPending,
		events: NewEventBus(1000),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// validTransition enforces the allowed job state machine edges.
func validTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusPlanning || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusPlanning:
		return to == domain.JobStatusRunning || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusRunning:
		return to == domain.JobStatusMerging || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusMerging:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	default:
		return false
	}
}

// transition validates and applies a status change, publishing it.
func (h *Handle) transition(to domain.JobStatus, message string) error {
	h.mu.Lock()
	from := h.status
	if from == to {
		h.mu.Unlock()
		return nil
	}
	if !validTransition(from, to) {
		h.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	h.status = to
	h.mu.Unlock()

	h.events.Publish(Event{
		JobID:   h.Job.ID,
		Type:    EventTypeStatus,
		Status:  to,
		Message: message,
	})
	return nil
}

// Status returns the current job status.
func (h *Handle) Status() domain.JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Events returns job events with sequence greater than sinceSeq.
func (h *Handle) Events(sinceSeq int64) []Event {
	return h.events.Since(sinceSeq)
}

// addSlots registers planned chunks for one input.
func (h *Handle) addSlots(input string, descriptors []domain.ChunkDescriptor) []*chunkSlot {
	slots := make([]*chunkSlot, 0, len(descriptors))
	for _, desc := range descriptors {
		slots = append(slots, &chunkSlot{
			input: input,
			desc:  desc,
			result: domain.ChunkResult{
				Index: desc.Index,
				State: domain.ChunkPending,
			},
		})
	}

	h.mu.Lock()
	h.slots = append(h.slots, slots...)
	h.mu.Unlock()
	return slots
}

// setChunkState records one chunk state change and publishes it.
func (h *Handle) setChunkState(slot *chunkSlot, state domain.ChunkState, message string) {
	h.mu.Lock()
	slot.result.State = state
	h.mu.Unlock()

	h.events.Publish(Event{
		JobID:      h.Job.ID,
		Type:       EventTypeChunk,
		ChunkIndex: slot.desc.Index,
		ChunkState: state,
		Input:      slot.input,
		Message:    message,
	})
}

// failedFraction returns failed chunk count over total planned chunks.
func (h *Handle) failedFraction() (int, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	failed := 0
	for _, slot := range h.slots {
		if slot.result.State == domain.ChunkFailed {
			failed++
		}
	}
	if len(h.slots) == 0 {
		return 0, 0
	}
	return failed, float64(failed) / float64(len(h.slots))
}

// requestCancel flags cooperative cancellation and cancels the job
// context. Idempotent.
func (h *Handle) requestCancel() {
	h.mu.Lock()
	already := h.cancelRequested
	h.cancelRequested = true
	h.mu.Unlock()
	if already {
		return
	}

	h.events.Publish(Event{
		JobID:   h.Job.ID,
		Type:    EventTypeStatus,
		Message: "cancellation requested",
	})
	h.cancel()
}

// cancelled reports whether cancellation was requested.
func (h *Handle) cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelRequested
}

// Progress computes a read-only snapshot from current chunk states.
func (h *Handle) Progress() domain.ProgressSnapshot {
	h.mu.Lock()
	snapshot := domain.ProgressSnapshot{
		JobID:  h.Job.ID,
		Status: h.status,
		Total:  len(h.slots),
	}
	terminal := 0
	for _, slot := range h.slots {
		switch slot.result.State {
		case domain.ChunkPending:
			snapshot.Pending++
		case domain.ChunkRunning:
			snapshot.Running++
		case domain.ChunkSucceeded:
			snapshot.Succeeded++
			terminal++
		case domain.ChunkFailed:
			snapshot.Failed++
			terminal++
		case domain.ChunkCancelled:
			snapshot.Cancelled++
			terminal++
		}
	}
	status := h.status
	h.mu.Unlock()

	if snapshot.Total > 0 {
		snapshot.Percent = 100 * float64(terminal) / float64(snapshot.Total)
	} else if status.Terminal() {
		snapshot.Percent = 100
	}
	snapshot.LastMessage = h.events.LastMessage()
	return snapshot
}

// finish records the outcome, closes the done channel, and marks the
// terminal status.
func (h *Handle) finish(outcome Outcome) {
	h.mu.Lock()
	h.outcome = outcome
	h.status = outcome.Status
	h.mu.Unlock()

	message := string(outcome.Status)
	if outcome.Err != nil {
		message = outcome.Err.Error()
	}
	h.events.Publish(Event{
		JobID:   h.Job.ID,
		Type:    EventTypeStatus,
		Status:  outcome.Status,
		Message: message,
	})
	close(h.done)
}

// Await blocks until the job reaches a terminal state or the caller's
// context expires.
func (h *Handle) Await(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-h.done:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, nil
}

// AwaitTimeout is a convenience wrapper around Await with a deadline.
func (h *Handle) AwaitTimeout(timeout time.Duration) (Outcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Await(ctx)
}
