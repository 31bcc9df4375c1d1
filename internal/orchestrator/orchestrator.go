// Package orchestrator schedules chunked transcription work with
// bounded concurrency, live progress, cooperative cancellation, and
// deterministic reassembly of partial results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"audio-transcriber/internal/asr"
	"audio-transcriber/internal/diarize"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/merge"
	"audio-transcriber/internal/metrics"
	"audio-transcriber/internal/plan"
)

// errThresholdExceeded aborts remaining chunk work once the failed
// fraction passes the job's threshold.
var errThresholdExceeded = errors.New("failed chunk threshold exceeded")

// retryable reports whether a chunk error is worth another attempt.
// Missing tools and undecodable media fail the same way every time.
func retryable(err error) bool {
	switch domain.CodeOf(err) {
	case domain.CodeToolNotFound, domain.CodeUnsupportedFormat, domain.CodeInvalidConfiguration:
		return false
	default:
		return true
	}
}

// Normalizer is the audio-normalization capability the orchestrator
// consumes; implemented by media.Normalizer.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, time.Duration, error)
	CutWindow(ctx context.Context, wavPath string, desc domain.ChunkDescriptor) (string, error)
	CleanupChunks(wavPath string) error
}

// Orchestrator runs transcription jobs. The recognition semaphore is
// process-wide: concurrent jobs contend for the same bounded set of
// recognition slots rather than oversubscribing a shared engine.
type Orchestrator struct {
	normalizer  Normalizer
	transcriber asr.Transcriber
	diarizer    diarize.Diarizer
	log         *slog.Logger

	recognitionSlots *semaphore.Weighted

	mu   sync.Mutex
	jobs map[string]*Handle
}

// New builds an orchestrator. maxRecognition bounds concurrent
// recognition calls across all jobs; 1 serializes access to an
// exclusive engine such as a single GPU context.
func New(normalizer Normalizer, transcriber asr.Transcriber, diarizer diarize.Diarizer, maxRecognition int, log *slog.Logger) *Orchestrator {
	if maxRecognition <= 0 {
		maxRecognition = 1
	}
	if diarizer == nil {
		diarizer = diarize.Noop{}
	}
	return &Orchestrator{
		normalizer:       normalizer,
		transcriber:      transcriber,
		diarizer:         diarizer,
		log:              log,
		recognitionSlots: semaphore.NewWeighted(int64(maxRecognition)),
		jobs:             make(map[string]*Handle),
	}
}

// Submit validates the job, registers a handle, and starts processing
// asynchronously. It never blocks on chunk work.
func (o *Orchestrator) Submit(job domain.MediaJob) (*Handle, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := newHandle(job, cancel)

	o.mu.Lock()
	o.jobs[job.ID] = handle
	o.mu.Unlock()

	metrics.ActiveJobs.Inc()
	o.log.Info("job submitted",
		"job_id", job.ID,
		"inputs", len(job.Inputs),
		"workers", job.Settings.Workers,
		"chunking", job.Settings.ChunkingEnabled,
		"diarization", job.Settings.DiarizationEnabled)

	go o.runJob(ctx, handle)
	return handle, nil
}

// Cancel requests cooperative cancellation. Pending chunks move
// straight to Cancelled; in-flight adapter calls finish and their
// results are discarded.
func (o *Orchestrator) Cancel(handle *Handle) {
	handle.requestCancel()
}

// Progress returns a non-blocking snapshot of job progress.
func (o *Orchestrator) Progress(handle *Handle) domain.ProgressSnapshot {
	return handle.Progress()
}

// Await blocks until the job is terminal and returns its outcome.
func (o *Orchestrator) Await(ctx context.Context, handle *Handle) (Outcome, error) {
	return handle.Await(ctx)
}

// PartialTranscripts merges whatever chunks succeeded for a terminal
// job, without speaker attribution. Lets callers salvage a best-effort
// transcript from a failed or cancelled job; never written to disk
// automatically.
func (o *Orchestrator) PartialTranscripts(h *Handle) ([]domain.Transcript, error) {
	h.mu.Lock()
	status := h.status
	work := h.work
	h.mu.Unlock()

	if !status.Terminal() {
		return nil, domain.NewCodedError(domain.CodeInvalidConfiguration,
			fmt.Sprintf("job %s is still %s", h.Job.ID, status), nil)
	}

	transcripts := make([]domain.Transcript, 0, len(work))
	for _, input := range work {
		results := make([]domain.ChunkResult, 0, len(input.slots))
		h.mu.Lock()
		for _, slot := range input.slots {
			if slot.result.State == domain.ChunkSucceeded {
				results = append(results, slot.result)
			}
		}
		h.mu.Unlock()

		utterances, err := merge.Build(input.descriptors, results)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, domain.Transcript{
			Input:      input.path,
			Duration:   input.duration,
			Utterances: utterances,
		})
	}
	return transcripts, nil
}

// Lookup returns the handle for a job ID, if it exists.
func (o *Orchestrator) Lookup(jobID string) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	handle, ok := o.jobs[jobID]
	return handle, ok
}

// validateJob rejects bad configuration before any work starts.
func validateJob(job domain.MediaJob) error {
	var problems []string

	if strings.TrimSpace(job.ID) == "" {
		problems = append(problems, "job id is required")
	}
	if len(job.Inputs) == 0 {
		problems = append(problems, "at least one input is required")
	}
	s := job.Settings
	if s.ChunkingEnabled && s.ChunkLength <= 0 {
		problems = append(problems, fmt.Sprintf("chunk length must be positive, got %s", s.ChunkLength))
	}
	if s.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("workers must be positive, got %d", s.Workers))
	}
	if s.ChunkRetries < 0 {
		problems = append(problems, fmt.Sprintf("chunk retries must not be negative, got %d", s.ChunkRetries))
	}
	if s.FailureThreshold < 0 || s.FailureThreshold > 1 {
		problems = append(problems, fmt.Sprintf("failure threshold must be in [0,1], got %g", s.FailureThreshold))
	}
	if s.Model != "" && !asr.KnownModel(s.Model) {
		problems = append(problems, fmt.Sprintf("unknown model %q", s.Model))
	}
	if s.DiarizationEnabled && (s.MinSpeakers <= 0 || s.MaxSpeakers < s.MinSpeakers) {
		problems = append(problems, fmt.Sprintf("speaker bounds invalid: min=%d max=%d", s.MinSpeakers, s.MaxSpeakers))
	}

	if len(problems) > 0 {
		return domain.NewCodedError(domain.CodeInvalidConfiguration,
			strings.Join(problems, "; "), nil)
	}
	return nil
}

// inputWork carries one input through normalize, plan, process, merge.
type inputWork struct {
	path        string
	wavPath     string
	duration    time.Duration
	descriptors []domain.ChunkDescriptor
	slots       []*chunkSlot
}

// runJob drives one job to a terminal state.
func (o *Orchestrator) runJob(ctx context.Context, h *Handle) {
	defer metrics.ActiveJobs.Dec()

	// Phase 1: normalize and plan every input so progress totals are
	// stable before any chunk starts.
	_ = h.transition(domain.JobStatusPlanning, "planning chunks")
	work, err := o.planInputs(ctx, h)
	if err != nil {
		if h.cancelled() {
			o.finishCancelled(h)
			return
		}
		o.finishFailed(h, err, nil)
		return
	}
	h.mu.Lock()
	h.work = work
	h.mu.Unlock()

	if h.cancelled() {
		o.markRemainingCancelled(h)
		o.finishCancelled(h)
		return
	}

	// Phase 2: run chunks with bounded concurrency, inputs in order.
	_ = h.transition(domain.JobStatusRunning, "transcribing chunks")
	var abortErr error
	for _, input := range work {
		if err := o.runInputChunks(ctx, h, input); err != nil {
			abortErr = err
			break
		}
	}
	o.markRemainingCancelled(h)

	if h.cancelled() {
		o.cleanup(work)
		o.finishCancelled(h)
		return
	}
	if abortErr != nil && !errors.Is(abortErr, errThresholdExceeded) {
		o.cleanup(work)
		o.finishFailed(h, abortErr, h.failedResults())
		return
	}
	if failed, fraction := h.failedFraction(); fraction > h.Job.Settings.FailureThreshold {
		o.cleanup(work)
		o.finishFailed(h, domain.NewCodedError(domain.CodeChunkProcessing,
			fmt.Sprintf("%d of %d chunks failed", failed, len(h.slots)), nil), h.failedResults())
		return
	}

	// Phase 3: merge results, one input at a time, on this goroutine
	// only after all chunk workers are done.
	_ = h.transition(domain.JobStatusMerging, "merging results")
	transcripts := make([]domain.Transcript, 0, len(work))
	for _, input := range work {
		transcript, err := o.mergeInput(ctx, h, input)
		if err != nil {
			o.cleanup(work)
			o.finishFailed(h, err, h.failedResults())
			return
		}
		transcripts = append(transcripts, transcript)
	}
	o.cleanup(work)

	h.finish(Outcome{
		JobID:       h.Job.ID,
		Status:      domain.JobStatusDone,
		Transcripts: transcripts,
	})
	o.log.Info("job done", "job_id", h.Job.ID, "transcripts", len(transcripts))
}

// planInputs normalizes each input and plans its chunk windows.
func (o *Orchestrator) planInputs(ctx context.Context, h *Handle) ([]*inputWork, error) {
	settings := h.Job.Settings
	work := make([]*inputWork, 0, len(h.Job.Inputs))

	for _, input := range h.Job.Inputs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		started := time.Now()
		wavPath, duration, err := o.normalizer.Normalize(ctx, input)
		if err != nil {
			metrics.RecordError("normalize", string(domain.CodeOf(err)))
			return nil, fmt.Errorf("normalize %s: %w", input, err)
		}
		metrics.ObserveDuration("normalize", started)

		descriptors, err := plan.Chunks(duration, settings.ChunkLength, settings.ChunkingEnabled)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", input, err)
		}

		slots := h.addSlots(input, descriptors)
		work = append(work, &inputWork{
			path:        input,
			wavPath:     wavPath,
			duration:    duration,
			descriptors: descriptors,
			slots:       slots,
		})

		h.events.Publish(Event{
			JobID:   h.Job.ID,
			Type:    EventTypeLog,
			Input:   input,
			Message: fmt.Sprintf("planned %d chunks over %s", len(descriptors), duration.Round(time.Second)),
		})
	}

	return work, nil
}

// runInputChunks processes one input's chunks through the worker
// pool. Dispatch follows ascending chunk index; completion order is
// unconstrained. Returns an error only when remaining work must stop.
func (o *Orchestrator) runInputChunks(ctx context.Context, h *Handle, input *inputWork) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.Job.Settings.Workers)

	for _, slot := range input.slots {
		slot := slot
		g.Go(func() error {
			return o.runChunk(gctx, h, input, slot)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// runChunk executes one chunk with retries. Only the owning worker
// writes the chunk result. A non-nil return cancels sibling chunks.
func (o *Orchestrator) runChunk(ctx context.Context, h *Handle, input *inputWork, slot *chunkSlot) error {
	if ctx.Err() != nil {
		h.setChunkState(slot, domain.ChunkCancelled, "cancelled before start")
		return nil
	}

	h.setChunkState(slot, domain.ChunkRunning, fmt.Sprintf("transcribing %s", slot.desc))
	settings := h.Job.Settings

	var segments []domain.Segment
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= settings.ChunkRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		attempts++

		segs, err := o.transcribeWindow(ctx, input, slot, settings)
		if err == nil {
			segments = segs
			lastErr = nil
			break
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			break
		}
		o.log.Warn("chunk attempt failed",
			"job_id", h.Job.ID,
			"chunk", slot.desc.Index,
			"attempt", attempts,
			"error", err)
	}

	h.mu.Lock()
	slot.result.Attempts = attempts
	h.mu.Unlock()

	// A cancellation racing an unresponsive adapter call: the call was
	// allowed to finish, its result is discarded here.
	if ctx.Err() != nil && h.cancelled() {
		h.setChunkState(slot, domain.ChunkCancelled, "cancelled")
		return nil
	}
	if ctx.Err() != nil {
		h.setChunkState(slot, domain.ChunkCancelled, "aborted")
		return nil
	}

	if lastErr != nil {
		h.mu.Lock()
		slot.result.Err = lastErr
		h.mu.Unlock()
		h.setChunkState(slot, domain.ChunkFailed, lastErr.Error())
		metrics.RecordChunk("asr", false)
		metrics.RecordError("asr", string(domain.CodeOf(lastErr)))

		// Missing tooling would fail every remaining chunk the same
		// way; abort the job instead of grinding through them.
		if domain.IsCode(lastErr, domain.CodeToolNotFound) {
			return lastErr
		}
		if _, fraction := h.failedFraction(); fraction > settings.FailureThreshold {
			return errThresholdExceeded
		}
		return nil
	}

	h.mu.Lock()
	slot.result.Segments = segments
	h.mu.Unlock()
	h.setChunkState(slot, domain.ChunkSucceeded, fmt.Sprintf("%d segments", len(segments)))
	metrics.RecordChunk("asr", true)
	return nil
}

// transcribeWindow materializes the chunk audio and runs recognition
// under a process-wide recognition slot.
func (o *Orchestrator) transcribeWindow(ctx context.Context, input *inputWork, slot *chunkSlot, settings domain.Settings) ([]domain.Segment, error) {
	var audioPath string
	if len(input.slots) == 1 {
		// Single-window jobs transcribe the normalized WAV directly.
		audioPath = input.wavPath
	} else {
		cut, err := o.normalizer.CutWindow(ctx, input.wavPath, slot.desc)
		if err != nil {
			return nil, err
		}
		audioPath = cut
	}

	if err := o.recognitionSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.recognitionSlots.Release(1)

	started := time.Now()
	result, err := o.transcriber.Transcribe(ctx, audioPath, asr.Options{
		Model:    settings.Model,
		ModelDir: settings.ModelPath,
		Language: settings.Language,
		Device:   settings.Device,
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveDuration("asr", started)
	return result.Segments, nil
}

// mergeInput diarizes (when enabled) and merges one input's completed
// chunks into an ordered transcript.
func (o *Orchestrator) mergeInput(ctx context.Context, h *Handle, input *inputWork) (domain.Transcript, error) {
	results := make([]domain.ChunkResult, 0, len(input.slots))
	h.mu.Lock()
	for _, slot := range input.slots {
		if slot.result.State == domain.ChunkSucceeded {
			results = append(results, slot.result)
		}
	}
	h.mu.Unlock()

	started := time.Now()
	utterances, err := merge.Build(input.descriptors, results)
	if err != nil {
		metrics.RecordError("merge", string(domain.CodeOf(err)))
		o.log.Error("merge failed",
			"job_id", h.Job.ID,
			"input", input.path,
			"planned", len(input.descriptors),
			"observed", len(results),
			"error", err)
		return domain.Transcript{}, err
	}

	if h.Job.Settings.DiarizationEnabled {
		spans, diarErr := o.diarizer.Diarize(ctx, input.wavPath, diarize.Options{
			MinSpeakers:  h.Job.Settings.MinSpeakers,
			MaxSpeakers:  h.Job.Settings.MaxSpeakers,
			Segmentation: h.Job.Settings.Segmentation,
			Device:       h.Job.Settings.Device,
		})
		if diarErr != nil {
			// Diarization failure degrades to an unattributed
			// transcript rather than failing the job.
			metrics.RecordError("diarize", string(domain.CodeOf(diarErr)))
			o.log.Warn("diarization failed, transcript stays unattributed",
				"job_id", h.Job.ID,
				"input", input.path,
				"error", diarErr)
		} else {
			utterances = merge.AssignSpeakers(utterances, spans)
			metrics.RecordChunk("diarize", true)
		}
	}
	metrics.ObserveDuration("merge", started)

	return domain.Transcript{
		Input:      input.path,
		Duration:   input.duration,
		Utterances: utterances,
	}, nil
}

// markRemainingCancelled finalizes chunks never picked up by a worker.
func (o *Orchestrator) markRemainingCancelled(h *Handle) {
	h.mu.Lock()
	pending := make([]*chunkSlot, 0)
	for _, slot := range h.slots {
		if !slot.result.State.Terminal() {
			pending = append(pending, slot)
		}
	}
	h.mu.Unlock()

	for _, slot := range pending {
		h.setChunkState(slot, domain.ChunkCancelled, "cancelled")
	}
}

// failedResults returns the failed chunk breakdown for outcomes.
func (h *Handle) failedResults() []domain.ChunkResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	failed := make([]domain.ChunkResult, 0)
	for _, slot := range h.slots {
		if slot.result.State == domain.ChunkFailed {
			failed = append(failed, slot.result)
		}
	}
	return failed
}

// cleanup reclaims chunk window files for all inputs.
func (o *Orchestrator) cleanup(work []*inputWork) {
	for _, input := range work {
		if err := o.normalizer.CleanupChunks(input.wavPath); err != nil {
			o.log.Warn("cleanup chunk files", "wav", input.wavPath, "error", err)
		}
	}
}

// finishCancelled records a cancellation outcome.
func (o *Orchestrator) finishCancelled(h *Handle) {
	o.log.Info("job cancelled", "job_id", h.Job.ID)
	h.finish(Outcome{
		JobID:  h.Job.ID,
		Status: domain.JobStatusCancelled,
	})
}

// finishFailed records a failure outcome with its chunk breakdown.
func (o *Orchestrator) finishFailed(h *Handle, err error, failed []domain.ChunkResult) {
	o.log.Error("job failed", "job_id", h.Job.ID, "error", err)
	h.finish(Outcome{
		JobID:        h.Job.ID,
		Status:       domain.JobStatusFailed,
		FailedChunks: failed,
		Err:          err,
	})
}
