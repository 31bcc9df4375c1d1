package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"audio-transcriber/internal/asr"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/logging"
)

// fakeNormalizer serves a fixed duration and deterministic chunk paths
// without touching ffmpeg or the filesystem.
type fakeNormalizer struct {
	duration time.Duration
	delay    time.Duration
	err      error

	mu   sync.Mutex
	cuts []int
}

func (f *fakeNormalizer) Normalize(ctx context.Context, inputPath string) (string, time.Duration, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	if f.err != nil {
		return "", 0, f.err
	}
	return "/work/" + inputPath + "/normalized.wav", f.duration, nil
}

func (f *fakeNormalizer) CutWindow(ctx context.Context, wavPath string, desc domain.ChunkDescriptor) (string, error) {
	f.mu.Lock()
	f.cuts = append(f.cuts, desc.Index)
	f.mu.Unlock()
	return chunkPath(desc.Index), nil
}

func (f *fakeNormalizer) CleanupChunks(wavPath string) error { return nil }

func chunkPath(index int) string {
	return fmt.Sprintf("/work/chunks/chunk_%03d.wav", index)
}

func settings() domain.Settings {
	return domain.Settings{
		Model:            "base",
		Language:         "auto",
		ChunkingEnabled:  true,
		ChunkLength:      300 * time.Second,
		Workers:          2,
		ChunkRetries:     1,
		FailureThreshold: 0,
		OutputFormat:     "txt",
	}
}

func job(s domain.Settings) domain.MediaJob {
	return domain.MediaJob{
		ID:       "job-test",
		Inputs:   []string{"talk.mp4"},
		Settings: s,
	}
}

func segments(text string) []domain.Segment {
	return []domain.Segment{{Start: 0, End: 5 * time.Second, Text: text}}
}

func TestJobTranscribesAndMergesInOrder(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 620 * time.Second}
	mock := asr.NewMock()
	mock.SetResult(chunkPath(0), &asr.Result{Segments: segments("A")})
	mock.SetResult(chunkPath(1), &asr.Result{Segments: segments("B")})
	mock.SetResult(chunkPath(2), &asr.Result{Segments: segments("C")})

	o := New(normalizer, mock, nil, 2, logging.Discard())
	handle, err := o.Submit(job(settings()))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done (err=%v)", outcome.Status, outcome.Err)
	}
	if len(outcome.Transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(outcome.Transcripts))
	}

	utterances := outcome.Transcripts[0].Utterances
	wantTexts := []string{"A", "B", "C"}
	if len(utterances) != len(wantTexts) {
		t.Fatalf("expected %d utterances, got %d", len(wantTexts), len(utterances))
	}
	for i, want := range wantTexts {
		if utterances[i].Text != want {
			t.Fatalf("utterance %d = %q, want %q", i, utterances[i].Text, want)
		}
	}
	if utterances[2].Start != 600*time.Second {
		t.Fatalf("final chunk not rebased: starts at %s", utterances[2].Start)
	}
}

func TestSingleWindowSkipsCutting(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 120 * time.Second}
	mock := asr.NewMock()
	mock.SetResult("/work/talk.mp4/normalized.wav", &asr.Result{Segments: segments("short")})

	o := New(normalizer, mock, nil, 1, logging.Discard())
	handle, err := o.Submit(job(settings()))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done (err=%v)", outcome.Status, outcome.Err)
	}
	if len(normalizer.cuts) != 0 {
		t.Fatalf("expected no chunk cuts, got %v", normalizer.cuts)
	}
	if got := mock.Calls(); len(got) != 1 || got[0] != "/work/talk.mp4/normalized.wav" {
		t.Fatalf("unexpected transcribe calls: %v", got)
	}
}

func TestSubmitRejectsInvalidSettings(t *testing.T) {
	o := New(&fakeNormalizer{duration: time.Minute}, asr.NewMock(), nil, 1, logging.Discard())

	bad := settings()
	bad.Workers = 0
	bad.FailureThreshold = 1.5

	_, err := o.Submit(job(bad))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !domain.IsCode(err, domain.CodeInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestChunkFailureRetriesThenFailsJob(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 620 * time.Second}
	mock := asr.NewMock()
	mock.SetError(chunkPath(1), errors.New("engine crashed"))

	s := settings()
	s.ChunkRetries = 1
	o := New(normalizer, mock, nil, 1, logging.Discard())
	handle, err := o.Submit(job(s))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if len(outcome.FailedChunks) != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", len(outcome.FailedChunks))
	}
	if outcome.FailedChunks[0].Index != 1 {
		t.Fatalf("failed chunk index = %d, want 1", outcome.FailedChunks[0].Index)
	}
	if outcome.FailedChunks[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", outcome.FailedChunks[0].Attempts)
	}
}

func TestFailureThresholdToleratesPartialLoss(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 620 * time.Second}
	mock := asr.NewMock()
	mock.SetResult(chunkPath(0), &asr.Result{Segments: segments("A")})
	mock.SetError(chunkPath(1), errors.New("engine crashed"))
	mock.SetResult(chunkPath(2), &asr.Result{Segments: segments("C")})

	s := settings()
	s.ChunkRetries = 0
	s.FailureThreshold = 0.5
	o := New(normalizer, mock, nil, 1, logging.Discard())
	handle, err := o.Submit(job(s))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done (err=%v)", outcome.Status, outcome.Err)
	}

	utterances := outcome.Transcripts[0].Utterances
	if len(utterances) != 2 {
		t.Fatalf("expected 2 utterances from surviving chunks, got %d", len(utterances))
	}
	if utterances[0].Text != "A" || utterances[1].Text != "C" {
		t.Fatalf("unexpected texts: %q, %q", utterances[0].Text, utterances[1].Text)
	}
}

func TestToolNotFoundAbortsWithoutRetry(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 620 * time.Second}
	mock := asr.NewMock()
	for i := 0; i < 3; i++ {
		mock.SetError(chunkPath(i),
			domain.NewCodedError(domain.CodeToolNotFound, "whisper not found", nil))
	}

	s := settings()
	s.ChunkRetries = 3
	o := New(normalizer, mock, nil, 1, logging.Discard())
	handle, err := o.Submit(job(s))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if outcome.FailedChunks[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry for missing tool)", outcome.FailedChunks[0].Attempts)
	}
	// The first failure aborts the job; later chunks never run.
	if calls := mock.Calls(); len(calls) > 1 {
		t.Fatalf("expected at most 1 transcribe call, got %d", len(calls))
	}
}

func TestPartialTranscriptsAfterFailure(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 620 * time.Second}
	mock := asr.NewMock()
	mock.SetResult(chunkPath(0), &asr.Result{Segments: segments("A")})
	mock.SetError(chunkPath(1), errors.New("engine crashed"))
	mock.SetResult(chunkPath(2), &asr.Result{Segments: segments("C")})

	s := settings()
	s.ChunkRetries = 0
	o := New(normalizer, mock, nil, 1, logging.Discard())
	handle, err := o.Submit(job(s))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}

	transcripts, err := o.PartialTranscripts(handle)
	if err != nil {
		t.Fatalf("PartialTranscripts returned error: %v", err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected 1 partial transcript, got %d", len(transcripts))
	}
	if got := len(transcripts[0].Utterances); got != 1 {
		t.Fatalf("expected only chunk 0's utterance, got %d", got)
	}
	if transcripts[0].Utterances[0].Text != "A" {
		t.Fatalf("partial text = %q, want A", transcripts[0].Utterances[0].Text)
	}
}

func TestCancelBeforeWorkStartsSkipsTranscription(t *testing.T) {
	// The slow normalizer keeps the job in the planning phase so the
	// cancel lands while every chunk is still pending.
	normalizer := &fakeNormalizer{duration: 620 * time.Second, delay: 100 * time.Millisecond}
	mock := asr.NewMock()

	o := New(normalizer, mock, nil, 1, logging.Discard())
	handle, err := o.Submit(job(settings()))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	o.Cancel(handle)

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", outcome.Status)
	}
	if len(outcome.Transcripts) != 0 {
		t.Fatalf("expected no transcripts, got %d", len(outcome.Transcripts))
	}
	if calls := mock.Calls(); len(calls) != 0 {
		t.Fatalf("expected zero transcriber calls, got %v", calls)
	}
}

func TestCancelMarksPendingChunksCancelled(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 30 * time.Minute}
	mock := asr.NewMock()
	mock.Delay = 20 * time.Millisecond

	s := settings()
	s.Workers = 1
	o := New(normalizer, mock, nil, 1, logging.Discard())
	handle, err := o.Submit(job(s))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// Let the first chunk get picked up, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for len(mock.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	o.Cancel(handle)

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", outcome.Status)
	}

	progress := handle.Progress()
	if progress.Pending != 0 || progress.Running != 0 {
		t.Fatalf("non-terminal chunks remain: %+v", progress)
	}
	if progress.Cancelled == 0 {
		t.Fatalf("expected cancelled chunks, got %+v", progress)
	}
	if len(mock.Calls()) >= progress.Total {
		t.Fatalf("cancellation did not skip pending chunks: %d calls for %d chunks",
			len(mock.Calls()), progress.Total)
	}
}

func TestNormalizeFailureFailsJob(t *testing.T) {
	normalizer := &fakeNormalizer{
		err: domain.NewCodedError(domain.CodeUnsupportedFormat, "cannot decode input", nil),
	}

	o := New(normalizer, asr.NewMock(), nil, 1, logging.Discard())
	handle, err := o.Submit(job(settings()))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	outcome, err := handle.AwaitTimeout(5 * time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if !domain.IsCode(outcome.Err, domain.CodeUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", outcome.Err)
	}
}

func TestProgressReachesCompletion(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 620 * time.Second}
	o := New(normalizer, asr.NewMock(), nil, 2, logging.Discard())
	handle, err := o.Submit(job(settings()))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if _, err := handle.AwaitTimeout(5 * time.Second); err != nil {
		t.Fatalf("Await returned error: %v", err)
	}

	progress := handle.Progress()
	if progress.Total != 3 {
		t.Fatalf("total = %d, want 3", progress.Total)
	}
	if progress.Succeeded != 3 {
		t.Fatalf("succeeded = %d, want 3", progress.Succeeded)
	}
	if progress.Percent != 100 {
		t.Fatalf("percent = %g, want 100", progress.Percent)
	}
	if progress.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done", progress.Status)
	}
}

func TestEventsRecordLifecycle(t *testing.T) {
	normalizer := &fakeNormalizer{duration: 620 * time.Second}
	o := New(normalizer, asr.NewMock(), nil, 1, logging.Discard())
	handle, err := o.Submit(job(settings()))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := handle.AwaitTimeout(5 * time.Second); err != nil {
		t.Fatalf("Await returned error: %v", err)
	}

	events := handle.Events(0)
	if len(events) == 0 {
		t.Fatal("expected events, got none")
	}

	sawRunning := false
	sawDone := false
	for _, event := range events {
		if event.Type == EventTypeStatus && event.Status == domain.JobStatusRunning {
			sawRunning = true
		}
		if event.Type == EventTypeStatus && event.Status == domain.JobStatusDone {
			sawDone = true
		}
	}
	if !sawRunning || !sawDone {
		t.Fatalf("lifecycle events missing: running=%v done=%v", sawRunning, sawDone)
	}
}
