package asr

import (
	"context"
	"sync"
	"time"

	"audio-transcriber/internal/domain"
)

// Mock is an in-memory Transcriber for tests and degraded operation.
// Results are served per audio path, falling back to a default.
type Mock struct {
	mu      sync.Mutex
	results map[string]*Result
	errs    map[string]error
	calls   []string
	Delay   time.Duration
}

// NewMock builds an empty mock transcriber.
func NewMock() *Mock {
	return &Mock{
		results: make(map[string]*Result),
		errs:    make(map[string]error),
	}
}

// SetResult registers the result returned for one audio path.
func (m *Mock) SetResult(audioPath string, result *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[audioPath] = result
}

// SetError registers the error returned for one audio path.
func (m *Mock) SetError(audioPath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[audioPath] = err
}

// Calls returns the audio paths transcribed so far, in call order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Transcribe returns the registered result or an empty transcript.
func (m *Mock) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, audioPath)

	if err, ok := m.errs[audioPath]; ok {
		return nil, err
	}
	if result, ok := m.results[audioPath]; ok {
		return result, nil
	}
	return &Result{Segments: []domain.Segment{}}, nil
}

// HealthCheck always reports not ready; the mock is a fallback.
func (m *Mock) HealthCheck(ctx context.Context) (bool, error) {
	return false, nil
}

// Name identifies this implementation.
func (m *Mock) Name() string {
	return "mock"
}
