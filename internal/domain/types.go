package domain

import (
	"fmt"
	"time"
)

// JobStatus tracks the lifecycle of a single transcription job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusPlanning  JobStatus = "planning"
	JobStatusRunning   JobStatus = "running"
	JobStatusMerging   JobStatus = "merging"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ChunkState tracks one planned unit of recognition work.
type ChunkState string

const (
	ChunkPending   ChunkState = "pending"
	ChunkRunning   ChunkState = "running"
	ChunkSucceeded ChunkState = "succeeded"
	ChunkFailed    ChunkState = "failed"
	ChunkCancelled ChunkState = "cancelled"
)

// Terminal reports whether a chunk state is final.
func (s ChunkState) Terminal() bool {
	switch s {
	case ChunkSucceeded, ChunkFailed, ChunkCancelled:
		return true
	default:
		return false
	}
}

// Settings contains user-selectable runtime configuration for one job.
type Settings struct {
	Model              string        `json:"model"`
	ModelPath          string        `json:"modelPath"`
	Device             string        `json:"device"`
	Language           string        `json:"language"`
	SampleRate         int           `json:"sampleRate"`
	Channels           int           `json:"channels"`
	ChunkingEnabled    bool          `json:"chunkingEnabled"`
	ChunkLength        time.Duration `json:"chunkLength"`
	DiarizationEnabled bool          `json:"diarizationEnabled"`
	MinSpeakers        int           `json:"minSpeakers"`
	MaxSpeakers        int           `json:"maxSpeakers"`
	Segmentation       float64       `json:"segmentation"`
	Workers            int           `json:"workers"`
	ChunkRetries       int           `json:"chunkRetries"`
	FailureThreshold   float64       `json:"failureThreshold"`
	OutputFormat       string        `json:"outputFormat"`
}

// MediaJob is one end-to-end transcription request.
type MediaJob struct {
	ID        string   `json:"id"`
	Inputs    []string `json:"inputs"`
	OutputDir string   `json:"outputDir"`
	Settings  Settings `json:"settings"`
}

// ChunkDescriptor is one planned, immutable window of the normalized
// audio. Windows for a job are contiguous, non-overlapping, and cover
// the full duration exactly once.
type ChunkDescriptor struct {
	Index    int           `json:"index"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// End returns the exclusive end offset of the window.
func (d ChunkDescriptor) End() time.Duration {
	return d.Start + d.Duration
}

// String returns a compact representation for logging.
func (d ChunkDescriptor) String() string {
	return fmt.Sprintf("chunk %d [%s-%s)", d.Index, d.Start, d.End())
}

// Segment is one recognized span of speech. Offsets are chunk-local
// until the merge engine rebases them to global time.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// ChunkResult is the outcome of processing one ChunkDescriptor.
// Written only by the worker that owns the chunk; read by others after
// the state turns terminal.
type ChunkResult struct {
	Index    int        `json:"index"`
	State    ChunkState `json:"state"`
	Segments []Segment  `json:"segments,omitempty"`
	Attempts int        `json:"attempts"`
	Err      error      `json:"-"`
}

// SpeakerSpan is one diarization turn in global time.
type SpeakerSpan struct {
	Speaker string        `json:"speaker"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
}

// Utterance is one ordered, speaker-attributable unit of the final
// transcript, in global time. Speaker is empty when unattributed.
type Utterance struct {
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	Text    string        `json:"text"`
	Speaker string        `json:"speaker,omitempty"`
}

// Transcript is the merged result for one input source.
type Transcript struct {
	Input      string        `json:"input"`
	Duration   time.Duration `json:"duration"`
	Utterances []Utterance   `json:"utterances"`
}

// ProgressSnapshot is a read-only projection of job progress,
// recomputed on demand from chunk states.
type ProgressSnapshot struct {
	JobID       string    `json:"jobId"`
	Status      JobStatus `json:"status"`
	Pending     int       `json:"pending"`
	Running     int       `json:"running"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Cancelled   int       `json:"cancelled"`
	Total       int       `json:"total"`
	Percent     float64   `json:"percent"`
	LastMessage string    `json:"lastMessage,omitempty"`
}
