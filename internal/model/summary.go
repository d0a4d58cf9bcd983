package model

import (
	"fmt"
	"time"
)

// RunStatus is the state of a run controller.
type RunStatus int

const (
	// StatusIdle is the state before Run is called.
	StatusIdle RunStatus = iota

	// StatusRunning is the state while items are being processed.
	StatusRunning

	// StatusCompleted means the work queue was exhausted.
	StatusCompleted

	// StatusInterrupted means an external stop signal ended the run.
	StatusInterrupted

	// StatusFatallyFailed means an unrecoverable collaborator failure ended the run.
	StatusFatallyFailed
)

// String returns the lowercase name of the status.
func (s RunStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusInterrupted:
		return "interrupted"
	case StatusFatallyFailed:
		return "fatally-failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the terminal states.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusInterrupted || s == StatusFatallyFailed
}

// MarshalText implements encoding.TextMarshaler so summaries serialize the name.
func (s RunStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []RunStatus{StatusIdle, StatusRunning, StatusCompleted, StatusInterrupted, StatusFatallyFailed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown run status %q", text)
}

// RunSummary is reported when a run reaches a terminal state.
type RunSummary struct {
	// RunID identifies the run in the run history.
	RunID string `json:"run_id"`

	// Job is the job name (suggest, translate, articles).
	Job string `json:"job"`

	// Key is the run key the progress is associated with (the seed term).
	Key string `json:"key"`

	// Status is the terminal status.
	Status RunStatus `json:"status"`

	// Total is the number of generated items.
	Total int `json:"total"`

	// AlreadyDone is the number of items skipped because progress held them.
	AlreadyDone int `json:"already_done"`

	// Processed is the number of items fetched and marked complete.
	Processed int `json:"processed"`

	// Skipped is the number of items skipped by the empty-family optimization.
	Skipped int `json:"skipped"`

	// Failed is the number of items whose retries were exhausted.
	Failed int `json:"failed"`

	// NewResults is the number of records appended to the sink.
	NewResults int `json:"new_results"`

	// Duplicates is the number of relevant results dropped because the sink held them.
	Duplicates int `json:"duplicates"`

	// Irrelevant is the number of results dropped by the relevance filter.
	Irrelevant int `json:"irrelevant"`

	// StartedAt is when the run left Idle.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run reached its terminal state.
	FinishedAt time.Time `json:"finished_at"`

	// StateFlushed reports whether progress and results were flushed before exit.
	StateFlushed bool `json:"state_flushed"`

	// Error is the message of the error that ended a fatally failed run.
	Error string `json:"error,omitempty"`
}

// Elapsed returns the wall time of the run.
func (s *RunSummary) Elapsed() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// ItemsPerSecond returns the processing speed of the run.
func (s *RunSummary) ItemsPerSecond() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / elapsed
}
