package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusProcessing RunStatus = "processing"
	RunStatusSuccess    RunStatus = "success"
	RunStatusPartial    RunStatus = "partial"
	RunStatusError      RunStatus = "error"
)

// Terminal reports whether the status is a final state. A run starts in
// processing and transitions exactly once to a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusPartial, RunStatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is legal.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	return s == RunStatusProcessing && next.Terminal()
}

// IngestionRun is the audit record of one pipeline invocation. It is
// created in processing state when the run starts and finalized exactly
// once when the run ends; it is never deleted by this subsystem.
type IngestionRun struct {
	ID               uuid.UUID `json:"id"`
	SubjectID        string    `json:"subject_identifier"`
	RangeStart       time.Time `json:"range_start"`
	RangeEnd         time.Time `json:"range_end"`
	Status           RunStatus `json:"status"`
	SourceFileName   string    `json:"source_file_name,omitempty"`
	RecordsFound     int       `json:"records_found"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsErrored   int       `json:"records_errored"`
	DurationSeconds  float64   `json:"duration_seconds"`
	ErrorDetails     string    `json:"error_details,omitempty"`
	Message          string    `json:"message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RunResult carries the terminal outcome applied to a run when it is
// finalized. recordsProcessed + recordsErrored never exceeds
// recordsFound.
type RunResult struct {
	Status           RunStatus
	RecordsFound     int
	RecordsProcessed int
	RecordsErrored   int
	DurationSeconds  float64
	Message          string
	ErrorDetails     string
}
