package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrFileLocked means the export file never became readable within
	// the retry budget. Fatal precondition failure.
	ErrFileLocked = errors.New("ingest: source file locked")

	// ErrHeaderNotFound means no row of the export matched the required
	// column names. Fatal precondition failure.
	ErrHeaderNotFound = errors.New("ingest: header row not found")

	// ErrRunActive means another invocation for the same subject is in
	// flight.
	ErrRunActive = errors.New("ingest: run already active for subject")
)

// RowError records one isolated row failure. Row errors are counted and
// summarized, never fatal to the batch.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
