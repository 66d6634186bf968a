package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tollsync/pkg/contracts/domain"
)

// TransactionStore is the slice of the persistence contract the
// orchestrator consumes for records.
type TransactionStore interface {
	Upsert(ctx context.Context, tx domain.TollTransaction) error
}

// RunStore persists the audit trail. Create opens the run in processing
// state; Finalize applies the terminal result exactly once.
type RunStore interface {
	Create(ctx context.Context, run domain.IngestionRun) (uuid.UUID, error)
	Finalize(ctx context.Context, id uuid.UUID, sourceFileName string, result domain.RunResult) error
}

// FetchFunc produces the export file for a run. The portal-backed
// implementation drives a browser session; re-ingestion supplies an
// existing local path.
type FetchFunc func(ctx context.Context, params Params) (string, error)

// Params are the invocation parameters of one pipeline run.
type Params struct {
	SubjectID        string
	CredentialSecret string
	RangeStart       time.Time
	RangeEnd         time.Time
	// AutoIngest false stops after the download; the file is kept for a
	// later explicit ingestion.
	AutoIngest bool
}

// Options tune the orchestrator's file handling.
type Options struct {
	// Bounded retry budget for the file-stability guard.
	LockRetry RetryPolicy
	// Grace period between a success finalization and source deletion.
	DeleteGrace time.Duration
}

// Orchestrator coordinates one run: audit entry, file stability, row
// mapping, idempotent persistence, and cleanup.
type Orchestrator struct {
	transactions TransactionStore
	runs         RunStore
	guard        *RunGuard
	opts         Options
	logger       *slog.Logger

	// injectable for tests
	openProbe func(path string) error
	removeFn  func(path string) error
	sleepFn   func(ctx context.Context, d time.Duration)
}

// NewOrchestrator wires an orchestrator against the persistence
// contract.
func NewOrchestrator(transactions TransactionStore, runs RunStore, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.LockRetry.Attempts <= 0 {
		opts.LockRetry = RetryPolicy{Attempts: 5, Delay: 2 * time.Second}
	}
	return &Orchestrator{
		transactions: transactions,
		runs:         runs,
		guard:        NewRunGuard(),
		opts:         opts,
		logger:       logger.With(slog.String("component", "ingest_orchestrator")),
		openProbe:    defaultOpenProbe,
		removeFn:     os.Remove,
		sleepFn:      sleepCtx,
	}
}

// Execute runs the full pipeline for one invocation: fetch the export
// via fetch, then ingest it. Exactly one terminal IngestionRun row is
// produced unless the subject already has an active run.
func (o *Orchestrator) Execute(ctx context.Context, params Params, fetch FetchFunc) (domain.IngestionRun, error) {
	run, release, err := o.begin(ctx, params)
	if err != nil {
		return domain.IngestionRun{}, err
	}
	defer release()
	return o.execute(ctx, run, params, fetch)
}

// Start opens the run synchronously so the caller gets its id and an
// immediate ErrRunActive on conflict, then finishes the pipeline in the
// background bounded by timeout. The background context detaches from
// the caller's; an HTTP client disconnecting does not abort the run.
func (o *Orchestrator) Start(ctx context.Context, params Params, fetch FetchFunc, timeout time.Duration) (domain.IngestionRun, error) {
	run, release, err := o.begin(ctx, params)
	if err != nil {
		return domain.IngestionRun{}, err
	}

	go func() {
		defer release()
		runCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, execErr := o.execute(runCtx, run, params, fetch); execErr != nil {
			o.logger.Error("background run failed",
				slog.String("run_id", run.ID.String()),
				slog.String("subject", params.SubjectID),
				slog.String("error", execErr.Error()))
		}
	}()

	return run, nil
}

// begin acquires the subject guard and opens the audit row in
// processing state. The caller owns the returned release func.
func (o *Orchestrator) begin(ctx context.Context, params Params) (domain.IngestionRun, func(), error) {
	release, err := o.guard.Acquire(params.SubjectID)
	if err != nil {
		return domain.IngestionRun{}, nil, err
	}

	run := domain.IngestionRun{
		SubjectID:  params.SubjectID,
		RangeStart: params.RangeStart,
		RangeEnd:   params.RangeEnd,
		Status:     domain.RunStatusProcessing,
	}

	runID, err := o.runs.Create(ctx, run)
	if err != nil {
		release()
		return domain.IngestionRun{}, nil, fmt.Errorf("ingest: failed to create run: %w", err)
	}
	run.ID = runID
	return run, release, nil
}

func (o *Orchestrator) execute(ctx context.Context, run domain.IngestionRun, params Params, fetch FetchFunc) (domain.IngestionRun, error) {
	started := time.Now()
	logger := o.logger.With(slog.String("run_id", run.ID.String()), slog.String("subject", params.SubjectID))
	logger.InfoContext(ctx, "run started",
		slog.String("range_start", params.RangeStart.Format("2006-01-02")),
		slog.String("range_end", params.RangeEnd.Format("2006-01-02")))

	filePath, err := fetch(ctx, params)
	if err != nil {
		return o.fail(ctx, run, started, "", "export fetch failed", err)
	}
	fileName := filepath.Base(filePath)

	if !params.AutoIngest {
		result := domain.RunResult{
			Status:          domain.RunStatusSuccess,
			DurationSeconds: time.Since(started).Seconds(),
			Message:         "export downloaded, ingestion skipped",
		}
		return o.finalize(ctx, run, fileName, result)
	}

	if err := o.waitForStableFile(ctx, filePath); err != nil {
		return o.fail(ctx, run, started, fileName, "source file never became readable", err)
	}

	export, err := ReadExport(filePath)
	if err != nil {
		return o.fail(ctx, run, started, fileName, "export unreadable", err)
	}

	result := o.processRows(ctx, export, params.SubjectID, logger)
	result.DurationSeconds = time.Since(started).Seconds()

	finalized, err := o.finalize(ctx, run, fileName, result)
	if err != nil {
		return finalized, err
	}

	// Deferred deletion: only a confirmed-success run removes the
	// source file, after a grace period for the download stream to let
	// go. Deletion failure never changes the terminal status.
	if result.Status == domain.RunStatusSuccess {
		o.sleepFn(ctx, o.opts.DeleteGrace)
		if err := o.removeFn(filePath); err != nil {
			logger.WarnContext(ctx, "failed to delete source file",
				slog.String("path", filePath),
				slog.String("error", err.Error()))
		} else {
			logger.InfoContext(ctx, "source file deleted", slog.String("path", filePath))
		}
	}

	return finalized, nil
}

// processRows maps and persists every data row, isolating per-row
// failures. One malformed row never discards the rest of the batch.
func (o *Orchestrator) processRows(ctx context.Context, export *Export, subjectID string, logger *slog.Logger) domain.RunResult {
	var (
		found     int
		processed int
		rowErrs   []string
	)

	for _, row := range export.Rows {
		// Header/footer artifacts carry no fiscal code and are not
		// transactions.
		if row.BusinessKey() == "" {
			continue
		}
		found++

		record, err := MapRow(row, subjectID)
		if err != nil {
			rowErrs = append(rowErrs, err.Error())
			logger.WarnContext(ctx, "row mapping failed",
				slog.Int("row", row.Number),
				slog.String("error", err.Error()))
			continue
		}

		if err := o.transactions.Upsert(ctx, record); err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: persist: %v", row.Number, err))
			logger.WarnContext(ctx, "row persistence failed",
				slog.Int("row", row.Number),
				slog.String("business_key", record.BusinessKey),
				slog.String("error", err.Error()))
			continue
		}
		processed++
	}

	errored := len(rowErrs)
	result := domain.RunResult{
		RecordsFound:     found,
		RecordsProcessed: processed,
		RecordsErrored:   errored,
	}

	switch {
	case found == 0:
		result.Status = domain.RunStatusSuccess
		result.Message = "no transactions in range"
	case errored == 0:
		result.Status = domain.RunStatusSuccess
		result.Message = fmt.Sprintf("%d records ingested", processed)
	case errored == found:
		result.Status = domain.RunStatusError
		result.Message = "every row failed"
	default:
		result.Status = domain.RunStatusPartial
		result.Message = fmt.Sprintf("%d of %d records ingested", processed, found)
	}

	if errored > 0 {
		result.ErrorDetails = summarizeRowErrors(rowErrs)
	}
	return result
}

// waitForStableFile retries opening the file while the download stream
// may still hold it. Exhaustion is a fatal file-locked error; reading a
// partial file is never acceptable.
func (o *Orchestrator) waitForStableFile(ctx context.Context, path string) error {
	err := o.opts.LockRetry.Do(ctx, func() error {
		return o.openProbe(path)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrFileLocked, path, err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, run domain.IngestionRun, started time.Time, fileName, message string, cause error) (domain.IngestionRun, error) {
	result := domain.RunResult{
		Status:          domain.RunStatusError,
		DurationSeconds: time.Since(started).Seconds(),
		Message:         message,
		ErrorDetails:    cause.Error(),
	}
	finalized, finErr := o.finalize(ctx, run, fileName, result)
	if finErr != nil {
		return finalized, finErr
	}
	return finalized, cause
}

func (o *Orchestrator) finalize(ctx context.Context, run domain.IngestionRun, fileName string, result domain.RunResult) (domain.IngestionRun, error) {
	if !run.Status.CanTransitionTo(result.Status) {
		return run, fmt.Errorf("ingest: illegal run transition %s -> %s", run.Status, result.Status)
	}

	if err := o.runs.Finalize(ctx, run.ID, fileName, result); err != nil {
		return run, fmt.Errorf("ingest: failed to finalize run: %w", err)
	}

	run.Status = result.Status
	run.SourceFileName = fileName
	run.RecordsFound = result.RecordsFound
	run.RecordsProcessed = result.RecordsProcessed
	run.RecordsErrored = result.RecordsErrored
	run.DurationSeconds = result.DurationSeconds
	run.Message = result.Message
	run.ErrorDetails = result.ErrorDetails

	o.logger.InfoContext(ctx, "run finalized",
		slog.String("run_id", run.ID.String()),
		slog.String("status", string(run.Status)),
		slog.Int("records_found", run.RecordsFound),
		slog.Int("records_processed", run.RecordsProcessed),
		slog.Int("records_errored", run.RecordsErrored))
	return run, nil
}

// summarizeRowErrors caps the audit detail so a pathological export
// cannot blow up the run row.
func summarizeRowErrors(errs []string) string {
	const maxDetail = 20
	if len(errs) <= maxDetail {
		return strings.Join(errs, "; ")
	}
	head := strings.Join(errs[:maxDetail], "; ")
	return fmt.Sprintf("%s; and %d more", head, len(errs)-maxDetail)
}

// defaultOpenProbe attempts a read open; the browser's download stream
// holding the file surfaces here as an open failure.
func defaultOpenProbe(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
