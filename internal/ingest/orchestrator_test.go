package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollsync/pkg/contracts/domain"
)

// fakeTxStore mimics the upsert contract: create-if-absent, otherwise
// update every mapper-controlled field while preserving accounted.
type fakeTxStore struct {
	records  map[string]domain.TollTransaction
	failKeys map[string]error
	upserts  int
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{
		records:  make(map[string]domain.TollTransaction),
		failKeys: make(map[string]error),
	}
}

func (s *fakeTxStore) Upsert(ctx context.Context, tx domain.TollTransaction) error {
	if err := s.failKeys[tx.BusinessKey]; err != nil {
		return err
	}
	s.upserts++
	if existing, ok := s.records[tx.BusinessKey]; ok {
		tx.Accounted = existing.Accounted
	} else {
		tx.Accounted = false
	}
	s.records[tx.BusinessKey] = tx
	return nil
}

type finalizeCall struct {
	fileName string
	result   domain.RunResult
}

type fakeRunStore struct {
	mu        sync.Mutex
	created   []domain.IngestionRun
	finalized map[uuid.UUID][]finalizeCall
	createErr error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{finalized: make(map[uuid.UUID][]finalizeCall)}
}

func (s *fakeRunStore) Create(ctx context.Context, run domain.IngestionRun) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return uuid.Nil, s.createErr
	}
	id := uuid.New()
	run.ID = id
	s.created = append(s.created, run)
	return id, nil
}

func (s *fakeRunStore) Finalize(ctx context.Context, id uuid.UUID, fileName string, result domain.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[id] = append(s.finalized[id], finalizeCall{fileName: fileName, result: result})
	return nil
}

func (s *fakeRunStore) finalizeCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finalized[id])
}

type orchestratorFixture struct {
	orch    *Orchestrator
	txs     *fakeTxStore
	runs    *fakeRunStore
	removed []string
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	fx := &orchestratorFixture{
		txs:  newFakeTxStore(),
		runs: newFakeRunStore(),
	}
	fx.orch = NewOrchestrator(fx.txs, fx.runs, Options{
		LockRetry:   RetryPolicy{Attempts: 5, Delay: time.Millisecond},
		DeleteGrace: time.Millisecond,
	}, slog.Default())
	fx.orch.removeFn = func(path string) error {
		fx.removed = append(fx.removed, path)
		return nil
	}
	fx.orch.sleepFn = func(ctx context.Context, d time.Duration) {}
	return fx
}

func ingestParams() Params {
	return Params{
		SubjectID:        "ACME-01",
		CredentialSecret: "secret",
		RangeStart:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:         time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		AutoIngest:       true,
	}
}

func TestExecuteSuccess(t *testing.T) {
	fx := newFixture(t)
	path := writeExport(t, exportHeader, [][]interface{}{
		dataRow("NFE-1"),
		dataRow("NFE-2"),
		dataRow("NFE-3"),
	})

	run, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, 3, run.RecordsFound)
	assert.Equal(t, 3, run.RecordsProcessed)
	assert.Equal(t, 0, run.RecordsErrored)
	assert.Equal(t, "export.xlsx", run.SourceFileName)
	assert.Len(t, fx.txs.records, 3)

	// Finalized exactly once, then the source file deleted.
	require.Len(t, fx.runs.finalized[run.ID], 1)
	assert.Equal(t, []string{path}, fx.removed)
}

func TestExecuteIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	rows := [][]interface{}{dataRow("NFE-1"), dataRow("NFE-2")}

	first := writeExport(t, exportHeader, rows)
	_, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(first))
	require.NoError(t, err)
	snapshot := make(map[string]domain.TollTransaction, len(fx.txs.records))
	for k, v := range fx.txs.records {
		snapshot[k] = v
	}

	second := writeExport(t, exportHeader, rows)
	_, err = fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(second))
	require.NoError(t, err)

	assert.Equal(t, snapshot, fx.txs.records, "re-ingesting the same export converges")
	assert.Len(t, fx.txs.records, 2, "no duplicates on business key")
}

func TestExecuteOverlappingExportsConverge(t *testing.T) {
	// Export A covers NFE-1..3, export B covers NFE-2..5. The merged
	// record set equals ingesting the union once.
	fx := newFixture(t)

	a := writeExport(t, exportHeader, [][]interface{}{
		dataRow("NFE-1"), dataRow("NFE-2"), dataRow("NFE-3"),
	})
	b := writeExport(t, exportHeader, [][]interface{}{
		dataRow("NFE-2"), dataRow("NFE-3"), dataRow("NFE-4"), dataRow("NFE-5"),
	})

	_, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(a))
	require.NoError(t, err)
	_, err = fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(b))
	require.NoError(t, err)

	assert.Len(t, fx.txs.records, 5)

	union := newFixture(t)
	u := writeExport(t, exportHeader, [][]interface{}{
		dataRow("NFE-1"), dataRow("NFE-2"), dataRow("NFE-3"), dataRow("NFE-4"), dataRow("NFE-5"),
	})
	_, err = union.orch.Execute(context.Background(), ingestParams(), LocalFetch(u))
	require.NoError(t, err)

	assert.Equal(t, union.txs.records, fx.txs.records)
}

func TestExecuteRowIsolation(t *testing.T) {
	fx := newFixture(t)

	bad := dataRow("NFE-BAD")
	bad[8] = "not a date" // passage date fails both explicit parses

	path := writeExport(t, exportHeader, [][]interface{}{
		dataRow("NFE-1"),
		bad,
		dataRow("NFE-3"),
	})

	run, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusPartial, run.Status)
	assert.Equal(t, 3, run.RecordsFound)
	assert.Equal(t, 2, run.RecordsProcessed)
	assert.Equal(t, 1, run.RecordsErrored)
	assert.Contains(t, run.ErrorDetails, "passage date")
	assert.Len(t, fx.txs.records, 2, "valid rows persisted despite the bad one")
	assert.Empty(t, fx.removed, "partial runs never delete the source file")
}

func TestExecutePreservesAccounted(t *testing.T) {
	fx := newFixture(t)

	path := writeExport(t, exportHeader, [][]interface{}{dataRow("NFE-1")})
	_, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	require.NoError(t, err)

	// Downstream accounting marks the record.
	rec := fx.txs.records["NFE-1"]
	rec.Accounted = true
	fx.txs.records["NFE-1"] = rec

	again := writeExport(t, exportHeader, [][]interface{}{dataRow("NFE-1")})
	_, err = fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(again))
	require.NoError(t, err)

	assert.True(t, fx.txs.records["NFE-1"].Accounted, "re-ingestion must not reset accounted")
}

func TestExecuteAllRowsFailingIsError(t *testing.T) {
	fx := newFixture(t)
	fx.txs.failKeys["NFE-1"] = errors.New("constraint violation")
	fx.txs.failKeys["NFE-2"] = errors.New("constraint violation")

	path := writeExport(t, exportHeader, [][]interface{}{
		dataRow("NFE-1"), dataRow("NFE-2"),
	})

	run, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusError, run.Status)
	assert.Equal(t, 2, run.RecordsErrored)
	assert.Zero(t, run.RecordsProcessed)
	assert.Empty(t, fx.removed, "failed runs never delete the source file")
}

func TestExecuteFileLockRetry(t *testing.T) {
	fx := newFixture(t)
	path := writeExport(t, exportHeader, [][]interface{}{dataRow("NFE-1")})

	attempts := 0
	fx.orch.openProbe = func(p string) error {
		attempts++
		if attempts < 3 {
			return errors.New("held by download stream")
		}
		return nil
	}

	run, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, 3, attempts, "readable on the 3rd of 5 attempts")
}

func TestExecuteFileLockedIsFatal(t *testing.T) {
	fx := newFixture(t)
	path := writeExport(t, exportHeader, [][]interface{}{dataRow("NFE-1")})

	attempts := 0
	fx.orch.openProbe = func(p string) error {
		attempts++
		return errors.New("held by download stream")
	}

	run, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileLocked)

	assert.Equal(t, 5, attempts, "full retry budget consumed")
	assert.Equal(t, domain.RunStatusError, run.Status)
	assert.Zero(t, run.RecordsProcessed)
	assert.Empty(t, fx.removed)
}

func TestExecuteFetchFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	cause := errors.New("portal: step login.submit exhausted selector chain")

	run, err := fx.orch.Execute(context.Background(), ingestParams(),
		func(ctx context.Context, p Params) (string, error) { return "", cause })

	require.ErrorIs(t, err, cause)
	assert.Equal(t, domain.RunStatusError, run.Status)
	assert.Contains(t, run.ErrorDetails, "selector chain")
	require.Len(t, fx.runs.finalized[run.ID], 1, "fatal failures still finalize the audit row")
}

func TestExecuteDownloadOnlyMode(t *testing.T) {
	fx := newFixture(t)
	path := writeExport(t, exportHeader, [][]interface{}{dataRow("NFE-1")})

	params := ingestParams()
	params.AutoIngest = false

	run, err := fx.orch.Execute(context.Background(), params, LocalFetch(path))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Zero(t, run.RecordsFound)
	assert.Empty(t, fx.txs.records, "download-only mode persists nothing")
	assert.Empty(t, fx.removed, "download-only mode keeps the file")

	// The file is still on disk for a later explicit ingestion.
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestExecuteRejectsConcurrentRunForSubject(t *testing.T) {
	fx := newFixture(t)
	release, err := fx.orch.guard.Acquire("ACME-01")
	require.NoError(t, err)
	defer release()

	_, err = fx.orch.Execute(context.Background(), ingestParams(), LocalFetch("unused"))
	assert.ErrorIs(t, err, ErrRunActive)
	assert.Empty(t, fx.runs.created, "conflicting invocations create no audit row")
}

func TestStartReturnsProcessingRunAndFinishesInBackground(t *testing.T) {
	fx := newFixture(t)
	path := writeExport(t, exportHeader, [][]interface{}{dataRow("NFE-1")})

	blocked := make(chan struct{})
	fetch := func(ctx context.Context, p Params) (string, error) {
		<-blocked
		return path, nil
	}

	run, err := fx.orch.Start(context.Background(), ingestParams(), fetch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusProcessing, run.Status)
	assert.NotEqual(t, uuid.Nil, run.ID)

	// The subject is busy while the background run is in flight.
	_, err = fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	assert.ErrorIs(t, err, ErrRunActive)

	close(blocked)
	assert.Eventually(t, func() bool {
		return fx.runs.finalizeCount(run.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteMissingExportIsError(t *testing.T) {
	fx := newFixture(t)
	// openProbe default would fail on a missing file; make it pass so
	// the reader's failure path is exercised.
	fx.orch.openProbe = func(p string) error { return nil }

	run, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch("/nonexistent/export.xlsx"))
	require.Error(t, err)
	assert.Equal(t, domain.RunStatusError, run.Status)
}

func TestExecuteEmptyExportIsSuccess(t *testing.T) {
	fx := newFixture(t)
	path := writeExport(t, exportHeader, nil)

	run, err := fx.orch.Execute(context.Background(), ingestParams(), LocalFetch(path))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, "no transactions in range", run.Message)
}

func TestSummarizeRowErrorsCapsDetail(t *testing.T) {
	errs := make([]string, 25)
	for i := range errs {
		errs[i] = "row failed"
	}
	got := summarizeRowErrors(errs)
	assert.Contains(t, got, "and 5 more")
}
