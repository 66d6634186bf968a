package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tollsync/internal/ingest"
	"tollsync/internal/store"
	"tollsync/pkg/contracts/domain"
)

// IngestionService exposes run orchestration and the audit trail to the
// transport layer.
type IngestionService struct {
	orchestrator *ingest.Orchestrator
	runs         store.RunRepository
	fetch        ingest.FetchFunc
	runTimeout   time.Duration
	logger       *slog.Logger
}

// NewIngestionService creates the ingestion service. fetch is the
// portal-backed export producer shared by every triggered run.
func NewIngestionService(orchestrator *ingest.Orchestrator, runs store.RunRepository, fetch ingest.FetchFunc, runTimeout time.Duration, logger *slog.Logger) *IngestionService {
	if orchestrator == nil {
		panic("orchestrator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &IngestionService{
		orchestrator: orchestrator,
		runs:         runs,
		fetch:        fetch,
		runTimeout:   runTimeout,
		logger:       logger.With(slog.String("service", "ingestion")),
	}
}

// Start opens a run for the subject and continues the pipeline in the
// background. ErrRunActive surfaces synchronously so the caller can map
// it to a conflict response.
func (s *IngestionService) Start(ctx context.Context, params ingest.Params) (domain.IngestionRun, error) {
	run, err := s.orchestrator.Start(ctx, params, s.fetch, s.runTimeout)
	if err != nil {
		return domain.IngestionRun{}, err
	}

	s.logger.InfoContext(ctx, "ingestion run accepted",
		slog.String("run_id", run.ID.String()),
		slog.String("subject", params.SubjectID))
	return run, nil
}

// GetRun fetches one audit record by id.
func (s *IngestionService) GetRun(ctx context.Context, id uuid.UUID) (domain.IngestionRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return domain.IngestionRun{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns audit records newest first, optionally narrowed to
// one subject.
func (s *IngestionService) ListRuns(ctx context.Context, subjectID string, limit, offset int) ([]domain.IngestionRun, error) {
	runs, err := s.runs.List(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
