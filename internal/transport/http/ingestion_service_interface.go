package http

import (
	"context"

	"github.com/google/uuid"

	"tollsync/internal/ingest"
	"tollsync/pkg/contracts/domain"
)

// IngestionServiceInterface defines the service operations the
// ingestion handler depends on.
type IngestionServiceInterface interface {
	Start(ctx context.Context, params ingest.Params) (domain.IngestionRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (domain.IngestionRun, error)
	ListRuns(ctx context.Context, subjectID string, limit, offset int) ([]domain.IngestionRun, error)
}

// StatsServiceInterface defines the service operations the stats
// handler depends on.
type StatsServiceInterface interface {
	Count(ctx context.Context, filter domain.TransactionFilter) (int64, error)
	GroupBy(ctx context.Context, field string, filter domain.TransactionFilter) ([]domain.GroupCount, error)
}
