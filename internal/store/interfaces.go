package store

import (
	"context"

	"github.com/google/uuid"

	"tollsync/pkg/contracts/domain"
)

// TransactionRepository persists toll transactions keyed by business key.
type TransactionRepository interface {
	// Upsert creates the record or updates it in place. The accounted
	// flag is owned downstream: it is initialized false on insert and
	// never touched on update.
	Upsert(ctx context.Context, tx domain.TollTransaction) error
	Count(ctx context.Context, filter domain.TransactionFilter) (int64, error)
	GroupBy(ctx context.Context, field string, filter domain.TransactionFilter) ([]domain.GroupCount, error)
}

// RunRepository persists the ingestion audit trail.
type RunRepository interface {
	Create(ctx context.Context, run domain.IngestionRun) (uuid.UUID, error)
	// Finalize applies a terminal result to a processing run. Finalizing
	// an already-terminal run is an error.
	Finalize(ctx context.Context, id uuid.UUID, sourceFileName string, result domain.RunResult) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.IngestionRun, error)
	List(ctx context.Context, subjectID string, limit, offset int) ([]domain.IngestionRun, error)
}
