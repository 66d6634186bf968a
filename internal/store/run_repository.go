package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tollsync/pkg/contracts/domain"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("ingestion run not found")

type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository wires a repository backed by pgxpool.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

func (r *runRepository) Create(ctx context.Context, run domain.IngestionRun) (uuid.UUID, error) {
	if r.pool == nil {
		return uuid.Nil, fmt.Errorf("run repository not initialized")
	}

	var id uuid.UUID
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO ingestion_runs (subject_id, range_start, range_end, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		run.SubjectID, run.RangeStart, run.RangeEnd, domain.RunStatusProcessing,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create ingestion run: %w", err)
	}

	return id, nil
}

// Finalize applies the terminal result. The WHERE clause pins the
// processing state, so a run can only be finalized once.
func (r *runRepository) Finalize(ctx context.Context, id uuid.UUID, sourceFileName string, result domain.RunResult) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE ingestion_runs SET
			status = $2,
			source_file_name = $3,
			records_found = $4,
			records_processed = $5,
			records_errored = $6,
			duration_seconds = $7,
			message = $8,
			error_details = $9,
			updated_at = now()
		 WHERE id = $1 AND status = $10`,
		id, result.Status, sourceFileName,
		result.RecordsFound, result.RecordsProcessed, result.RecordsErrored,
		result.DurationSeconds, result.Message, result.ErrorDetails,
		domain.RunStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize ingestion run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ingestion run %s is not in processing state", id)
	}

	return nil
}

const runColumns = `id, subject_id, range_start, range_end, status,
	source_file_name, records_found, records_processed, records_errored,
	duration_seconds, message, error_details, created_at, updated_at`

func (r *runRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.IngestionRun, error) {
	if r.pool == nil {
		return domain.IngestionRun{}, fmt.Errorf("run repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		"SELECT "+runColumns+" FROM ingestion_runs WHERE id = $1",
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IngestionRun{}, ErrRunNotFound
		}
		return domain.IngestionRun{}, fmt.Errorf("failed to get ingestion run %s: %w", id, err)
	}

	return run, nil
}

func (r *runRepository) List(ctx context.Context, subjectID string, limit, offset int) ([]domain.IngestionRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("run repository not initialized")
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + runColumns + " FROM ingestion_runs"
	args := []any{}
	if subjectID != "" {
		query += " WHERE subject_id = $1"
		args = append(args, subjectID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.IngestionRun{}
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion run: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion runs: %w", rowsErr)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (domain.IngestionRun, error) {
	var run domain.IngestionRun
	err := row.Scan(
		&run.ID,
		&run.SubjectID,
		&run.RangeStart,
		&run.RangeEnd,
		&run.Status,
		&run.SourceFileName,
		&run.RecordsFound,
		&run.RecordsProcessed,
		&run.RecordsErrored,
		&run.DurationSeconds,
		&run.Message,
		&run.ErrorDetails,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}
