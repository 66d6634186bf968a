package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"tollsync/pkg/contracts/domain"
)

type transactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository wires a repository backed by pgxpool.
func NewTransactionRepository(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepository{pool: pool}
}

// Upsert inserts or updates on business_key. The update branch lists
// every mapper-controlled column and deliberately omits accounted, so
// re-ingestion never undoes downstream accounting.
func (r *transactionRepository) Upsert(ctx context.Context, tx domain.TollTransaction) error {
	if r.pool == nil {
		return fmt.Errorf("transaction repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO toll_transactions (
			business_key, status, document_type, creation_date,
			document_number, related_document, cost_center, license_plate,
			toll_name, vehicle_category, passage_date, transaction_id,
			subtotal, tax, total, tax_code, description, subject_id, accounted
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, false
		)
		ON CONFLICT (business_key) DO UPDATE SET
			status = EXCLUDED.status,
			document_type = EXCLUDED.document_type,
			creation_date = EXCLUDED.creation_date,
			document_number = EXCLUDED.document_number,
			related_document = EXCLUDED.related_document,
			cost_center = EXCLUDED.cost_center,
			license_plate = EXCLUDED.license_plate,
			toll_name = EXCLUDED.toll_name,
			vehicle_category = EXCLUDED.vehicle_category,
			passage_date = EXCLUDED.passage_date,
			transaction_id = EXCLUDED.transaction_id,
			subtotal = EXCLUDED.subtotal,
			tax = EXCLUDED.tax,
			total = EXCLUDED.total,
			tax_code = EXCLUDED.tax_code,
			description = EXCLUDED.description,
			subject_id = EXCLUDED.subject_id,
			updated_at = now()`,
		tx.BusinessKey, tx.Status, tx.DocumentType, tx.CreationDate,
		tx.DocumentNumber, tx.RelatedDocument, tx.CostCenter, tx.LicensePlate,
		tx.TollName, tx.VehicleCategory, tx.PassageDate, tx.TransactionID,
		tx.Subtotal, tx.Tax, tx.Total, tx.TaxCode, tx.Description, tx.SubjectID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert toll transaction %s: %w", tx.BusinessKey, err)
	}

	return nil
}

func (r *transactionRepository) Count(ctx context.Context, filter domain.TransactionFilter) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("transaction repository not initialized")
	}

	where, args := buildFilter(filter)

	var count int64
	err := r.pool.QueryRow(
		ctx,
		"SELECT count(*) FROM toll_transactions"+where,
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count toll transactions: %w", err)
	}

	return count, nil
}

// groupableColumns is the allow-list for GroupBy. The field name comes
// from the HTTP query string and must never reach the SQL text raw.
var groupableColumns = map[string]string{
	"status":           "status",
	"license_plate":    "license_plate",
	"toll_name":        "toll_name",
	"vehicle_category": "vehicle_category",
	"tax_code":         "tax_code",
	"subject_id":       "subject_id",
}

func (r *transactionRepository) GroupBy(ctx context.Context, field string, filter domain.TransactionFilter) ([]domain.GroupCount, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("transaction repository not initialized")
	}

	column, ok := groupableColumns[field]
	if !ok {
		return nil, fmt.Errorf("cannot group toll transactions by %q", field)
	}

	where, args := buildFilter(filter)

	rows, err := r.pool.Query(
		ctx,
		fmt.Sprintf(
			"SELECT %s, count(*) FROM toll_transactions%s GROUP BY %s ORDER BY count(*) DESC",
			column, where, column,
		),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to group toll transactions: %w", err)
	}
	defer rows.Close()

	groups := []domain.GroupCount{}
	for rows.Next() {
		var g domain.GroupCount
		if scanErr := rows.Scan(&g.Value, &g.Count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan group count: %w", scanErr)
		}
		groups = append(groups, g)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate group counts: %w", rowsErr)
	}

	return groups, nil
}

// buildFilter renders the WHERE clause for a TransactionFilter with
// positional arguments. An empty filter yields an empty clause.
func buildFilter(filter domain.TransactionFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.SubjectID != "" {
		add("subject_id = $%d", filter.SubjectID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Accounted != nil {
		add("accounted = $%d", *filter.Accounted)
	}
	if filter.PassageFrom != nil {
		add("passage_date >= $%d", *filter.PassageFrom)
	}
	if filter.PassageUntil != nil {
		add("passage_date <= $%d", *filter.PassageUntil)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
