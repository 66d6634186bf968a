package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tollsync/pkg/contracts/domain"
)

func TestBuildFilterEmpty(t *testing.T) {
	where, args := buildFilter(domain.TransactionFilter{})
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestBuildFilterSingleClause(t *testing.T) {
	where, args := buildFilter(domain.TransactionFilter{SubjectID: "ACME-01"})
	assert.Equal(t, " WHERE subject_id = $1", where)
	assert.Equal(t, []any{"ACME-01"}, args)
}

func TestBuildFilterCombinesClauses(t *testing.T) {
	accounted := false
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	where, args := buildFilter(domain.TransactionFilter{
		SubjectID:    "ACME-01",
		Status:       "processed",
		Accounted:    &accounted,
		PassageFrom:  &from,
		PassageUntil: &until,
	})

	assert.Equal(t,
		" WHERE subject_id = $1 AND status = $2 AND accounted = $3 AND passage_date >= $4 AND passage_date <= $5",
		where)
	assert.Equal(t, []any{"ACME-01", "processed", false, from, until}, args)
}

func TestGroupableColumnsRejectUnknownField(t *testing.T) {
	_, ok := groupableColumns["business_key; DROP TABLE toll_transactions"]
	assert.False(t, ok)

	for _, field := range []string{"status", "license_plate", "toll_name", "vehicle_category", "tax_code", "subject_id"} {
		_, ok := groupableColumns[field]
		assert.True(t, ok, field)
	}
}
