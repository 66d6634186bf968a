package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollsync/pkg/contracts/domain"
)

type fakeStatsService struct {
	filter domain.TransactionFilter
	field  string
	count  int64
	groups []domain.GroupCount
}

func (f *fakeStatsService) Count(ctx context.Context, filter domain.TransactionFilter) (int64, error) {
	f.filter = filter
	return f.count, nil
}

func (f *fakeStatsService) GroupBy(ctx context.Context, field string, filter domain.TransactionFilter) ([]domain.GroupCount, error) {
	f.field = field
	f.filter = filter
	if field == "business_key" {
		return nil, fmt.Errorf("cannot group toll transactions by %q", field)
	}
	return f.groups, nil
}

func TestStatsCount(t *testing.T) {
	svc := &fakeStatsService{count: 42}
	handler := NewStatsHandler(svc, nil)

	rec := httptest.NewRecorder()
	handler.Stats(rec, httptest.NewRequest(http.MethodGet,
		"/api/transactions/stats?subject_identifier=ACME-01&accounted=false&passage_from=2025-01-01", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Count)

	assert.Equal(t, "ACME-01", svc.filter.SubjectID)
	require.NotNil(t, svc.filter.Accounted)
	assert.False(t, *svc.filter.Accounted)
	require.NotNil(t, svc.filter.PassageFrom)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *svc.filter.PassageFrom)
}

func TestStatsGroupBy(t *testing.T) {
	svc := &fakeStatsService{groups: []domain.GroupCount{
		{Value: "ABC1D23", Count: 17},
		{Value: "XYZ9K88", Count: 3},
	}}
	handler := NewStatsHandler(svc, nil)

	rec := httptest.NewRecorder()
	handler.Stats(rec, httptest.NewRequest(http.MethodGet,
		"/api/transactions/stats?group_by=license_plate", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "license_plate", svc.field)

	var resp GroupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "license_plate", resp.Field)
	assert.Len(t, resp.Groups, 2)
}

func TestStatsRejectsUnsupportedGroupField(t *testing.T) {
	handler := NewStatsHandler(&fakeStatsService{}, nil)

	rec := httptest.NewRecorder()
	handler.Stats(rec, httptest.NewRequest(http.MethodGet,
		"/api/transactions/stats?group_by=business_key", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsRejectsBadFilterValues(t *testing.T) {
	handler := NewStatsHandler(&fakeStatsService{}, nil)

	rec := httptest.NewRecorder()
	handler.Stats(rec, httptest.NewRequest(http.MethodGet,
		"/api/transactions/stats?accounted=maybe", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
