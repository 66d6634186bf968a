package services

import (
	"context"
	"fmt"
	"log/slog"

	"tollsync/internal/store"
	"tollsync/pkg/contracts/domain"
)

// StatsService answers reporting queries over the transaction table.
type StatsService struct {
	transactions store.TransactionRepository
	logger       *slog.Logger
}

// NewStatsService creates the stats service.
func NewStatsService(transactions store.TransactionRepository, logger *slog.Logger) *StatsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsService{
		transactions: transactions,
		logger:       logger.With(slog.String("service", "stats")),
	}
}

// Count returns the number of transactions matching the filter.
func (s *StatsService) Count(ctx context.Context, filter domain.TransactionFilter) (int64, error) {
	count, err := s.transactions.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// GroupBy returns per-bucket counts for an allow-listed field.
func (s *StatsService) GroupBy(ctx context.Context, field string, filter domain.TransactionFilter) ([]domain.GroupCount, error) {
	groups, err := s.transactions.GroupBy(ctx, field, filter)
	if err != nil {
		return nil, fmt.Errorf("group transactions by %s: %w", field, err)
	}
	return groups, nil
}
