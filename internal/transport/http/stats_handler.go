package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"

	apierrors "tollsync/internal/errors"
	"tollsync/pkg/contracts/domain"
)

// StatsHandler answers reporting queries over ingested transactions
type StatsHandler struct {
	service StatsServiceInterface
	logger  *slog.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(service StatsServiceInterface, logger *slog.Logger) *StatsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StatsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "stats")),
	}
}

// CountResponse is the count endpoint body.
type CountResponse struct {
	Count int64 `json:"count"`
}

// GroupResponse is the group-by endpoint body.
type GroupResponse struct {
	Field  string              `json:"field"`
	Groups []domain.GroupCount `json:"groups"`
}

// Stats handles GET /api/transactions/stats. Without a group_by
// parameter it returns a filtered count; with one it returns per-bucket
// counts.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	field := r.URL.Query().Get("group_by")
	if field == "" {
		count, err := h.service.Count(ctx, filter)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to count transactions", slog.String("error", err.Error()))
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
			return
		}
		render.JSON(w, r, CountResponse{Count: count})
		return
	}

	groups, err := h.service.GroupBy(ctx, field, filter)
	if err != nil {
		if strings.Contains(err.Error(), "cannot group") {
			render.Render(w, r, apierrors.NewErrorResponse(
				apierrors.ErrValidation("group_by", "unsupported field")))
			return
		}
		h.logger.ErrorContext(ctx, "failed to group transactions",
			slog.String("field", field),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}

	render.JSON(w, r, GroupResponse{Field: field, Groups: groups})
}

func parseFilter(r *http.Request) (domain.TransactionFilter, error) {
	query := r.URL.Query()
	filter := domain.TransactionFilter{
		SubjectID: query.Get("subject_identifier"),
		Status:    query.Get("status"),
	}

	if raw := query.Get("accounted"); raw != "" {
		accounted, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, err
		}
		filter.Accounted = &accounted
	}
	if raw := query.Get("passage_from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, err
		}
		filter.PassageFrom = &from
	}
	if raw := query.Get("passage_until"); raw != "" {
		until, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, err
		}
		filter.PassageUntil = &until
	}

	return filter, nil
}
