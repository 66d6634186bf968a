package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apierrors "tollsync/internal/errors"
	"tollsync/internal/ingest"
	"tollsync/internal/store"
	"tollsync/pkg/contracts/domain"
)

var validate = validator.New()

// IngestionHandler handles ingestion-run HTTP requests
type IngestionHandler struct {
	service IngestionServiceInterface
	logger  *slog.Logger
}

// NewIngestionHandler creates a new ingestion handler
func NewIngestionHandler(service IngestionServiceInterface, logger *slog.Logger) *IngestionHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &IngestionHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "ingestions")),
	}
}

// IngestionRequest represents the request to trigger a pipeline run
type IngestionRequest struct {
	SubjectID        string `json:"subject_identifier" validate:"required"`
	CredentialSecret string `json:"credential_secret" validate:"required"`
	RangeStart       string `json:"range_start" validate:"required"`
	RangeEnd         string `json:"range_end" validate:"required"`
	AutoIngest       *bool  `json:"auto_ingest,omitempty"`

	rangeStart time.Time
	rangeEnd   time.Time
}

// Bind implements the render.Binder interface for request validation
func (r *IngestionRequest) Bind(req *http.Request) error {
	if err := validate.Struct(r); err != nil {
		return err
	}

	var err error
	r.rangeStart, err = time.Parse("2006-01-02", r.RangeStart)
	if err != nil {
		return fmt.Errorf("range_start: expected YYYY-MM-DD, got %q", r.RangeStart)
	}
	r.rangeEnd, err = time.Parse("2006-01-02", r.RangeEnd)
	if err != nil {
		return fmt.Errorf("range_end: expected YYYY-MM-DD, got %q", r.RangeEnd)
	}
	if r.rangeEnd.Before(r.rangeStart) {
		return errors.New("range_end precedes range_start")
	}

	return nil
}

// Params converts the request into pipeline parameters. AutoIngest
// defaults to true when omitted.
func (r *IngestionRequest) Params() ingest.Params {
	autoIngest := true
	if r.AutoIngest != nil {
		autoIngest = *r.AutoIngest
	}
	return ingest.Params{
		SubjectID:        r.SubjectID,
		CredentialSecret: r.CredentialSecret,
		RangeStart:       r.rangeStart,
		RangeEnd:         r.rangeEnd,
		AutoIngest:       autoIngest,
	}
}

// Create handles POST /api/ingestions. The run is accepted and finishes
// in the background; the 202 body carries the processing audit record.
func (h *IngestionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IngestionRequest
	if err := render.Bind(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid ingestion request", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	run, err := h.service.Start(ctx, req.Params())
	if err != nil {
		if errors.Is(err, ingest.ErrRunActive) {
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.RunConflictError(req.SubjectID)))
			return
		}
		h.logger.ErrorContext(ctx, "failed to start ingestion run",
			slog.String("subject", req.SubjectID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, run)
}

// Get handles GET /api/ingestions/{id}
func (h *IngestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.ErrValidation("id", "must be a UUID")))
		return
	}

	run, err := h.service.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrRunNotFound))
			return
		}
		h.logger.ErrorContext(ctx, "failed to get ingestion run",
			slog.String("run_id", id.String()),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}

	render.JSON(w, r, run)
}

// ListResponse wraps the run listing.
type ListResponse struct {
	Runs  []domain.IngestionRun `json:"runs"`
	Count int                   `json:"count"`
}

// List handles GET /api/ingestions
func (h *IngestionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	subjectID := r.URL.Query().Get("subject_identifier")

	runs, err := h.service.ListRuns(ctx, subjectID, limit, offset)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list ingestion runs", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}

	render.JSON(w, r, ListResponse{Runs: runs, Count: len(runs)})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
