package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/services"
	"synthpanel/internal/synthesis"
)

var validate = validator.New()

// GenerateRequest is the body of POST /panels
type GenerateRequest struct {
	Regions     []int   `json:"regions" validate:"required,min=1,dive,min=0"`
	Periods     []int   `json:"periods" validate:"required,min=1"`
	N           int     `json:"n" validate:"min=0"`
	Seed        *uint64 `json:"seed,omitempty"`
	Workers     int     `json:"workers" validate:"min=0,max=256"`
	Persist     bool    `json:"persist"`
	DirtyValues *bool   `json:"dirty_values,omitempty"`
}

// Bind implements the render.Binder interface
func (g *GenerateRequest) Bind(r *http.Request) error {
	return validate.Struct(g)
}

// VerifyRequest is the body of POST /panels/verify
type VerifyRequest struct {
	Regions []int `json:"regions" validate:"dive,min=0"`
	Periods []int `json:"periods" validate:"required,min=1"`
}

// Bind implements the render.Binder interface
func (v *VerifyRequest) Bind(r *http.Request) error {
	return validate.Struct(v)
}

// TargetResponse is returned by GET /targets/{region}/{period}
type TargetResponse struct {
	Key           synthesis.GroupKey   `json:"key"`
	Target        synthesis.TargetSpec `json:"target"`
	LowConfidence bool                 `json:"low_confidence"`
}

// VerifyResponse is returned by POST /panels/verify
type VerifyResponse struct {
	Summary synthesis.VerificationSummary `json:"summary"`
	Groups  []synthesis.GroupCheck        `json:"groups"`
}

// PanelLimits bounds the size of one build requested over HTTP.
// A zero field disables that check.
type PanelLimits struct {
	MaxGroups          int // regions x periods
	MaxRecordsPerGroup int
}

// PanelHandler serves target resolution, panel builds and verification
type PanelHandler struct {
	service      PanelServiceInterface
	limits       PanelLimits
	logger       *slog.Logger
	errorHandler *apperrors.ErrorHandler
}

// NewPanelHandler creates a panel handler
func NewPanelHandler(service PanelServiceInterface, limits PanelLimits, logger *slog.Logger, errorHandler *apperrors.ErrorHandler) *PanelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PanelHandler{
		service:      service,
		limits:       limits,
		logger:       logger.With(slog.String("handler", "panel")),
		errorHandler: errorHandler,
	}
}

// Routes returns the panel routes
func (h *PanelHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/targets/{region}/{period}", h.GetTarget)
	r.Post("/panels", h.GeneratePanel)
	r.Post("/panels/verify", h.VerifyPanel)
	return r
}

// GetTarget handles GET /targets/{region}/{period}
func (h *PanelHandler) GetTarget(w http.ResponseWriter, r *http.Request) {
	region, err := strconv.Atoi(chi.URLParam(r, "region"))
	if err != nil || region < 0 {
		h.errorHandler.HandleError(w, r, apperrors.ErrValidation("region", "region must be a non-negative integer"))
		return
	}
	period, err := strconv.Atoi(chi.URLParam(r, "period"))
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.ErrValidation("period", "period must be an integer"))
		return
	}

	key := synthesis.GroupKey{Region: region, Period: period}
	spec, err := h.service.ResolveTarget(r.Context(), key)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, TargetResponse{Key: key, Target: spec, LowConfidence: spec.LowConfidence()})
}

// GeneratePanel handles POST /panels
func (h *PanelHandler) GeneratePanel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := &GenerateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.errorHandler.HandleError(w, r, bindError(err))
		return
	}

	if groups := len(req.Regions) * len(req.Periods); h.limits.MaxGroups > 0 && groups > h.limits.MaxGroups {
		h.errorHandler.HandleError(w, r, apperrors.NewWithDetails(
			apperrors.ErrTooManyGroups.StatusCode,
			apperrors.ErrTooManyGroups.ErrorCode,
			apperrors.ErrTooManyGroups.Message,
			map[string]int{"groups": groups, "max_groups": h.limits.MaxGroups},
		))
		return
	}
	if limit := h.limits.MaxRecordsPerGroup; limit > 0 && req.N > limit {
		h.errorHandler.HandleError(w, r, apperrors.NewWithDetails(
			apperrors.ErrTooManyRecords.StatusCode,
			apperrors.ErrTooManyRecords.ErrorCode,
			apperrors.ErrTooManyRecords.Message,
			map[string]int{"n": req.N, "max_records_per_group": limit},
		))
		return
	}

	h.logger.InfoContext(ctx, "panel requested",
		slog.Int("regions", len(req.Regions)),
		slog.Int("periods", len(req.Periods)),
		slog.Bool("persist", req.Persist))

	result, _, err := h.service.Generate(ctx, services.GenerateRequest{
		Regions:         req.Regions,
		Periods:         req.Periods,
		RecordsPerGroup: req.N,
		Seed:            req.Seed,
		Workers:         req.Workers,
		Persist:         req.Persist,
		DirtyValues:     req.DirtyValues,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// VerifyPanel handles POST /panels/verify
func (h *PanelHandler) VerifyPanel(w http.ResponseWriter, r *http.Request) {
	req := &VerifyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.errorHandler.HandleError(w, r, bindError(err))
		return
	}

	report, err := h.service.VerifyStored(r.Context(), req.Regions, req.Periods)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, VerifyResponse{Summary: report.Summary(), Groups: report.Groups})
}

// bindError keeps validation failures and reports everything else as a
// malformed request
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return err
	}
	return apperrors.InvalidRequestWithError(err)
}
