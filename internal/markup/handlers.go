package markup

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alleato/procore-api/internal/common"
	"github.com/alleato/procore-api/internal/obs"
)

// Handler exposes the project vertical markup endpoints.
type Handler struct {
	service *Service
	logger  zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
	Logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service, logger: cfg.Logger}
}

// Routes mounts the endpoints under /projects/{projectID}/vertical-markup.
// wrap decorates mutating routes, for example with audit recording.
func (h *Handler) Routes(r chi.Router, calc func(http.Handler) http.Handler, wrap func(action string) func(http.Handler) http.Handler) {
	if calc == nil {
		calc = passthrough
	}
	if wrap == nil {
		wrap = func(string) func(http.Handler) http.Handler { return passthrough }
	}
	r.Route("/projects/{projectID}/vertical-markup", func(r chi.Router) {
		r.Get("/", h.List)
		r.With(wrap("markup.create")).Post("/", h.Create)
		r.With(wrap("markup.update")).Put("/", h.BulkUpdate)
		r.With(wrap("markup.delete")).Delete("/", h.Delete)
		r.With(calc).Post("/calculate", h.Calculate)
	})
}

func passthrough(next http.Handler) http.Handler { return next }

// List handles GET /api/v1/projects/{projectID}/vertical-markup.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	rows, err := h.service.List(r.Context(), projectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"markups": rows})
}

// Create handles POST /api/v1/projects/{projectID}/vertical-markup.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	created, err := h.service.Create(r.Context(), projectID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"success": true, "data": created})
}

// BulkUpdate handles PUT /api/v1/projects/{projectID}/vertical-markup.
func (h *Handler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	var in BulkUpdateInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	updated, err := h.service.BulkUpdate(r.Context(), projectID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "markups": updated})
}

// Delete handles DELETE /api/v1/projects/{projectID}/vertical-markup?markupId=.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("markupId"))
	if raw == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "markupId is required", nil)
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "markupId must be a UUID", nil)
		return
	}
	if err := h.service.Delete(r.Context(), projectID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true})
}

type calculateRequest struct {
	BaseAmount *float64 `json:"baseAmount"`
}

// Calculate handles POST /api/v1/projects/{projectID}/vertical-markup/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		obs.ObserveCalculation("invalid", 0)
		return
	}
	var req calculateRequest
	if err := common.DecodeJSON(r, &req); err != nil || req.BaseAmount == nil {
		obs.ObserveCalculation("invalid", 0)
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "baseAmount must be a number", nil)
		return
	}
	result, err := h.service.Calculate(r.Context(), projectID, *req.BaseAmount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, result)
}

func (h *Handler) projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "markup service not configured", nil)
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "projectID")), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "projectID must be an integer", nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if !common.IsAppError(err) {
		h.logger.Error().Err(err).
			Str("route", obs.RoutePatternFromContext(r.Context())).
			Str("project_id", chi.URLParam(r, "projectID")).
			Msg("markup_request_failed")
	}
	common.WriteError(w, err)
}
