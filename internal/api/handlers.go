package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/services"
	"github.com/observastack/health-sentinel/internal/utils"
)

// Handler exposes the evaluation service over JSON HTTP.
type Handler struct {
	logger  *slog.Logger
	service *services.HealthService
}

// NewHandler constructs the HTTP handler facade.
func NewHandler(logger *slog.Logger, service *services.HealthService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// Routes wires all endpoints onto a ServeMux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/evaluations", h.evaluate)
	mux.HandleFunc("POST /api/v1/evaluations/batch", h.evaluateBatch)
	mux.HandleFunc("GET /api/v1/evaluations", h.listEvaluations)
	mux.HandleFunc("GET /api/v1/state", h.currentState)
	mux.HandleFunc("GET /api/v1/baselines", h.baselines)
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req models.EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, utils.E(utils.KindInvalid, "api.evaluate", "malformed request body", err))
		return
	}

	evaluation, err := h.service.EvaluateTarget(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, evaluation)
}

func (h *Handler) evaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, utils.E(utils.KindInvalid, "api.evaluate_batch", "malformed request body", err))
		return
	}

	resp, err := h.service.EvaluateBatch(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listEvaluations(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_evaluations"
	query := r.URL.Query()

	start, end, err := utils.ParseTimeRange(query.Get("start"), query.Get("end"), 24*time.Hour, time.Now().UTC())
	if err != nil {
		h.writeError(w, utils.E(utils.KindInvalid, op, err.Error(), nil))
		return
	}

	req := models.ListEvaluationsRequest{
		TargetType: query.Get("target_type"),
		TargetID:   query.Get("target_id"),
		Start:      start,
		End:        end,
		PageToken:  query.Get("page_token"),
	}
	if raw := query.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			h.writeError(w, utils.E(utils.KindInvalid, op, "page_size must be a positive integer", err))
			return
		}
		req.PageSize = size
	}

	resp, err := h.service.ListEvaluations(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) currentState(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	target := models.Target{
		Type: query.Get("target_type"),
		ID:   query.Get("target_id"),
	}

	state, err := h.service.CurrentState(r.Context(), target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) baselines(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	target := models.Target{
		Type: query.Get("target_type"),
		ID:   query.Get("target_id"),
	}

	mined, err := h.service.SuggestBaselines(r.Context(), target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"baselines": mined})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch utils.KindOf(err) {
	case utils.KindInvalid:
		status = http.StatusBadRequest
	case utils.KindUpstream:
		status = http.StatusBadGateway
	case utils.KindNotFound:
		status = http.StatusNotFound
	}

	if status >= 500 {
		h.logger.Error("request failed", slog.Any("error", err))
	} else {
		h.logger.Debug("request rejected", slog.Any("error", err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
