package transport

import (
	"errors"
	"net/http"
	"strconv"

	"catalog-sync/internal/middleware"
	"catalog-sync/internal/queue"
	"catalog-sync/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImportMappingsRequest is the body of PUT /api/variants
type ImportMappingsRequest struct {
	Mappings []service.Mapping `json:"mappings" validate:"required,min=1,max=5000,dive"`
}

// listQuery carries the optional ?limit= parameter
type listQuery struct {
	Limit int `validate:"gte=0,lte=500"`
}

// OpsHandler serves queue inspection and recovery endpoints
type OpsHandler struct {
	ops    service.OpsService
	logger *zap.Logger
}

// NewOpsHandler creates a new OpsHandler
func NewOpsHandler(ops service.OpsService, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{ops: ops, logger: logger}
}

// RegisterRoutes registers all ops routes
func (h *OpsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/queue", h.QueueSummary)
		r.Get("/queue/dead-letters", h.DeadLetters)
		r.Post("/queue/dead-letters/requeue", h.RequeueAll)
		r.Post("/queue/dead-letters/{id}/requeue", h.Requeue)
		r.Get("/runs", h.RecentRuns)
		r.Put("/variants", h.ImportMappings)
	})
}

func (h *OpsHandler) QueueSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ops.QueueSummary(r.Context())
	if err != nil {
		h.logger.Error("Failed to build queue summary", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, summary)
}

func (h *OpsHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseList(w, r)
	if !ok {
		return
	}

	entries, err := h.ops.DeadLetters(r.Context(), q.Limit)
	if err != nil {
		h.logger.Error("Failed to list dead letters", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *OpsHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	err = h.ops.Requeue(r.Context(), id)
	switch {
	case err == nil:
		h.logger.Info("Dead letter requeued", zap.String("entry_id", id.String()))
		middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "pending"})
	case errors.Is(err, queue.ErrEntryNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, queue.ErrEntryNotDeadLetter):
		middleware.RespondWithError(w, http.StatusConflict, "entry is not dead-lettered")
	case errors.Is(err, queue.ErrPendingExists):
		middleware.RespondWithError(w, http.StatusConflict, "a newer pending update exists for this product")
	default:
		h.logger.Error("Failed to requeue entry", zap.String("entry_id", id.String()), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to requeue entry")
	}
}

func (h *OpsHandler) RequeueAll(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseList(w, r)
	if !ok {
		return
	}

	result, err := h.ops.RequeueAll(r.Context(), q.Limit)
	if err != nil {
		h.logger.Error("Bulk requeue failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to requeue dead letters")
		return
	}

	h.logger.Info("Dead letters requeued", zap.Int("requeued", result.Requeued), zap.Int("skipped", len(result.Skipped)))
	middleware.RespondWithJSON(w, http.StatusOK, result)
}

func (h *OpsHandler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseList(w, r)
	if !ok {
		return
	}

	runs, err := h.ops.RecentRuns(r.Context(), q.Limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *OpsHandler) ImportMappings(w http.ResponseWriter, r *http.Request) {
	var req ImportMappingsRequest

	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Mapping import validation failed", zap.Error(err))

		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}

		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.ops.ImportMappings(r.Context(), req.Mappings)
	if err != nil {
		h.logger.Error("Mapping import failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to import mappings")
		return
	}

	h.logger.Info("Variant mappings imported", zap.Int("count", n))
	middleware.RespondWithJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (h *OpsHandler) parseList(w http.ResponseWriter, r *http.Request) (listQuery, bool) {
	var q listQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "limit must be an integer")
			return q, false
		}
		q.Limit = limit
	}

	if err := middleware.ValidateRequest(q); err != nil {
		middleware.RespondWithValidationErrors(w, middleware.FormatValidationErrors(err))
		return q, false
	}
	return q, true
}
