package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tshla/previsit-platform/internal/responses"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type responseStore interface {
	GetByAppointment(ctx context.Context, appointmentID string) (*responses.PreVisitResponse, error)
	ListUrgent(ctx context.Context, limit int) ([]responses.PreVisitResponse, error)
	Annotate(ctx context.Context, appointmentID, reviewedBy, note string) error
}

// AdminResponsesHandler exposes pre-visit responses for provider review.
type AdminResponsesHandler struct {
	store  responseStore
	logger *logging.Logger
}

func NewAdminResponsesHandler(store responseStore, logger *logging.Logger) *AdminResponsesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminResponsesHandler{store: store, logger: logger.Component("admin-responses")}
}

// GetByAppointment returns the response for one appointment.
// GET /admin/appointments/{appointmentID}/response
func (h *AdminResponsesHandler) GetByAppointment(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	if appointmentID == "" {
		http.Error(w, "missing appointmentID", http.StatusBadRequest)
		return
	}
	resp, err := h.store.GetByAppointment(r.Context(), appointmentID)
	if err != nil {
		if errors.Is(err, responses.ErrNotFound) {
			http.Error(w, "response not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load response failed", "appointment_id", appointmentID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUrgent returns responses flagged for urgent callback, oldest first.
// GET /admin/responses/urgent
func (h *AdminResponsesHandler) ListUrgent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	urgent, err := h.store.ListUrgent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list urgent failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if urgent == nil {
		urgent = []responses.PreVisitResponse{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": urgent, "count": len(urgent)})
}

type reviewRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Note       string `json:"note"`
}

// Review records the provider annotation. The extraction itself is immutable.
// PATCH /admin/appointments/{appointmentID}/response/review
func (h *AdminResponsesHandler) Review(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	if appointmentID == "" {
		http.Error(w, "missing appointmentID", http.StatusBadRequest)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.ReviewedBy == "" {
		http.Error(w, "reviewed_by required", http.StatusBadRequest)
		return
	}
	if err := h.store.Annotate(r.Context(), appointmentID, req.ReviewedBy, req.Note); err != nil {
		if errors.Is(err, responses.ErrNotFound) {
			http.Error(w, "response not found", http.StatusNotFound)
			return
		}
		h.logger.Error("annotate failed", "appointment_id", appointmentID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("response reviewed", "appointment_id", appointmentID, "reviewed_by", req.ReviewedBy)
	w.WriteHeader(http.StatusNoContent)
}
