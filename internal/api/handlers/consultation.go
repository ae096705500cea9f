package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nixvet/clinical-engine/internal/api/middleware"
	"github.com/nixvet/clinical-engine/internal/domain/consultation"
)

// ConsultationHandler exposes consultation lookups used to anchor requests.
type ConsultationHandler struct {
	repo   *consultation.Repository
	logger *zap.Logger
}

// NewConsultationHandler creates a new handler
func NewConsultationHandler(repo *consultation.Repository, logger *zap.Logger) *ConsultationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultationHandler{repo: repo, logger: logger}
}

// Routes returns the handler routes
func (h *ConsultationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List handles GET /consultations?patientId=
func (h *ConsultationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	patientID := r.URL.Query().Get("patientId")
	if patientID == "" {
		h.jsonError(w, "patientId is required", http.StatusBadRequest)
		return
	}

	summaries, err := h.repo.ListByPatient(ctx, middleware.GetTenantID(ctx), patientID)
	if err != nil {
		h.logger.Error("consultation list failed", zap.Error(err))
		h.jsonError(w, "failed to list consultations", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []consultation.Summary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

func (h *ConsultationHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
