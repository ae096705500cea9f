// Package handlers provides HTTP handlers for the composition API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/nixvet/clinical-engine/internal/api/middleware"
	"github.com/nixvet/clinical-engine/internal/dispatch"
	"github.com/nixvet/clinical-engine/internal/domain/catalog"
	"github.com/nixvet/clinical-engine/internal/domain/request"
	"github.com/nixvet/clinical-engine/internal/infrastructure/kafka"
	"github.com/nixvet/clinical-engine/internal/observability/metrics"
)

// RequestHandler handles clinical request endpoints
type RequestHandler struct {
	repo     *request.Repository
	resolver *catalog.Resolver
	cache    *catalog.SnapshotCache
	gateway  dispatch.Gateway
	producer *kafka.Producer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRequestHandler creates a new handler
func NewRequestHandler(repo *request.Repository, resolver *catalog.Resolver, cache *catalog.SnapshotCache, gateway dispatch.Gateway, producer *kafka.Producer, m *metrics.Metrics, logger *zap.Logger) *RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestHandler{
		repo:     repo,
		resolver: resolver,
		cache:    cache,
		gateway:  gateway,
		producer: producer,
		metrics:  m,
		logger:   logger,
	}
}

// Routes returns the handler routes
func (h *RequestHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/pdf", h.Pdf)
	r.Post("/{id}/deliver", h.Deliver)
	return r
}

// CreateRequest is the request body for composing a clinical request
type CreateRequest struct {
	request.Draft
	VeterinarianID  string `json:"veterinarian_id"`
	DefaultParentID *int64 `json:"default_parent_id,omitempty"`
}

// CreateResponse is the response for a composed clinical request
type CreateResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	ItemCount    int       `json:"item_count"`
	CreatedItems []string  `json:"created_items,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Create handles POST /clinical-requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("request-handler")
	ctx, span := tracer.Start(ctx, "compose_request")
	defer span.End()

	start := time.Now()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tenantID := middleware.GetTenantID(ctx)
	actor := request.ActorContext{TenantID: tenantID, VeterinarianID: req.VeterinarianID}

	// Reject malformed drafts before touching the catalog.
	if verr := request.ValidateDraft(&req.Draft); verr != nil {
		h.metrics.RequestsRejected.Inc()
		h.validationError(w, verr)
		return
	}

	group := req.Draft.ItemGroup()
	snapshot, err := h.cache.Get(ctx, tenantID, group)
	if err != nil {
		h.logger.Error("catalog snapshot unavailable", zap.Error(err))
		h.jsonError(w, "catalog unavailable", http.StatusServiceUnavailable)
		return
	}

	def := catalog.GroupRef{Group: group, ParentID: req.DefaultParentID}
	res := h.resolver.Reconcile(ctx, tenantID, req.Draft.ItemNames(), snapshot, def)

	if n := len(res.Created); n > 0 {
		h.metrics.CatalogItemsCreated.Add(float64(n))
		h.cache.Invalidate(tenantID, group)
	}
	if n := len(res.Unresolved); n > 0 {
		h.metrics.ReconcileUnresolved.Add(float64(n))
	}

	composed, verr := request.Compose(&req.Draft, res, actor)
	if verr != nil {
		h.metrics.RequestsRejected.Inc()
		h.validationError(w, verr)
		return
	}
	span.SetAttributes(attribute.String("clinical_request_id", composed.ID))

	if err := h.repo.Submit(ctx, composed); err != nil {
		h.logger.Error("submit failed", zap.Error(err))
		h.jsonError(w, "failed to save clinical request", http.StatusInternalServerError)
		return
	}

	h.metrics.RequestsComposed.Inc()
	h.metrics.ComposeDuration.Observe(time.Since(start).Seconds())

	createdNames := make([]string, 0, len(res.Created))
	for _, it := range res.Created {
		createdNames = append(createdNames, it.Name)
	}

	h.logger.Info("clinical request composed",
		zap.String("id", composed.ID),
		zap.String("kind", string(composed.Kind)),
		zap.Int("items", len(composed.Items)),
		zap.Int("catalog_creates", len(createdNames)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	resp := CreateResponse{
		ID:           composed.ID,
		Kind:         string(composed.Kind),
		ItemCount:    len(composed.Items),
		CreatedItems: createdNames,
		CreatedAt:    composed.CreatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// List handles GET /clinical-requests
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	patientID := r.URL.Query().Get("patientId")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	summaries, err := h.repo.List(ctx, tenantID, patientID, limit)
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		h.jsonError(w, "failed to list clinical requests", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []request.Summary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// Get handles GET /clinical-requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	req, err := h.repo.Get(ctx, middleware.GetTenantID(ctx), id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			h.jsonError(w, "clinical request not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		h.jsonError(w, "failed to load clinical request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// Pdf handles GET /clinical-requests/{id}/pdf
func (h *RequestHandler) Pdf(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	req, err := h.repo.Get(ctx, middleware.GetTenantID(ctx), id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			h.jsonError(w, "clinical request not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, "failed to load clinical request", http.StatusInternalServerError)
		return
	}

	doc, err := h.gateway.Render(ctx, req)
	if err != nil {
		h.logger.Error("render failed", zap.String("id", id), zap.Error(err))
		h.jsonError(w, "document rendering unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Write(doc)
}

// DeliverRequest is the request body for triggering a document delivery
type DeliverRequest struct {
	Recipient string `json:"recipient"`
}

// Deliver handles POST /clinical-requests/{id}/deliver
//
// Delivery runs synchronously so the caller gets a definitive outcome. On
// failure a retry command is queued for the dispatch worker and the error is
// surfaced; the stored request and any catalog entries it registered are
// never rolled back.
func (h *RequestHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	tenantID := middleware.GetTenantID(ctx)

	var body DeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Recipient == "" {
		h.jsonError(w, "recipient is required", http.StatusBadRequest)
		return
	}

	req, err := h.repo.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			h.jsonError(w, "clinical request not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, "failed to load clinical request", http.StatusInternalServerError)
		return
	}

	if err := h.gateway.Deliver(ctx, req, body.Recipient); err != nil {
		h.metrics.DeliveryFailures.Inc()
		h.logger.Warn("synchronous delivery failed, queueing retry",
			zap.String("id", id), zap.Error(err))

		cmd := dispatch.Command{
			TenantID:  tenantID,
			RequestID: id,
			Action:    dispatch.ActionDeliver,
			Recipient: body.Recipient,
			IssuedAt:  time.Now().UTC(),
		}
		payload, _ := json.Marshal(cmd)
		if perr := h.producer.ProduceMessage(ctx, kafka.TopicDispatchCommands, id, payload); perr != nil {
			h.logger.Error("failed to queue delivery retry", zap.Error(perr))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "delivery failed: " + err.Error(),
			"status": "RETRY_SCHEDULED",
		})
		return
	}

	h.metrics.DocumentsDelivered.Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":     id,
		"status": "DELIVERED",
	})
}

func (h *RequestHandler) validationError(w http.ResponseWriter, verr *request.ValidationError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"error": verr.Message,
		"field": verr.Field,
	})
}

func (h *RequestHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
