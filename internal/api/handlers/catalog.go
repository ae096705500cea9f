package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nixvet/clinical-engine/internal/api/middleware"
	"github.com/nixvet/clinical-engine/internal/domain/catalog"
	"github.com/nixvet/clinical-engine/internal/infrastructure/kafka"
)

// CatalogHandler handles catalog settings endpoints. Every mutating route
// invalidates the snapshot cache for the touched group and emits a catalog
// event, best effort.
type CatalogHandler struct {
	store    catalog.Store
	cache    *catalog.SnapshotCache
	producer *kafka.Producer
	logger   *zap.Logger
}

// NewCatalogHandler creates a new handler
func NewCatalogHandler(store catalog.Store, cache *catalog.SnapshotCache, producer *kafka.Producer, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{
		store:    store,
		cache:    cache,
		producer: producer,
		logger:   logger,
	}
}

// Routes returns the handler routes
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{group}", h.List)
	r.Post("/{group}", h.Create)
	r.Put("/{group}/{id}", h.Update)
	r.Delete("/{group}/{id}", h.Delete)
	return r
}

func parseGroup(r *http.Request) (catalog.Group, bool) {
	g := catalog.Group(chi.URLParam(r, "group"))
	return g, g.Valid()
}

// List handles GET /catalog/{group}
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group, ok := parseGroup(r)
	if !ok {
		h.jsonError(w, "unknown catalog group", http.StatusBadRequest)
		return
	}

	items, err := h.cache.Get(ctx, middleware.GetTenantID(ctx), group)
	if err != nil {
		h.logger.Error("catalog list failed", zap.Error(err))
		h.jsonError(w, "failed to list catalog items", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []catalog.Item{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

// ItemRequest is the request body for creating or renaming a catalog item
type ItemRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// Create handles POST /catalog/{group}
func (h *CatalogHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group, ok := parseGroup(r)
	if !ok {
		h.jsonError(w, "unknown catalog group", http.StatusBadRequest)
		return
	}

	var req ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	tenantID := middleware.GetTenantID(ctx)
	item, err := h.store.CreateItem(ctx, catalog.NewItem{
		Name:     req.Name,
		Group:    group,
		ParentID: req.ParentID,
		TenantID: tenantID,
	})
	if err != nil {
		h.storeError(w, err)
		return
	}

	h.afterMutation(ctx, tenantID, group, "CatalogItemCreated", item)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// Update handles PUT /catalog/{group}/{id}
func (h *CatalogHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group, ok := parseGroup(r)
	if !ok {
		h.jsonError(w, "unknown catalog group", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid item id", http.StatusBadRequest)
		return
	}

	var req ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	tenantID := middleware.GetTenantID(ctx)
	item, err := h.store.UpdateItem(ctx, tenantID, id, req.Name)
	if err != nil {
		h.storeError(w, err)
		return
	}

	h.afterMutation(ctx, tenantID, group, "CatalogItemRenamed", item)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// Delete handles DELETE /catalog/{group}/{id}
func (h *CatalogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group, ok := parseGroup(r)
	if !ok {
		h.jsonError(w, "unknown catalog group", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid item id", http.StatusBadRequest)
		return
	}

	tenantID := middleware.GetTenantID(ctx)
	if err := h.store.DeleteItem(ctx, tenantID, id); err != nil {
		h.storeError(w, err)
		return
	}

	h.afterMutation(ctx, tenantID, group, "CatalogItemDeleted", catalog.Item{ID: id, Group: group})

	w.WriteHeader(http.StatusNoContent)
}

// afterMutation invalidates the snapshot cache and announces the change on
// the catalog topic. The event is best effort: a produce failure is logged
// and the mutation still stands.
func (h *CatalogHandler) afterMutation(ctx context.Context, tenantID string, group catalog.Group, eventType string, item catalog.Item) {
	h.cache.Invalidate(tenantID, group)

	if h.producer == nil {
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event_type": eventType,
		"tenant_id":  tenantID,
		"group":      group,
		"item":       item,
	})
	key := string(group) + ":" + strconv.FormatInt(item.ID, 10)
	if err := h.producer.ProduceMessage(ctx, kafka.TopicCatalogEvents, key, payload); err != nil {
		h.logger.Warn("failed to publish catalog event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (h *CatalogHandler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNameConflict):
		h.jsonError(w, "an item with this name already exists", http.StatusConflict)
	case errors.Is(err, catalog.ErrSystemItemImmutable):
		h.jsonError(w, "system catalog items cannot be modified", http.StatusForbidden)
	case errors.Is(err, catalog.ErrItemNotFound):
		h.jsonError(w, "catalog item not found", http.StatusNotFound)
	case errors.Is(err, catalog.ErrInvalidGroup):
		h.jsonError(w, "unknown catalog group", http.StatusBadRequest)
	default:
		h.logger.Error("catalog store error", zap.Error(err))
		h.jsonError(w, "catalog operation failed", http.StatusInternalServerError)
	}
}

func (h *CatalogHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
