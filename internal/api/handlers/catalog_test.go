package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nixvet/clinical-engine/internal/api/middleware"
	"github.com/nixvet/clinical-engine/internal/domain/catalog"
)

type fakeStore struct {
	nextID int64
	items  map[int64]catalog.Item
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 100, items: make(map[int64]catalog.Item)}
}

func (s *fakeStore) seedSystem(name string, group catalog.Group) int64 {
	s.nextID++
	s.items[s.nextID] = catalog.Item{ID: s.nextID, Name: name, Group: group}
	return s.nextID
}

func (s *fakeStore) ListItems(ctx context.Context, tenantID string, group catalog.Group) ([]catalog.Item, error) {
	var out []catalog.Item
	for _, it := range s.items {
		if it.Group == group && (it.TenantID == nil || *it.TenantID == tenantID) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateItem(ctx context.Context, item catalog.NewItem) (catalog.Item, error) {
	for _, it := range s.items {
		if it.Group == item.Group && it.Name == item.Name {
			return catalog.Item{}, catalog.ErrNameConflict
		}
	}
	s.nextID++
	tenant := item.TenantID
	it := catalog.Item{ID: s.nextID, Name: item.Name, Group: item.Group, ParentID: item.ParentID, TenantID: &tenant, CreatedAt: time.Now()}
	s.items[s.nextID] = it
	return it, nil
}

func (s *fakeStore) CreateOrGetItem(ctx context.Context, item catalog.NewItem) (catalog.Item, bool, error) {
	for _, it := range s.items {
		if it.Group == item.Group && it.Name == item.Name {
			return it, false, nil
		}
	}
	it, err := s.CreateItem(ctx, item)
	return it, err == nil, err
}

func (s *fakeStore) UpdateItem(ctx context.Context, tenantID string, id int64, name string) (catalog.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	if it.TenantID == nil {
		return catalog.Item{}, catalog.ErrSystemItemImmutable
	}
	if *it.TenantID != tenantID {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	it.Name = name
	s.items[id] = it
	return it, nil
}

func (s *fakeStore) DeleteItem(ctx context.Context, tenantID string, id int64) error {
	it, ok := s.items[id]
	if !ok {
		return catalog.ErrItemNotFound
	}
	if it.TenantID == nil {
		return catalog.ErrSystemItemImmutable
	}
	if *it.TenantID != tenantID {
		return catalog.ErrItemNotFound
	}
	delete(s.items, id)
	return nil
}

func newCatalogServer(store catalog.Store) http.Handler {
	cache := catalog.NewSnapshotCache(store, time.Minute, nil)
	h := NewCatalogHandler(store, cache, nil, nil)
	return withTenant("clinic-a", h.Routes())
}

// withTenant stubs the auth middleware for tests.
func withTenant(tenantID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.TenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TestCatalogCreateAndList(t *testing.T) {
	store := newFakeStore()
	srv := httptest.NewServer(newCatalogServer(store))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/material", "application/json",
		strings.NewReader(`{"name":"Elizabethan collar"}`))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created catalog.Item
	json.NewDecoder(resp.Body).Decode(&created)
	if created.Name != "Elizabethan collar" || created.Group != catalog.GroupMaterial {
		t.Errorf("unexpected item: %+v", created)
	}

	listResp, err := http.Get(srv.URL + "/material")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer listResp.Body.Close()

	var items []catalog.Item
	json.NewDecoder(listResp.Body).Decode(&items)
	if len(items) != 1 {
		t.Errorf("listed %d items, want 1", len(items))
	}
}

func TestCatalogCreateConflict(t *testing.T) {
	store := newFakeStore()
	srv := httptest.NewServer(newCatalogServer(store))
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/disease", "application/json",
			strings.NewReader(`{"name":"Parvovirus"}`))
		if err != nil {
			t.Fatalf("post failed: %v", err)
		}
		resp.Body.Close()

		want := http.StatusCreated
		if i == 1 {
			want = http.StatusConflict
		}
		if resp.StatusCode != want {
			t.Errorf("attempt %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
}

func TestCatalogRejectsSystemItemDeletion(t *testing.T) {
	store := newFakeStore()
	id := store.seedSystem("Meloxicam 2mg", catalog.GroupMedicine)
	srv := httptest.NewServer(newCatalogServer(store))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete,
		srv.URL+"/medicine/"+strconv.FormatInt(id, 10), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestCatalogUnknownGroup(t *testing.T) {
	srv := httptest.NewServer(newCatalogServer(newFakeStore()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/unicorns")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
