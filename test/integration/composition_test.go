// Package integration provides integration tests for the clinical engine.
package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/nixvet/clinical-engine/internal/domain/catalog"
	"github.com/nixvet/clinical-engine/internal/domain/request"
)

// memStore is an in-memory catalog.Store with the same uniqueness semantics
// as the Postgres implementation.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	items  []catalog.Item
}

func newMemStore(seed ...catalog.Item) *memStore {
	s := &memStore{nextID: 1000}
	s.items = append(s.items, seed...)
	return s
}

func (s *memStore) ListItems(ctx context.Context, tenantID string, group catalog.Group) ([]catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Item
	for _, it := range s.items {
		if it.Group != group {
			continue
		}
		if it.TenantID == nil || *it.TenantID == tenantID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memStore) CreateItem(ctx context.Context, item catalog.NewItem) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Group == item.Group && it.Name == item.Name {
			return catalog.Item{}, catalog.ErrNameConflict
		}
	}
	return s.insert(item), nil
}

func (s *memStore) CreateOrGetItem(ctx context.Context, item catalog.NewItem) (catalog.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Group == item.Group && it.Name == item.Name {
			return it, false, nil
		}
	}
	return s.insert(item), true, nil
}

func (s *memStore) insert(item catalog.NewItem) catalog.Item {
	s.nextID++
	tenant := item.TenantID
	it := catalog.Item{
		ID:       s.nextID,
		UUID:     fmt.Sprintf("uuid-%d", s.nextID),
		Name:     item.Name,
		Group:    item.Group,
		ParentID: item.ParentID,
		TenantID: &tenant,
	}
	s.items = append(s.items, it)
	return it
}

func (s *memStore) UpdateItem(ctx context.Context, tenantID string, id int64, name string) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.ID != id {
			continue
		}
		if it.TenantID == nil {
			return catalog.Item{}, catalog.ErrSystemItemImmutable
		}
		if *it.TenantID != tenantID {
			return catalog.Item{}, catalog.ErrItemNotFound
		}
		s.items[i].Name = name
		return s.items[i], nil
	}
	return catalog.Item{}, catalog.ErrItemNotFound
}

func (s *memStore) DeleteItem(ctx context.Context, tenantID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.ID != id {
			continue
		}
		if it.TenantID == nil {
			return catalog.ErrSystemItemImmutable
		}
		if *it.TenantID != tenantID {
			return catalog.ErrItemNotFound
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		return nil
	}
	return catalog.ErrItemNotFound
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func sysItem(id int64, name string, group catalog.Group) catalog.Item {
	return catalog.Item{ID: id, UUID: fmt.Sprintf("uuid-%d", id), Name: name, Group: group}
}

// TestPrescriptionFlow walks the full composition path: snapshot, reconcile,
// compose. One name matches the base catalog, one is registered on the fly.
func TestPrescriptionFlow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(sysItem(1, "Meloxicam 2mg", catalog.GroupMedicine))
	resolver := catalog.NewResolver(store, nil)

	draft := &request.Draft{
		Kind:        request.KindPrescription,
		PatientID:   "patient-7",
		RequestDate: "2026-04-02",
		Items: []request.DraftItem{
			{Name: "Meloxicam 2mg", Medication: &request.MedicationAttributes{Dosage: "half tablet", FrequencyValue: "1", FrequencyUnit: "day"}},
			{Name: "Gabapentina 100mg", Medication: &request.MedicationAttributes{Dosage: "1 capsule"}},
		},
	}
	if verr := request.ValidateDraft(draft); verr != nil {
		t.Fatalf("draft should be valid: %v", verr)
	}

	snapshot, err := store.ListItems(ctx, "clinic-a", draft.ItemGroup())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	res := resolver.Reconcile(ctx, "clinic-a", draft.ItemNames(), snapshot, catalog.GroupRef{Group: draft.ItemGroup()})

	if len(res.Resolved) != 1 || len(res.Created) != 1 || len(res.Unresolved) != 0 {
		t.Fatalf("partition = %d/%d/%d, want 1/1/0", len(res.Resolved), len(res.Created), len(res.Unresolved))
	}
	if res.Created[0].Name != "Gabapentina 100mg" {
		t.Errorf("created %q, want Gabapentina 100mg", res.Created[0].Name)
	}

	composed, verr := request.Compose(draft, res, request.ActorContext{TenantID: "clinic-a", VeterinarianID: "vet-3"})
	if verr != nil {
		t.Fatalf("compose failed: %v", verr)
	}

	if composed.Anchor.Consultation() {
		t.Error("standalone draft must not produce a consultation anchor")
	}
	if len(composed.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(composed.Items))
	}
	for _, it := range composed.Items {
		if it.CatalogItemID == 0 {
			t.Errorf("item %q has no catalog reference", it.Name)
		}
	}
}

// TestExamRequestFlowWithConsultationAnchor composes an exam request anchored
// to an existing consultation, with every exam created under the default area.
func TestExamRequestFlowWithConsultationAnchor(t *testing.T) {
	ctx := context.Background()
	areaID := int64(50)
	store := newMemStore(sysItem(areaID, "Imaging", catalog.GroupExamArea))
	resolver := catalog.NewResolver(store, nil)

	draft := &request.Draft{
		Kind:           request.KindExamRequest,
		ConsultationID: "cons-42",
		Items: []request.DraftItem{
			{Name: "Abdominal ultrasound"},
			{Name: "Thoracic radiograph"},
		},
	}

	snapshot, _ := store.ListItems(ctx, "clinic-a", draft.ItemGroup())
	res := resolver.Reconcile(ctx, "clinic-a", draft.ItemNames(), snapshot,
		catalog.GroupRef{Group: catalog.GroupExam, ParentID: &areaID})

	if len(res.Created) != 2 {
		t.Fatalf("created = %d, want 2", len(res.Created))
	}
	for _, it := range res.Created {
		if it.ParentID == nil || *it.ParentID != areaID {
			t.Errorf("exam %q not attached to area %d", it.Name, areaID)
		}
	}

	composed, verr := request.Compose(draft, res, request.ActorContext{TenantID: "clinic-a", VeterinarianID: "vet-3"})
	if verr != nil {
		t.Fatalf("compose failed: %v", verr)
	}
	if !composed.Anchor.Consultation() || composed.Anchor.ConsultationID != "cons-42" {
		t.Errorf("anchor = %+v, want consultation cons-42", composed.Anchor)
	}
}

// TestCatalogSurvivesRejectedComposition verifies that entries registered
// during reconciliation stay in the catalog even when composition fails.
func TestCatalogSurvivesRejectedComposition(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	resolver := catalog.NewResolver(store, nil)

	draft := &request.Draft{
		Kind:        request.KindPrescription,
		PatientID:   "patient-7",
		RequestDate: "2026-04-02",
		Items:       []request.DraftItem{{Name: "Tramadol 50mg"}},
	}

	res := resolver.Reconcile(ctx, "clinic-a", draft.ItemNames(), nil, catalog.GroupRef{Group: catalog.GroupMedicine})
	if len(res.Created) != 1 {
		t.Fatalf("created = %d, want 1", len(res.Created))
	}
	before := store.count()

	// Missing veterinarian rejects the composition after the create happened.
	_, verr := request.Compose(draft, res, request.ActorContext{TenantID: "clinic-a"})
	if verr == nil {
		t.Fatal("expected a validation error without a veterinarian")
	}

	if store.count() != before {
		t.Errorf("catalog size changed from %d to %d after rejection", before, store.count())
	}

	// A later attempt finds the entry already registered.
	snapshot, _ := store.ListItems(ctx, "clinic-a", catalog.GroupMedicine)
	res2 := resolver.Reconcile(ctx, "clinic-a", draft.ItemNames(), snapshot, catalog.GroupRef{Group: catalog.GroupMedicine})
	if len(res2.Resolved) != 1 || len(res2.Created) != 0 {
		t.Errorf("retry partition = %d/%d, want 1/0", len(res2.Resolved), len(res2.Created))
	}
}

// TestTenantCatalogIsolation checks that a tenant-scoped entry is invisible
// to other tenants while system entries are shared.
func TestTenantCatalogIsolation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(sysItem(1, "Meloxicam 2mg", catalog.GroupMedicine))
	resolver := catalog.NewResolver(store, nil)

	resolver.Reconcile(ctx, "clinic-a", []string{"Clinic A Special"}, nil, catalog.GroupRef{Group: catalog.GroupMedicine})

	itemsA, _ := store.ListItems(ctx, "clinic-a", catalog.GroupMedicine)
	itemsB, _ := store.ListItems(ctx, "clinic-b", catalog.GroupMedicine)

	if len(itemsA) != 2 {
		t.Errorf("clinic-a sees %d items, want 2", len(itemsA))
	}
	if len(itemsB) != 1 {
		t.Errorf("clinic-b sees %d items, want 1 (system only)", len(itemsB))
	}
}

// TestSystemItemProtection verifies the base catalog cannot be edited or
// deleted through the tenant settings layer.
func TestSystemItemProtection(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(sysItem(1, "Meloxicam 2mg", catalog.GroupMedicine))

	if _, err := store.UpdateItem(ctx, "clinic-a", 1, "Renamed"); err != catalog.ErrSystemItemImmutable {
		t.Errorf("update error = %v, want ErrSystemItemImmutable", err)
	}
	if err := store.DeleteItem(ctx, "clinic-a", 1); err != catalog.ErrSystemItemImmutable {
		t.Errorf("delete error = %v, want ErrSystemItemImmutable", err)
	}
}
