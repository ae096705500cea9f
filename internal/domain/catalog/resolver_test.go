package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// memStore is an in-memory Store used by resolver tests. failOn simulates a
// store-side conflict for specific names.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	items  []Item
	failOn map[string]bool
}

func newMemStore(seed ...Item) *memStore {
	s := &memStore{failOn: make(map[string]bool)}
	for _, it := range seed {
		s.nextID++
		it.ID = s.nextID
		s.items = append(s.items, it)
	}
	return s
}

func (s *memStore) ListItems(ctx context.Context, tenantID string, group Group) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
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

func (s *memStore) CreateItem(ctx context.Context, item NewItem) (Item, error) {
	it, created, err := s.CreateOrGetItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	if !created {
		return Item{}, ErrNameConflict
	}
	return it, nil
}

func (s *memStore) CreateOrGetItem(ctx context.Context, item NewItem) (Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[item.Name] {
		return Item{}, false, errors.New("simulated store failure")
	}
	for _, it := range s.items {
		if it.Group == item.Group && it.Name == item.Name {
			return it, false, nil
		}
	}
	s.nextID++
	tenant := item.TenantID
	it := Item{
		ID:       s.nextID,
		UUID:     fmt.Sprintf("uuid-%d", s.nextID),
		Name:     item.Name,
		Group:    item.Group,
		ParentID: item.ParentID,
		TenantID: &tenant,
	}
	s.items = append(s.items, it)
	return it, true, nil
}

func (s *memStore) UpdateItem(ctx context.Context, tenantID string, id int64, name string) (Item, error) {
	return Item{}, errors.New("not used in tests")
}

func (s *memStore) DeleteItem(ctx context.Context, tenantID string, id int64) error {
	return errors.New("not used in tests")
}

func sysItem(name string, group Group) Item {
	return Item{Name: name, Group: group}
}

func TestReconcileRegistersUnknownNames(t *testing.T) {
	store := newMemStore()
	resolver := NewResolver(store, nil)

	area := int64(1)
	res := resolver.Reconcile(context.Background(), "clinic-1",
		[]string{"Amoxicilina 250mg"}, nil, GroupRef{Group: GroupMedicine, ParentID: &area})

	if len(res.Created) != 1 || res.Created[0].Name != "Amoxicilina 250mg" {
		t.Fatalf("expected one created entry, got %+v", res.Created)
	}
	if len(res.Unresolved) != 0 {
		t.Fatalf("expected no unresolved names, got %v", res.Unresolved)
	}
	if len(res.Resolved) != 0 {
		t.Fatalf("expected no resolved names, got %v", res.Resolved)
	}
	if _, ok := res.Lookup("Amoxicilina 250mg"); !ok {
		t.Error("created entry should be retrievable through Lookup")
	}
}

func TestReconcilePartitionsDistinctNames(t *testing.T) {
	store := newMemStore(sysItem("Hemograma", GroupExam))
	store.failOn["Urinálise"] = true
	resolver := NewResolver(store, nil)

	snapshot, _ := store.ListItems(context.Background(), "clinic-1", GroupExam)
	names := []string{"Hemograma", "Raio-X Torax", "Urinálise", "Hemograma", "  ", "Raio-X Torax"}

	res := resolver.Reconcile(context.Background(), "clinic-1", names, snapshot, GroupRef{Group: GroupExam})

	distinct := 3 // Hemograma, Raio-X Torax, Urinálise
	if got := len(res.Resolved) + len(res.Created) + len(res.Unresolved); got != distinct {
		t.Fatalf("partition size = %d, want %d", got, distinct)
	}
	if _, ok := res.Resolved["Hemograma"]; !ok {
		t.Error("Hemograma should resolve against the snapshot")
	}
	if len(res.Created) != 1 || res.Created[0].Name != "Raio-X Torax" {
		t.Errorf("expected Raio-X Torax created, got %+v", res.Created)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "Urinálise" {
		t.Errorf("expected Urinálise unresolved, got %v", res.Unresolved)
	}
	for name, it := range res.Resolved {
		if it.Name != name {
			t.Errorf("resolved entry %q maps to item named %q", name, it.Name)
		}
	}
}

func TestReconcileCaseSensitiveMatching(t *testing.T) {
	store := newMemStore(sysItem("Hemograma", GroupExam))
	resolver := NewResolver(store, nil)

	snapshot, _ := store.ListItems(context.Background(), "clinic-1", GroupExam)
	res := resolver.Reconcile(context.Background(), "clinic-1",
		[]string{"hemograma"}, snapshot, GroupRef{Group: GroupExam})

	if len(res.Resolved) != 0 {
		t.Fatal("differently cased name must not match an existing entry")
	}
	if len(res.Created) != 1 {
		t.Fatalf("differently cased name should be registered as new, got %+v", res)
	}
}

func TestReconcileWithoutDefaultGroup(t *testing.T) {
	store := newMemStore()
	resolver := NewResolver(store, nil)

	res := resolver.Reconcile(context.Background(), "clinic-1",
		[]string{"Ultrassom"}, nil, GroupRef{})

	if len(res.Created) != 0 {
		t.Fatal("no default group: nothing may be created")
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "Ultrassom" {
		t.Fatalf("expected Ultrassom unresolved, got %v", res.Unresolved)
	}
}

func TestReconcileCreateFailureDoesNotAbortBatch(t *testing.T) {
	store := newMemStore()
	store.failOn["Hemograma"] = true
	resolver := NewResolver(store, nil)

	res := resolver.Reconcile(context.Background(), "clinic-1",
		[]string{"Hemograma", "Raio-X Torax"}, nil, GroupRef{Group: GroupExam})

	if len(res.Unresolved) != 1 || res.Unresolved[0] != "Hemograma" {
		t.Fatalf("expected Hemograma unresolved, got %v", res.Unresolved)
	}
	if len(res.Created) != 1 || res.Created[0].Name != "Raio-X Torax" {
		t.Fatalf("remaining names must still be processed, got %+v", res.Created)
	}
}

func TestReconcileIdempotentWithFreshSnapshot(t *testing.T) {
	store := newMemStore()
	resolver := NewResolver(store, nil)
	names := []string{"Hemograma", "Raio-X Torax"}

	first := resolver.Reconcile(context.Background(), "clinic-1", names, nil, GroupRef{Group: GroupExam})
	if len(first.Created) != 2 {
		t.Fatalf("first pass should create both, got %+v", first)
	}

	snapshot, _ := store.ListItems(context.Background(), "clinic-1", GroupExam)
	second := resolver.Reconcile(context.Background(), "clinic-1", names, snapshot, GroupRef{Group: GroupExam})
	if len(second.Created) != 0 {
		t.Fatalf("second pass against a fresh snapshot must create nothing, got %+v", second.Created)
	}
	if len(second.Resolved) != 2 {
		t.Fatalf("second pass should resolve both, got %+v", second.Resolved)
	}
}

func TestConcurrentReconcileWithStaleSnapshots(t *testing.T) {
	store := newMemStore()
	resolver := NewResolver(store, nil)

	// Both sessions read an empty snapshot before either registers the name.
	var wg sync.WaitGroup
	results := make([]Resolution, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = resolver.Reconcile(context.Background(), "clinic-1",
				[]string{"Raio-X Torax"}, nil, GroupRef{Group: GroupExam})
		}(i)
	}
	wg.Wait()

	// With create-or-get semantics the race collapses: each session ends up
	// holding a reference to the name, and exactly one row exists.
	for i, res := range results {
		if _, ok := res.Lookup("Raio-X Torax"); !ok {
			t.Errorf("session %d lost the name entirely: %+v", i, res)
		}
	}
	items, _ := store.ListItems(context.Background(), "clinic-1", GroupExam)
	if len(items) != 1 {
		t.Errorf("expected a single catalog row, got %d", len(items))
	}
}

func TestFoldName(t *testing.T) {
	cases := map[string]string{
		"Hemograma":        "hemograma",
		"  Urinálise  ":    "urinalise",
		"RAIO-X   Torax":   "raio-x torax",
		"Ultrassonografia": "ultrassonografia",
	}
	for in, want := range cases {
		if got := foldName(in); got != want {
			t.Errorf("foldName(%q) = %q, want %q", in, got, want)
		}
	}
}
