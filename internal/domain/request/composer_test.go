package request

import (
	"strings"
	"testing"

	"github.com/nixvet/clinical-engine/internal/domain/catalog"
)

func medicationDraft() *Draft {
	return &Draft{
		Kind:        KindPrescription,
		PatientID:   "p1",
		RequestDate: "2024-03-01",
		Items: []DraftItem{
			{Name: "Amoxicilina 250mg", Medication: &MedicationAttributes{
				Route:          "oral",
				Dosage:         "1 comprimido",
				FrequencyValue: "8",
				FrequencyUnit:  "horas",
				DurationValue:  "7",
				DurationUnit:   "dias",
			}},
		},
	}
}

func resolutionFor(items ...catalog.Item) catalog.Resolution {
	res := catalog.Resolution{Resolved: make(map[string]catalog.Item)}
	for _, it := range items {
		res.Resolved[it.Name] = it
	}
	return res
}

var actor = ActorContext{TenantID: "clinic-1", VeterinarianID: "vet-9"}

func TestComposeStandaloneRequest(t *testing.T) {
	res := catalog.Resolution{
		Resolved: map[string]catalog.Item{},
		Created:  []catalog.Item{{ID: 7, Name: "Amoxicilina 250mg", Group: catalog.GroupMedicine}},
	}

	req, verr := Compose(medicationDraft(), res, actor)
	if verr != nil {
		t.Fatalf("compose failed: %v", verr)
	}

	if req.Anchor.Consultation() {
		t.Error("anchor should be standalone")
	}
	if req.Anchor.PatientID != "p1" || req.Anchor.Date.Format("2006-01-02") != "2024-03-01" {
		t.Errorf("unexpected anchor: %+v", req.Anchor)
	}
	if len(req.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(req.Items))
	}
	if req.Items[0].CatalogItemID != 7 {
		t.Errorf("item should reference the created catalog entry, got %d", req.Items[0].CatalogItemID)
	}
	if req.Items[0].Medication == nil || req.Items[0].Medication.Dosage != "1 comprimido" {
		t.Errorf("medication attributes lost: %+v", req.Items[0].Medication)
	}
	if req.VeterinarianID != "vet-9" || req.TenantID != "clinic-1" {
		t.Errorf("actor identity not carried: %+v", req)
	}
	if req.ID == "" {
		t.Error("expected generated request ID")
	}
}

func TestComposeRejectsAmbiguousAnchor(t *testing.T) {
	draft := medicationDraft()
	draft.ConsultationID = "c1"

	_, verr := Compose(draft, resolutionFor(), actor)
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if verr.Field != "consultation_id" || !strings.Contains(verr.Message, "ambiguous") {
		t.Errorf("unexpected error: %v", verr)
	}
}

func TestComposeRejectsMissingAnchor(t *testing.T) {
	draft := medicationDraft()
	draft.PatientID = ""
	draft.RequestDate = ""

	_, verr := Compose(draft, resolutionFor(), actor)
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if verr.Field != "consultation_id" || !strings.Contains(verr.Message, "missing anchor") {
		t.Errorf("unexpected error: %v", verr)
	}
}

func TestComposeRejectsDateOnlyAnchor(t *testing.T) {
	draft := medicationDraft()
	draft.PatientID = ""

	if _, verr := Compose(draft, resolutionFor(), actor); verr == nil {
		t.Fatal("date without patient is not a valid anchor")
	}
}

func TestComposeRequiresItems(t *testing.T) {
	cases := []struct {
		name  string
		draft *Draft
		want  string
	}{
		{"prescription", &Draft{Kind: KindPrescription, ConsultationID: "c1"}, "medication"},
		{"surgical", &Draft{Kind: KindPrescription, Surgical: true, ConsultationID: "c1"}, "surgical procedure"},
		{"exam", &Draft{Kind: KindExamRequest, ConsultationID: "c1"}, "exam"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, verr := Compose(tc.draft, resolutionFor(), actor)
			if verr == nil {
				t.Fatal("expected validation error")
			}
			if verr.Field != "items" || !strings.Contains(verr.Message, tc.want) {
				t.Errorf("unexpected error: %v", verr)
			}
		})
	}
}

func TestComposeFailsOnUnresolvedItem(t *testing.T) {
	draft := &Draft{
		Kind:           KindExamRequest,
		ConsultationID: "c1",
		Items: []DraftItem{
			{Name: "Raio-X Torax"},
			{Name: "Hemograma"},
		},
	}
	res := catalog.Resolution{
		Resolved:   map[string]catalog.Item{"Raio-X Torax": {ID: 3, Name: "Raio-X Torax", Group: catalog.GroupExam}},
		Unresolved: []string{"Hemograma"},
	}

	_, verr := Compose(draft, res, actor)
	if verr == nil {
		t.Fatal("expected composition to fail on the unresolved name")
	}
	if !strings.Contains(verr.Message, "Hemograma") {
		t.Errorf("error should cite the dangling name: %v", verr)
	}
}

func TestComposeRequiresVeterinarian(t *testing.T) {
	res := resolutionFor(catalog.Item{ID: 1, Name: "Amoxicilina 250mg", Group: catalog.GroupMedicine})

	_, verr := Compose(medicationDraft(), res, ActorContext{TenantID: "clinic-1"})
	if verr == nil || verr.Field != "veterinarian_id" {
		t.Errorf("expected veterinarian_id error, got %v", verr)
	}
}

func TestComposeDecomposeRoundTrip(t *testing.T) {
	draft := medicationDraft()
	res := resolutionFor(catalog.Item{ID: 7, Name: "Amoxicilina 250mg", Group: catalog.GroupMedicine})

	req, verr := Compose(draft, res, actor)
	if verr != nil {
		t.Fatalf("compose failed: %v", verr)
	}

	back := Decompose(req)
	if back.ConsultationID != draft.ConsultationID ||
		back.PatientID != draft.PatientID ||
		back.RequestDate != draft.RequestDate {
		t.Errorf("anchor not reproduced: %+v", back)
	}
	if len(back.Items) != len(draft.Items) {
		t.Fatalf("item count changed: %d != %d", len(back.Items), len(draft.Items))
	}
	for i := range back.Items {
		if back.Items[i].Name != strings.TrimSpace(draft.Items[i].Name) {
			t.Errorf("item %d name changed: %q", i, back.Items[i].Name)
		}
	}

	// Re-composing the decomposed draft yields the same anchor and refs.
	again, verr := Compose(&back, res, actor)
	if verr != nil {
		t.Fatalf("recompose failed: %v", verr)
	}
	if again.Anchor != req.Anchor {
		t.Errorf("anchor drifted: %+v != %+v", again.Anchor, req.Anchor)
	}
	for i := range again.Items {
		if again.Items[i].CatalogItemID != req.Items[i].CatalogItemID {
			t.Errorf("item %d reference drifted", i)
		}
	}
}
