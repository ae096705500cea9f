// Package request implements clinical request composition: prescriptions and
// exam requests assembled from a user draft plus a catalog reconciliation
// result, anchored to either an existing consultation or a standalone
// patient/date pair.
package request

import (
	"time"

	"github.com/nixvet/clinical-engine/internal/domain/catalog"
)

// Kind distinguishes the two clinical request flavors.
type Kind string

const (
	KindPrescription Kind = "PRESCRIPTION"
	KindExamRequest  Kind = "EXAM_REQUEST"
)

// Valid reports whether k is a known request kind.
func (k Kind) Valid() bool {
	return k == KindPrescription || k == KindExamRequest
}

// Anchor contextualizes a request: exactly one of ConsultationID or the
// PatientID/Date pair is set, never both and never neither.
type Anchor struct {
	ConsultationID string    `json:"consultation_id,omitempty"`
	PatientID      string    `json:"patient_id,omitempty"`
	Date           time.Time `json:"request_date,omitempty"`
}

// Consultation reports whether the anchor points at an existing consultation.
func (a Anchor) Consultation() bool { return a.ConsultationID != "" }

// MedicationAttributes are the structured per-line fields of a prescription
// item. Exam and procedure lines carry none of these.
type MedicationAttributes struct {
	Route          string `json:"route,omitempty"`
	Concentration  string `json:"concentration,omitempty"`
	Dosage         string `json:"dosage"`
	FrequencyValue string `json:"frequency_value,omitempty"`
	FrequencyUnit  string `json:"frequency_unit,omitempty"`
	DurationValue  string `json:"duration_value,omitempty"`
	DurationUnit   string `json:"duration_unit,omitempty"`
	UsageNotes     string `json:"usage_notes,omitempty"`
}

// RequestedItem is a composed line entry: a resolved catalog reference plus
// the kind-specific structured attributes. Items only exist inside the
// ClinicalRequest that contains them.
type RequestedItem struct {
	CatalogItemID int64                 `json:"catalog_item_id"`
	Name          string                `json:"name"`
	Medication    *MedicationAttributes `json:"medication,omitempty"`
}

// ClinicalRequest is the normalized output of composition, ready for
// persistence.
type ClinicalRequest struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Kind           Kind            `json:"kind"`
	Surgical       bool            `json:"surgical,omitempty"`
	Anchor         Anchor          `json:"anchor"`
	VeterinarianID string          `json:"veterinarian_id"`
	ClinicalNotes  string          `json:"clinical_notes,omitempty"`
	Items          []RequestedItem `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DraftItem is a raw user-entered line: a free-text name plus, for
// prescriptions, the structured medication fields.
type DraftItem struct {
	Name       string                `json:"name"`
	Medication *MedicationAttributes `json:"medication,omitempty"`
}

// Draft is the user-entered input of the composition flow, prior to catalog
// reconciliation and validation.
type Draft struct {
	Kind           Kind        `json:"kind"`
	Surgical       bool        `json:"surgical,omitempty"`
	ConsultationID string      `json:"consultation_id,omitempty"`
	PatientID      string      `json:"patient_id,omitempty"`
	RequestDate    string      `json:"request_date,omitempty"`
	ClinicalNotes  string      `json:"clinical_notes,omitempty"`
	Items          []DraftItem `json:"items"`
}

// ItemNames returns the free-text names of the draft lines, for catalog
// reconciliation.
func (d *Draft) ItemNames() []string {
	names := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		names = append(names, it.Name)
	}
	return names
}

// ItemGroup returns the catalog group the draft's lines belong to.
func (d *Draft) ItemGroup() catalog.Group {
	switch {
	case d.Kind == KindExamRequest:
		return catalog.GroupExam
	case d.Surgical:
		return catalog.GroupSurgicalProcedure
	default:
		return catalog.GroupMedicine
	}
}

// Decompose maps a composed request back to an equivalent draft. Composition
// is lossless over the anchor and the item references.
func Decompose(req *ClinicalRequest) Draft {
	d := Draft{
		Kind:           req.Kind,
		Surgical:       req.Surgical,
		ConsultationID: req.Anchor.ConsultationID,
		PatientID:      req.Anchor.PatientID,
		ClinicalNotes:  req.ClinicalNotes,
	}
	if !req.Anchor.Date.IsZero() {
		d.RequestDate = req.Anchor.Date.Format(dateLayout)
	}
	for _, it := range req.Items {
		d.Items = append(d.Items, DraftItem{Name: it.Name, Medication: it.Medication})
	}
	return d
}
