package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nixvet/clinical-engine/internal/domain/catalog"
)

const dateLayout = "2006-01-02"

// ActorContext carries the acting identity into composition. It is supplied
// explicitly by the calling boundary; the composer never reads ambient state.
type ActorContext struct {
	TenantID       string
	VeterinarianID string
}

// ValidationError describes which rule failed and which field triggered it.
// Validation errors are synchronous and recoverable by correcting the draft.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateDraft runs the pre-network checks: anchor shape and item presence.
// The caller runs this before touching the catalog so a bad draft never
// triggers I/O.
func ValidateDraft(d *Draft) *ValidationError {
	if !d.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: "unknown request kind"}
	}

	hasConsultation := d.ConsultationID != ""
	hasStandalone := d.PatientID != "" && d.RequestDate != ""
	switch {
	case hasConsultation && hasStandalone:
		return &ValidationError{Field: "consultation_id", Message: "ambiguous anchor: both consultation and patient/date set"}
	case !hasConsultation && !hasStandalone:
		return &ValidationError{Field: "consultation_id", Message: "missing anchor: select a consultation or provide patient and date"}
	}

	if hasStandalone {
		if _, err := time.Parse(dateLayout, d.RequestDate); err != nil {
			return &ValidationError{Field: "request_date", Message: "invalid date, expected YYYY-MM-DD"}
		}
	}

	var withName int
	for _, it := range d.Items {
		if strings.TrimSpace(it.Name) != "" {
			withName++
		}
	}
	if withName == 0 {
		switch {
		case d.Kind == KindExamRequest:
			return &ValidationError{Field: "items", Message: "at least one exam is required"}
		case d.Surgical:
			return &ValidationError{Field: "items", Message: "at least one surgical procedure is required"}
		default:
			return &ValidationError{Field: "items", Message: "at least one medication is required"}
		}
	}

	return nil
}

// Compose validates the draft against the reconciliation result and emits the
// normalized clinical request. It is a pure transformation with no I/O.
// The first failing rule wins, checked in order: anchor shape, item presence,
// then full item resolution. Any unresolved name fails the whole composition;
// there is no partial submission.
func Compose(draft *Draft, res catalog.Resolution, actor ActorContext) (*ClinicalRequest, *ValidationError) {
	if verr := ValidateDraft(draft); verr != nil {
		return nil, verr
	}

	unresolved := make(map[string]bool, len(res.Unresolved))
	for _, name := range res.Unresolved {
		unresolved[name] = true
	}

	items := make([]RequestedItem, 0, len(draft.Items))
	for _, di := range draft.Items {
		name := strings.TrimSpace(di.Name)
		if name == "" {
			continue
		}
		if unresolved[name] {
			return nil, &ValidationError{Field: "items", Message: fmt.Sprintf("unresolved item %q: not in catalog and could not be registered", name)}
		}
		ref, ok := res.Lookup(name)
		if !ok {
			return nil, &ValidationError{Field: "items", Message: fmt.Sprintf("unresolved item %q: missing from reconciliation", name)}
		}
		items = append(items, RequestedItem{
			CatalogItemID: ref.ID,
			Name:          name,
			Medication:    di.Medication,
		})
	}

	if actor.VeterinarianID == "" {
		return nil, &ValidationError{Field: "veterinarian_id", Message: "acting veterinarian is required"}
	}

	anchor := Anchor{ConsultationID: draft.ConsultationID}
	if draft.ConsultationID == "" {
		date, _ := time.Parse(dateLayout, draft.RequestDate)
		anchor = Anchor{PatientID: draft.PatientID, Date: date}
	}

	return &ClinicalRequest{
		ID:             uuid.New().String(),
		TenantID:       actor.TenantID,
		Kind:           draft.Kind,
		Surgical:       draft.Surgical,
		Anchor:         anchor,
		VeterinarianID: actor.VeterinarianID,
		ClinicalNotes:  draft.ClinicalNotes,
		Items:          items,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
