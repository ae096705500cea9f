// Package catalog implements the tenant-layered reference catalog: named
// items (exams, medicines, surgical procedures, materials, diseases) that are
// either system-owned and shared across all clinics, or owned by a single
// clinic tenant.
package catalog

import (
	"errors"
	"time"
)

// Group is the classification axis under which catalog names are scoped.
// Groups form a closed set; there are no ad hoc string discriminators.
type Group string

const (
	GroupUnknown                   Group = ""
	GroupExam                      Group = "exam"
	GroupExamArea                  Group = "exam_area"
	GroupMedicine                  Group = "medicine"
	GroupSurgicalProcedure         Group = "surgical_procedure"
	GroupSurgicalProcedureCategory Group = "surgical_procedure_category"
	GroupMaterial                  Group = "material"
	GroupDisease                   Group = "disease"
)

// Groups lists every known group, in listing order.
func Groups() []Group {
	return []Group{
		GroupExam,
		GroupExamArea,
		GroupMedicine,
		GroupSurgicalProcedure,
		GroupSurgicalProcedureCategory,
		GroupMaterial,
		GroupDisease,
	}
}

// Valid reports whether g is a member of the closed group set.
func (g Group) Valid() bool {
	switch g {
	case GroupExam, GroupExamArea, GroupMedicine, GroupSurgicalProcedure,
		GroupSurgicalProcedureCategory, GroupMaterial, GroupDisease:
		return true
	}
	return false
}

// Item is a single catalog entry. TenantID == nil marks a system-scoped item:
// shared, read-only and non-deletable from this layer. Tenant-scoped items
// are fully owned by the creating clinic.
type Item struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Group     Group     `json:"group"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	TenantID  *string   `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemScoped reports whether the item belongs to the shared base catalog.
func (i Item) SystemScoped() bool { return i.TenantID == nil }

// NewItem carries the fields needed to register a catalog entry.
type NewItem struct {
	Name     string
	Group    Group
	ParentID *int64
	TenantID string
}

// GroupRef identifies the group (and optional parent area/category) under
// which unmatched names are registered during reconciliation. The zero value
// means no default group is known, in which case nothing is created.
type GroupRef struct {
	Group    Group
	ParentID *int64
}

// IsZero reports whether no default group is available.
func (r GroupRef) IsZero() bool { return r.Group == GroupUnknown }

var (
	// ErrNameConflict is returned when the store rejects a create because an
	// entry with the same name already exists in the group and scope.
	ErrNameConflict = errors.New("catalog name already exists in group")

	// ErrSystemItemImmutable is returned on attempts to edit or delete a
	// system-scoped item through the tenant layer.
	ErrSystemItemImmutable = errors.New("system catalog items cannot be modified")

	// ErrItemNotFound is returned when an item does not exist or belongs to
	// another tenant.
	ErrItemNotFound = errors.New("catalog item not found")

	// ErrInvalidGroup is returned for a group outside the closed set.
	ErrInvalidGroup = errors.New("invalid catalog group")
)
