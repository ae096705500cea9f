package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nixvet/clinical-engine/internal/infrastructure/kafka"
	"github.com/nixvet/clinical-engine/internal/infrastructure/postgres"
)

// ErrNotFound is returned when a request does not exist for the tenant.
var ErrNotFound = errors.New("clinical request not found")

// Summary is a row of the request listing.
type Summary struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	ConsultationID *string   `json:"consultation_id,omitempty"`
	PatientID      *string   `json:"patient_id,omitempty"`
	VeterinarianID string    `json:"veterinarian_id"`
	ItemCount      int       `json:"item_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Repository persists composed clinical requests.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a request repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Submit persists the request with its line items and records a submission
// event in the outbox, all in one transaction. Catalog entries created during
// reconciliation are NOT part of this transaction: a failed submit leaves
// them in place, which is accepted (catalog growth is monotonic).
func (r *Repository) Submit(ctx context.Context, req *ClinicalRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var consultationID, patientID *string
	var requestDate *time.Time
	if req.Anchor.Consultation() {
		consultationID = &req.Anchor.ConsultationID
	} else {
		patientID = &req.Anchor.PatientID
		requestDate = &req.Anchor.Date
	}

	insertRequest := `
		INSERT INTO clinical_requests
		(id, tenant_id, kind, surgical, consultation_id, patient_id, request_date, veterinarian_id, clinical_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(ctx, insertRequest,
		req.ID, req.TenantID, req.Kind, req.Surgical,
		consultationID, patientID, requestDate,
		req.VeterinarianID, req.ClinicalNotes, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert clinical request: %w", err)
	}

	insertItem := `
		INSERT INTO clinical_request_items
		(request_id, position, catalog_item_id, name,
		 route, concentration, dosage, frequency_value, frequency_unit,
		 duration_value, duration_unit, usage_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for i, item := range req.Items {
		med := item.Medication
		if med == nil {
			med = &MedicationAttributes{}
		}
		_, err = tx.Exec(ctx, insertItem,
			req.ID, i, item.CatalogItemID, item.Name,
			med.Route, med.Concentration, med.Dosage,
			med.FrequencyValue, med.FrequencyUnit,
			med.DurationValue, med.DurationUnit, med.UsageNotes,
		)
		if err != nil {
			return fmt.Errorf("insert request item %d: %w", i, err)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal submission event: %w", err)
	}
	entry := &postgres.OutboxEntry{
		AggregateID:   req.ID,
		AggregateType: "ClinicalRequest",
		EventType:     "ClinicalRequestSubmitted",
		Payload:       payload,
		KafkaTopic:    kafka.TopicRequestEvents,
		KafkaKey:      req.ID,
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("clinical request submitted",
		zap.String("id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.Int("items", len(req.Items)),
	)
	return nil
}

// Get returns a request with its items.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*ClinicalRequest, error) {
	query := `
		SELECT id, tenant_id, kind, surgical, consultation_id, patient_id, request_date,
		       veterinarian_id, clinical_notes, created_at
		FROM clinical_requests
		WHERE id = $1 AND tenant_id = $2
	`

	var (
		req            ClinicalRequest
		consultationID *string
		patientID      *string
		requestDate    *time.Time
	)
	err := r.pool.QueryRow(ctx, query, id, tenantID).Scan(
		&req.ID, &req.TenantID, &req.Kind, &req.Surgical,
		&consultationID, &patientID, &requestDate,
		&req.VeterinarianID, &req.ClinicalNotes, &req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get clinical request: %w", err)
	}

	if consultationID != nil {
		req.Anchor.ConsultationID = *consultationID
	} else {
		if patientID != nil {
			req.Anchor.PatientID = *patientID
		}
		if requestDate != nil {
			req.Anchor.Date = *requestDate
		}
	}

	items, err := r.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Items = items
	return &req, nil
}

func (r *Repository) loadItems(ctx context.Context, requestID string) ([]RequestedItem, error) {
	query := `
		SELECT catalog_item_id, name,
		       route, concentration, dosage, frequency_value, frequency_unit,
		       duration_value, duration_unit, usage_notes
		FROM clinical_request_items
		WHERE request_id = $1
		ORDER BY position ASC
	`

	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list request items: %w", err)
	}
	defer rows.Close()

	var items []RequestedItem
	for rows.Next() {
		var it RequestedItem
		var med MedicationAttributes
		err := rows.Scan(
			&it.CatalogItemID, &it.Name,
			&med.Route, &med.Concentration, &med.Dosage,
			&med.FrequencyValue, &med.FrequencyUnit,
			&med.DurationValue, &med.DurationUnit, &med.UsageNotes,
		)
		if err != nil {
			return nil, fmt.Errorf("scan request item: %w", err)
		}
		if med != (MedicationAttributes{}) {
			it.Medication = &med
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// List returns the tenant's requests, newest first.
func (r *Repository) List(ctx context.Context, tenantID, patientID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT r.id, r.kind, r.consultation_id, r.patient_id, r.veterinarian_id,
		       (SELECT COUNT(*) FROM clinical_request_items i WHERE i.request_id = r.id),
		       r.created_at
		FROM clinical_requests r
		WHERE r.tenant_id = $1
		  AND ($2 = '' OR r.patient_id = $2)
		ORDER BY r.created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, tenantID, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list clinical requests: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		err := rows.Scan(&s.ID, &s.Kind, &s.ConsultationID, &s.PatientID,
			&s.VeterinarianID, &s.ItemCount, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan request summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
