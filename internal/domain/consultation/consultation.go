// Package consultation provides read access to consultation summaries, used
// to pick the anchor of a clinical request.
package consultation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Summary is the listing row shown while selecting an anchor.
type Summary struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	VeterinarianID string    `json:"veterinarian_id"`
	Date           time.Time `json:"consultation_date"`
}

// Repository lists consultations. This layer never writes them.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a consultation repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// ListByPatient returns the patient's consultations, newest first.
func (r *Repository) ListByPatient(ctx context.Context, tenantID, patientID string) ([]Summary, error) {
	query := `
		SELECT id, patient_id, veterinarian_id, consultation_date
		FROM consultations
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY consultation_date DESC
	`

	rows, err := r.pool.Query(ctx, query, tenantID, patientID)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.PatientID, &s.VeterinarianID, &s.Date); err != nil {
			return nil, fmt.Errorf("scan consultation: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Exists reports whether a consultation belongs to the tenant.
func (r *Repository) Exists(ctx context.Context, tenantID, id string) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consultations WHERE tenant_id = $1 AND id = $2)`,
		tenantID, id).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check consultation: %w", err)
	}
	return found, nil
}
