package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is the catalog persistence boundary consumed by the resolver and the
// settings endpoints.
type Store interface {
	// ListItems returns the system items plus the tenant's own items for a
	// group, ordered by name.
	ListItems(ctx context.Context, tenantID string, group Group) ([]Item, error)
	// CreateItem registers a tenant-scoped entry. A uniqueness violation is
	// reported as ErrNameConflict.
	CreateItem(ctx context.Context, item NewItem) (Item, error)
	// CreateOrGetItem registers an entry if absent, or returns the existing
	// one. The boolean reports whether a row was created. This collapses the
	// concurrent-create race to a no-op.
	CreateOrGetItem(ctx context.Context, item NewItem) (Item, bool, error)
	// UpdateItem renames a tenant-owned entry. System items are rejected.
	UpdateItem(ctx context.Context, tenantID string, id int64, name string) (Item, error)
	// DeleteItem removes a tenant-owned entry. System items are rejected.
	DeleteItem(ctx context.Context, tenantID string, id int64) error
}

// PgStore implements Store on pgx.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStore creates a catalog store.
func NewPgStore(pool *pgxpool.Pool, logger *zap.Logger) *PgStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgStore{pool: pool, logger: logger}
}

var _ Store = (*PgStore)(nil)

const itemColumns = `id, uuid, name, item_group, parent_id, tenant_id, created_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.UUID, &it.Name, &it.Group, &it.ParentID, &it.TenantID, &it.CreatedAt)
	return it, err
}

// ListItems returns system and tenant entries for a group, ordered by name.
func (s *PgStore) ListItems(ctx context.Context, tenantID string, group Group) ([]Item, error) {
	if !group.Valid() {
		return nil, ErrInvalidGroup
	}

	query := `
		SELECT ` + itemColumns + `
		FROM catalog_items
		WHERE item_group = $1
		  AND (tenant_id IS NULL OR tenant_id = $2)
		ORDER BY name ASC
	`

	rows, err := s.pool.Query(ctx, query, group, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateItem registers a tenant-scoped entry.
func (s *PgStore) CreateItem(ctx context.Context, item NewItem) (Item, error) {
	if !item.Group.Valid() {
		return Item{}, ErrInvalidGroup
	}

	query := `
		INSERT INTO catalog_items (name, item_group, parent_id, tenant_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + itemColumns

	it, err := scanItem(s.pool.QueryRow(ctx, query, item.Name, item.Group, item.ParentID, item.TenantID))
	if err != nil {
		if isUniqueViolation(err) {
			return Item{}, ErrNameConflict
		}
		return Item{}, fmt.Errorf("create catalog item: %w", err)
	}
	return it, nil
}

// CreateOrGetItem inserts the entry if no equally named one exists in the
// group for the tenant layer, otherwise returns the existing row.
func (s *PgStore) CreateOrGetItem(ctx context.Context, item NewItem) (Item, bool, error) {
	if !item.Group.Valid() {
		return Item{}, false, ErrInvalidGroup
	}

	insert := `
		INSERT INTO catalog_items (name, item_group, parent_id, tenant_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_group, name, tenant_id) DO NOTHING
		RETURNING ` + itemColumns

	it, err := scanItem(s.pool.QueryRow(ctx, insert, item.Name, item.Group, item.ParentID, item.TenantID))
	if err == nil {
		return it, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Item{}, false, fmt.Errorf("create-or-get catalog item: %w", err)
	}

	// Conflict path: somebody (possibly a concurrent session, possibly the
	// base catalog) already holds the name.
	query := `
		SELECT ` + itemColumns + `
		FROM catalog_items
		WHERE item_group = $1 AND name = $2
		  AND (tenant_id IS NULL OR tenant_id = $3)
		ORDER BY tenant_id NULLS FIRST
		LIMIT 1
	`
	it, err = scanItem(s.pool.QueryRow(ctx, query, item.Group, item.Name, item.TenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, false, ErrNameConflict
		}
		return Item{}, false, fmt.Errorf("fetch existing catalog item: %w", err)
	}
	return it, false, nil
}

// UpdateItem renames a tenant-owned entry.
func (s *PgStore) UpdateItem(ctx context.Context, tenantID string, id int64, name string) (Item, error) {
	if err := s.requireTenantOwned(ctx, tenantID, id); err != nil {
		return Item{}, err
	}

	query := `
		UPDATE catalog_items
		SET name = $1
		WHERE id = $2 AND tenant_id = $3
		RETURNING ` + itemColumns

	it, err := scanItem(s.pool.QueryRow(ctx, query, name, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		if isUniqueViolation(err) {
			return Item{}, ErrNameConflict
		}
		return Item{}, fmt.Errorf("update catalog item: %w", err)
	}
	return it, nil
}

// DeleteItem removes a tenant-owned entry.
func (s *PgStore) DeleteItem(ctx context.Context, tenantID string, id int64) error {
	if err := s.requireTenantOwned(ctx, tenantID, id); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM catalog_items WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete catalog item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// requireTenantOwned rejects operations on system-scoped or foreign items.
func (s *PgStore) requireTenantOwned(ctx context.Context, tenantID string, id int64) error {
	var owner *string
	err := s.pool.QueryRow(ctx, `SELECT tenant_id FROM catalog_items WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("look up catalog item: %w", err)
	}
	if owner == nil {
		return ErrSystemItemImmutable
	}
	if *owner != tenantID {
		return ErrItemNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
