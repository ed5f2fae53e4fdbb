package modules

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the module catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const moduleColumns = `id, key, name, category, enabled, is_core, dependencies, dependency_type, display_order, updated_by, updated_at`

// List returns the whole catalog in display order.
func (r *Repository) List(ctx context.Context) ([]Module, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+moduleColumns+` FROM admin_modules ORDER BY display_order, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mods []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mods, nil
}

// GetByKey fetches one module.
func (r *Repository) GetByKey(ctx context.Context, key string) (Module, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+moduleColumns+` FROM admin_modules WHERE key = $1`, key)
	m, err := scanModule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Module{}, ErrNotFound
	}
	if err != nil {
		return Module{}, err
	}
	return m, nil
}

// Upsert creates or updates a catalog entry by key.
func (r *Repository) Upsert(ctx context.Context, m Module) error {
	depsJSON, err := json.Marshal(m.Dependencies)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO admin_modules (key, name, category, enabled, is_core, dependencies, dependency_type, display_order, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			enabled = EXCLUDED.enabled,
			is_core = EXCLUDED.is_core,
			dependencies = EXCLUDED.dependencies,
			dependency_type = EXCLUDED.dependency_type,
			display_order = EXCLUDED.display_order,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`,
		m.Key, m.Name, m.Category, m.Enabled, m.IsCore, depsJSON, string(m.DependencyType), m.Order, m.UpdatedBy)
	return err
}

// SetEnabled flips the enabled flag for one module.
func (r *Repository) SetEnabled(ctx context.Context, key string, enabled bool, updatedBy string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE admin_modules SET enabled = $2, updated_by = $3, updated_at = NOW() WHERE key = $1`,
		key, enabled, updatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnabledKeys returns the keys of enabled modules using the
// (enabled, display_order) index rather than a full catalog scan.
func (r *Repository) EnabledKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key FROM admin_modules WHERE enabled ORDER BY display_order, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func scanModule(row pgx.Row) (Module, error) {
	var (
		m         Module
		depsJSON  []byte
		depType   string
		updatedBy *string
		updatedAt *time.Time
	)
	if err := row.Scan(&m.ID, &m.Key, &m.Name, &m.Category, &m.Enabled, &m.IsCore, &depsJSON, &depType, &m.Order, &updatedBy, &updatedAt); err != nil {
		return Module{}, err
	}
	if len(depsJSON) > 0 {
		if err := json.Unmarshal(depsJSON, &m.Dependencies); err != nil {
			return Module{}, err
		}
	}
	m.DependencyType = DependencyType(depType)
	if updatedBy != nil {
		m.UpdatedBy = *updatedBy
	}
	if updatedAt != nil {
		m.UpdatedAt = *updatedAt
	}
	return m, nil
}
