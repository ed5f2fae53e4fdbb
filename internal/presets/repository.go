package presets

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-commerce/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for presets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const presetColumns = `id, key, name, description, enabled_modules, is_default, created_at, updated_at`

// List returns every preset ordered by key.
func (r *Repository) List(ctx context.Context) ([]Preset, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+presetColumns+` FROM system_presets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByKey fetches one preset by its key.
func (r *Repository) GetByKey(ctx context.Context, key string) (Preset, error) {
	p, err := scanPreset(r.pool.QueryRow(ctx, `SELECT `+presetColumns+` FROM system_presets WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Preset{}, ErrNotFound
	}
	return p, err
}

// GetByID fetches one preset by its ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (Preset, error) {
	p, err := scanPreset(r.pool.QueryRow(ctx, `SELECT `+presetColumns+` FROM system_presets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Preset{}, ErrNotFound
	}
	return p, err
}

// Insert creates a preset. With clearDefaults set, every other preset loses
// its default flag inside the same transaction, preserving the at-most-one
// default invariant under concurrent writers.
func (r *Repository) Insert(ctx context.Context, p Preset, clearDefaults bool) (int64, error) {
	modulesJSON, err := json.Marshal(p.EnabledModules)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if clearDefaults {
			if err := clearDefaultsTx(ctx, tx, 0); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `
			INSERT INTO system_presets (key, name, description, enabled_modules, is_default, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			RETURNING id`,
			p.Key, p.Name, p.Description, modulesJSON, p.IsDefault).Scan(&id)
	})
	if isUniqueViolation(err) {
		return 0, ErrKeyExists
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Patch rewrites a preset inside a single transaction. The row is locked and
// re-read before apply runs, so the patch always works on the committed state
// and a concurrent promotion cannot be reverted by a stale write. When apply
// reports clearDefaults, every other preset loses its flag in the same
// transaction.
func (r *Repository) Patch(ctx context.Context, id int64, apply func(p *Preset) (clearDefaults bool, err error)) (Preset, error) {
	var out Preset
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := scanPreset(tx.QueryRow(ctx, `SELECT `+presetColumns+` FROM system_presets WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		clear, err := apply(&p)
		if err != nil {
			return err
		}
		if clear {
			if err := clearDefaultsTx(ctx, tx, p.ID); err != nil {
				return err
			}
		}
		modulesJSON, err := json.Marshal(p.EnabledModules)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE system_presets
			SET name = $2, description = $3, enabled_modules = $4, is_default = $5, updated_at = NOW()
			WHERE id = $1`,
			p.ID, p.Name, p.Description, modulesJSON, p.IsDefault)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if isUniqueViolation(err) {
		return Preset{}, ErrKeyExists
	}
	if err != nil {
		return Preset{}, err
	}
	return out, nil
}

// Delete removes a preset by ID. The default flag is checked in the DELETE
// itself, so a preset promoted by a concurrent writer stays undeletable.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM system_presets WHERE id = $1 AND NOT is_default`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM system_presets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrDefaultUndeletable
		}
		return ErrNotFound
	}
	return nil
}

// clearDefaultsTx is the single routine every default-setting write path
// shares (create, update, promote).
func clearDefaultsTx(ctx context.Context, tx pgx.Tx, exceptID int64) error {
	_, err := tx.Exec(ctx, `UPDATE system_presets SET is_default = FALSE, updated_at = NOW() WHERE is_default AND id <> $1`, exceptID)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPreset(row pgx.Row) (Preset, error) {
	var (
		p           Preset
		modulesJSON []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &modulesJSON, &p.IsDefault, &createdAt, &updatedAt); err != nil {
		return Preset{}, err
	}
	if len(modulesJSON) > 0 {
		if err := json.Unmarshal(modulesJSON, &p.EnabledModules); err != nil {
			return Preset{}, err
		}
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return p, nil
}
