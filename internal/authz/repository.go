package authz

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-commerce/meridian/internal/shared"
)

// Repository provides PostgreSQL backed reads for authorization.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindSession loads a session by bearer token.
func (r *Repository) FindSession(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := r.pool.QueryRow(ctx,
		`SELECT token, user_id, created_at, expires_at FROM admin_sessions WHERE token = $1`, token).
		Scan(&sess.Token, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// FindUser loads an admin user by ID.
func (r *Repository) FindUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, status, role_id FROM admin_users WHERE id = $1`, id).
		Scan(&user.ID, &user.Email, &user.Name, &user.Status, &user.RoleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindRole loads a role with its permission map.
func (r *Repository) FindRole(ctx context.Context, id int64) (*Role, error) {
	var role Role
	var permsJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, key, name, is_super_admin, permissions FROM admin_roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Key, &role.Name, &role.IsSuperAdmin, &permsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
			return nil, err
		}
	}
	if role.Permissions == nil {
		role.Permissions = map[string][]string{}
	}
	return &role, nil
}

// DeleteExpiredSessions removes sessions past their lifetime. The authorizer
// itself treats expired sessions as absent; this keeps the table bounded.
func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
