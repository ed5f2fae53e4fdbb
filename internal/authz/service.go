package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-commerce/meridian/internal/shared"
)

// RepositoryPort defines the reads required for authorization.
type RepositoryPort interface {
	FindSession(ctx context.Context, token string) (*Session, error)
	FindUser(ctx context.Context, id int64) (*User, error)
	FindRole(ctx context.Context, id int64) (*Role, error)
}

// Service performs the token -> session -> user -> role authorization chain.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Require authorizes the bearer token for an action on a module. It is a
// pure read: no audit rows, no session touch. First matching rule wins:
// super-admin bypass, then wildcard-module grants, then exact-module grants.
func (s *Service) Require(ctx context.Context, token, moduleKey, action string) (Grant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Grant{}, ErrMissingToken
	}

	sess, err := s.repo.FindSession(ctx, token)
	if errors.Is(err, shared.ErrNotFound) {
		return Grant{}, ErrInvalidSession
	}
	if err != nil {
		return Grant{}, fmt.Errorf("authz: load session: %w", err)
	}
	if sess.Expired(s.now()) {
		return Grant{}, ErrInvalidSession
	}

	user, err := s.repo.FindUser(ctx, sess.UserID)
	if errors.Is(err, shared.ErrNotFound) {
		return Grant{}, ErrInvalidAccount
	}
	if err != nil {
		return Grant{}, fmt.Errorf("authz: load user: %w", err)
	}
	if user.Status != StatusActive {
		return Grant{}, ErrInvalidAccount
	}

	role, err := s.repo.FindRole(ctx, user.RoleID)
	if errors.Is(err, shared.ErrNotFound) {
		return Grant{}, ErrRoleNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("authz: load role: %w", err)
	}

	if role.IsSuperAdmin {
		return Grant{Role: *role, User: *user}, nil
	}
	if role.Allows(moduleKey, action) {
		return Grant{Role: *role, User: *user}, nil
	}
	return Grant{}, ErrPermissionDenied
}
