package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/meridian/internal/shared"
)

type mockRepo struct {
	sessions map[string]*Session
	users    map[int64]*User
	roles    map[int64]*Role
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		sessions: make(map[string]*Session),
		users:    make(map[int64]*User),
		roles:    make(map[int64]*Role),
	}
}

func (m *mockRepo) FindSession(ctx context.Context, token string) (*Session, error) {
	if s, ok := m.sessions[token]; ok {
		return s, nil
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepo) FindUser(ctx context.Context, id int64) (*User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepo) FindRole(ctx context.Context, id int64) (*Role, error) {
	if r, ok := m.roles[id]; ok {
		return r, nil
	}
	return nil, shared.ErrNotFound
}

func newTestService(repo *mockRepo, now time.Time) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return now }
	return svc
}

func seedChain(repo *mockRepo, role *Role, expiresAt time.Time) {
	repo.roles[role.ID] = role
	repo.users[7] = &User{ID: 7, Email: "admin@shop.local", Status: StatusActive, RoleID: role.ID}
	repo.sessions["tok"] = &Session{Token: "tok", UserID: 7, ExpiresAt: expiresAt}
}

func TestRequireMissingToken(t *testing.T) {
	svc := newTestService(newMockRepo(), time.Now())

	_, err := svc.Require(context.Background(), "", "orders", "view")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = svc.Require(context.Background(), "   ", "orders", "view")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestRequireUnknownToken(t *testing.T) {
	svc := newTestService(newMockRepo(), time.Now())
	_, err := svc.Require(context.Background(), "nope", "orders", "view")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRequireExpiredSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, IsSuperAdmin: true}, now.Add(-time.Second))
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "view")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRequireSessionExpiringExactlyNow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, IsSuperAdmin: true}, now)
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "view")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRequireInactiveUser(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, IsSuperAdmin: true}, now.Add(time.Hour))
	repo.users[7].Status = "Suspended"
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "view")
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestRequireMissingUser(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	repo.sessions["tok"] = &Session{Token: "tok", UserID: 404, ExpiresAt: now.Add(time.Hour)}
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "view")
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestRequireDanglingRole(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	repo.users[7] = &User{ID: 7, Status: StatusActive, RoleID: 404}
	repo.sessions["tok"] = &Session{Token: "tok", UserID: 7, ExpiresAt: now.Add(time.Hour)}
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "view")
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

// flakyRepo fails selected lookups with a backend error instead of a miss.
type flakyRepo struct {
	*mockRepo
	sessionErr error
	userErr    error
	roleErr    error
}

func (f *flakyRepo) FindSession(ctx context.Context, token string) (*Session, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.mockRepo.FindSession(ctx, token)
}

func (f *flakyRepo) FindUser(ctx context.Context, id int64) (*User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.mockRepo.FindUser(ctx, id)
}

func (f *flakyRepo) FindRole(ctx context.Context, id int64) (*Role, error) {
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	return f.mockRepo.FindRole(ctx, id)
}

func TestRequireBackendFailureIsNotAuthFailure(t *testing.T) {
	now := time.Now()
	errDB := errors.New("connection refused")

	cases := []struct {
		name  string
		setup func(*flakyRepo)
	}{
		{"session lookup", func(f *flakyRepo) { f.sessionErr = errDB }},
		{"user lookup", func(f *flakyRepo) { f.userErr = errDB }},
		{"role lookup", func(f *flakyRepo) { f.roleErr = errDB }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMockRepo()
			seedChain(repo, &Role{ID: 1, IsSuperAdmin: true}, now.Add(time.Hour))
			flaky := &flakyRepo{mockRepo: repo}
			tc.setup(flaky)
			svc := NewService(flaky)
			svc.now = func() time.Time { return now }

			_, err := svc.Require(context.Background(), "tok", "orders", "view")
			assert.ErrorIs(t, err, errDB)
			assert.NotErrorIs(t, err, ErrInvalidSession)
			assert.NotErrorIs(t, err, ErrInvalidAccount)
			assert.NotErrorIs(t, err, ErrRoleNotFound)
		})
	}
}

func TestRequireSuperAdminBypassesPermissions(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, IsSuperAdmin: true, Permissions: map[string][]string{}}, now.Add(time.Hour))
	svc := newTestService(repo, now)

	grant, err := svc.Require(context.Background(), "tok", "anything", "delete")
	require.NoError(t, err)
	assert.True(t, grant.Role.IsSuperAdmin)
	assert.Equal(t, int64(7), grant.User.ID)
}

func TestRequireWildcardModuleWildcardAction(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, Permissions: map[string][]string{"*": {"*"}}}, now.Add(time.Hour))
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "promotions", "edit")
	assert.NoError(t, err)
}

func TestRequireWildcardModuleExactAction(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, Permissions: map[string][]string{"*": {"view"}}}, now.Add(time.Hour))
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "view")
	assert.NoError(t, err)

	_, err = svc.Require(context.Background(), "tok", "orders", "edit")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRequireExactModulePermissions(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, Permissions: map[string][]string{"orders": {"view", "edit"}}}, now.Add(time.Hour))
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "edit")
	assert.NoError(t, err)

	_, err = svc.Require(context.Background(), "tok", "orders", "delete")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = svc.Require(context.Background(), "tok", "products", "view")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRequireModuleWildcardAction(t *testing.T) {
	now := time.Now()
	repo := newMockRepo()
	seedChain(repo, &Role{ID: 1, Permissions: map[string][]string{"orders": {"*"}}}, now.Add(time.Hour))
	svc := newTestService(repo, now)

	_, err := svc.Require(context.Background(), "tok", "orders", "purge")
	assert.NoError(t, err)

	_, err = svc.Require(context.Background(), "tok", "wishlist", "view")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
