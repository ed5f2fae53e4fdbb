// Package authz resolves bearer tokens to admin users and checks role
// permissions for module-scoped actions.
package authz

import (
	"errors"
	"time"
)

// Wildcard grants every module or every action depending on position.
const Wildcard = "*"

// StatusActive is the only user status allowed to authorize.
const StatusActive = "Active"

// Operator-facing messages are kept verbatim from the original admin panel.
var (
	// ErrMissingToken indicates an empty or absent bearer token.
	ErrMissingToken = errors.New("Thiếu token xác thực")
	// ErrInvalidSession indicates an unknown or expired session token.
	ErrInvalidSession = errors.New("Session không hợp lệ")
	// ErrInvalidAccount indicates a missing or non-active user.
	ErrInvalidAccount = errors.New("Tài khoản không hợp lệ")
	// ErrRoleNotFound indicates the user's role reference is dangling.
	ErrRoleNotFound = errors.New("Role không tồn tại")
	// ErrPermissionDenied indicates no grant covers the requested action.
	ErrPermissionDenied = errors.New("Không có quyền thực hiện")
)

// Session is a bearer credential row.
type Session struct {
	Token     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its lifetime.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// User is an admin account.
type User struct {
	ID     int64
	Email  string
	Name   string
	Status string
	RoleID int64
}

// Role carries the permission map keyed by module key or "*". The action
// list may itself contain "*" meaning every action.
type Role struct {
	ID           int64
	Key          string
	Name         string
	IsSuperAdmin bool
	Permissions  map[string][]string
}

// Allows checks the module/action grant. Precedence: wildcard module first,
// then the exact module; within each, "*" or the exact action. Super-admin
// bypass is the caller's concern.
func (r Role) Allows(moduleKey, action string) bool {
	if containsAction(r.Permissions[Wildcard], action) {
		return true
	}
	return containsAction(r.Permissions[moduleKey], action)
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == Wildcard || a == action {
			return true
		}
	}
	return false
}

// Grant is the result of a successful authorization.
type Grant struct {
	Role Role
	User User
}
