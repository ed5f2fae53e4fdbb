// Package auth issues and revokes admin bearer sessions.
package auth

import "time"

// User represents an admin account during authentication.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Status       string
	RoleID       int64
}

// StatusActive mirrors the authorizer's account gate.
const StatusActive = "Active"

// Session is an issued bearer credential.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}
