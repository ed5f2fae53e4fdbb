package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-commerce/meridian/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
	ttl  time.Duration
}

// NewService constructs a new Service. ttl bounds issued sessions.
func NewService(repo Repository, ttl time.Duration) *Service {
	return &Service{repo: repo, ttl: ttl}
}

// Authenticate validates email/password credentials. Invalid email,
// password, and inactive accounts all collapse to the same error so the
// response does not leak which one failed.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// IssueSession creates and persists an opaque bearer token for the user.
func (s *Service) IssueSession(ctx context.Context, userID int64, ip, ua string) (Session, error) {
	sess := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.repo.CreateSession(ctx, sess.Token, sess.UserID, sess.ExpiresAt, ip, ua); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// RemoveSession revokes a bearer token.
func (s *Service) RemoveSession(ctx context.Context, token string) error {
	return s.repo.DeleteSession(ctx, token)
}
