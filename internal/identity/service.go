package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/barangay-portal/portal/internal/shared"
)

// MinPasswordLength is enforced on password reset.
const MinPasswordLength = 8

// Repository defines persistence operations for the identity module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	RevokeSessions(ctx context.Context, id uuid.UUID) error
	HasVerifiedFactor(ctx context.Context, id uuid.UUID) (bool, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	secret []byte
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a new Service signing tokens with secret.
func NewService(repo Repository, secret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		secret: []byte(secret),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !account.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

// SignIn authenticates the credentials and issues an aal1 access token.
func (s *Service) SignIn(ctx context.Context, email, password string, ttl time.Duration) (string, error) {
	account, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return "", err
	}
	return s.IssueToken(Principal{
		ID:        account.ID,
		Email:     account.Email,
		Assurance: Assurance{Current: LevelAAL1},
	}, ttl)
}

// ResetPassword stores a new password hash and clears the must-reset lock.
func (s *Service) ResetPassword(ctx context.Context, id uuid.UUID, password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", shared.ErrValidation, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, id, string(hash)); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return err
		}
		return fmt.Errorf("identity: update password: %w", err)
	}
	return nil
}

// SignOut revokes all refresh sessions of the user at the provider.
func (s *Service) SignOut(ctx context.Context, id uuid.UUID) error {
	return s.repo.RevokeSessions(ctx, id)
}
