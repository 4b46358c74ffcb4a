package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/barangay-portal/portal/internal/shared"
)

const tokenIssuer = "barangay-portal"

// Claims is the access-token payload shared with the hosted auth provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	AAL   Level  `json:"aal"`
}

// IssueToken signs an HS256 access token for the principal.
func (s *Service) IssueToken(p Principal, ttl time.Duration) (string, error) {
	if p.ID == uuid.Nil {
		return "", errors.New("identity: principal id required")
	}
	now := s.now()
	level := p.Assurance.Current
	if level == "" {
		level = LevelAAL1
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: p.Email,
		AAL:   level,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Verify validates an access token and resolves the principal, including the
// next reachable assurance level. A failed factor lookup is treated as an
// enrolled factor so the session is routed through the challenge.
func (s *Service) Verify(ctx context.Context, raw string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject is not a uuid", shared.ErrUnauthorized)
	}
	current := claims.AAL
	if current == "" {
		current = LevelAAL1
	}
	principal := Principal{
		ID:        id,
		Email:     claims.Email,
		Assurance: Assurance{Current: current, Next: LevelAAL1},
	}
	enrolled, err := s.repo.HasVerifiedFactor(ctx, id)
	if err != nil {
		s.logger.Warn("factor lookup failed, requiring challenge", slog.String("user_id", id.String()), slog.Any("error", err))
		enrolled = true
	}
	if enrolled {
		principal.Assurance.Next = LevelAAL2
	}
	return principal, nil
}

// BearerToken extracts the bearer credential from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
