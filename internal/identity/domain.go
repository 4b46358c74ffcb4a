package identity

import (
	"time"

	"github.com/google/uuid"
)

// Level is an authenticator assurance level as reported by the auth provider.
type Level string

const (
	LevelAAL1 Level = "aal1"
	LevelAAL2 Level = "aal2"
)

// Assurance pairs the level reached by the current token with the level the
// account is able to reach.
type Assurance struct {
	Current Level `json:"current"`
	Next    Level `json:"next"`
}

// ChallengePending reports whether a second factor is enrolled but has not
// been presented in this session.
func (a Assurance) ChallengePending() bool {
	return a.Next == LevelAAL2 && a.Current != LevelAAL2
}

// Principal is the identity carried by a verified access token.
type Principal struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Assurance Assurance `json:"assurance"`
}

// Account is the credential record used by the self-hosted provider.
type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
