package profiles

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownRole is returned when a stored role string is outside the closed set.
	ErrUnknownRole = errors.New("profiles: unknown role")
	// ErrUnknownStatus is returned when a stored status string is outside the closed set.
	ErrUnknownStatus = errors.New("profiles: unknown status")
)

// Role is the application role of a portal account.
type Role string

const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleOverseer Role = "overseer"
	RoleGlyph    Role = "glyph"
)

// ParseRole converts a stored role into the closed Role set.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleUser, RoleAdmin, RoleStaff, RoleOverseer, RoleGlyph:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// Privileged reports whether the role administers barangay data.
func (r Role) Privileged() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleOverseer, RoleGlyph:
		return true
	case RoleUser:
		return false
	default:
		return false
	}
}

// CrossBarangay reports whether the role oversees more than one barangay.
func (r Role) CrossBarangay() bool {
	return r == RoleOverseer || r == RoleGlyph
}

// Status is the approval state of a portal account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusBanned   Status = "banned"
)

// ParseStatus converts a stored status into the closed Status set.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(strings.ToLower(strings.TrimSpace(raw))); status {
	case StatusPending, StatusApproved, StatusRejected, StatusBanned:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// Profile is the application-level record of an authenticated principal.
type Profile struct {
	ID          uuid.UUID  `json:"id"`
	BarangayID  *int64     `json:"barangay_id,omitempty"`
	FullName    string     `json:"full_name"`
	Role        Role       `json:"role"`
	Status      Status     `json:"status"`
	MustReset   bool       `json:"must_reset_password"`
	Online      bool       `json:"is_online"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// HasBarangay reports whether the profile references a barangay.
func (p Profile) HasBarangay() bool {
	return p.BarangayID != nil && *p.BarangayID > 0
}

// StatusCheck carries the fields re-read by the periodic status poll.
type StatusCheck struct {
	Status    Status
	MustReset bool
}

// Barangay is the local government unit an account belongs to.
type Barangay struct {
	ID       int64
	Name     string
	Approved bool
}
