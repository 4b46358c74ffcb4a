// Package gate decides, per browser tab, whether an authenticated principal
// may use the portal and what the tab must do when it may not.
package gate

import (
	"fmt"
	"strings"

	"github.com/barangay-portal/portal/internal/identity"
	"github.com/barangay-portal/portal/internal/profiles"
)

// Routes the gate navigates to.
const (
	RouteSignIn        = "/login"
	RoutePasswordReset = "/reset-password"
	RouteHub           = "/hub"
	RouteDashboard     = "/dashboard"
	RouteOverseer      = "/overseer"
	RouteGlyph         = "/glyph"
)

// Destination resolves the landing route of a role.
func Destination(role profiles.Role) (string, error) {
	switch role {
	case profiles.RoleUser:
		return RouteHub, nil
	case profiles.RoleAdmin, profiles.RoleStaff:
		return RouteDashboard, nil
	case profiles.RoleOverseer:
		return RouteOverseer, nil
	case profiles.RoleGlyph:
		return RouteGlyph, nil
	default:
		return "", fmt.Errorf("%w: %q", profiles.ErrUnknownRole, role)
	}
}

// Phase is the conceptual state of a tab session.
type Phase int

const (
	PhaseUnauthenticated Phase = iota
	PhaseAuthenticating
	PhaseBlocked
	PhaseUsable
	PhaseSignedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseBlocked:
		return "blocked"
	case PhaseUsable:
		return "usable"
	case PhaseSignedOut:
		return "signed_out"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// EventKind enumerates auth-provider notifications.
type EventKind string

const (
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventTokenRefreshed   EventKind = "TOKEN_REFRESHED"
	EventInitialSession   EventKind = "INITIAL_SESSION"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
)

// ParseEventKind converts the provider's event name.
func ParseEventKind(raw string) (EventKind, error) {
	switch kind := EventKind(strings.ToUpper(strings.TrimSpace(raw))); kind {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed, EventInitialSession, EventPasswordRecovery:
		return kind, nil
	default:
		return "", fmt.Errorf("gate: unknown auth event %q", raw)
	}
}

// AuthEvent is one notification from the auth provider. Route is the route
// active when the event fired and Visible reports whether the tab was in the
// foreground.
type AuthEvent struct {
	Kind      EventKind
	Principal *identity.Principal
	Route     string
	Visible   bool
}

// BlockReason explains why a session is not usable.
type BlockReason string

const (
	ReasonNone               BlockReason = ""
	ReasonPending            BlockReason = "pending"
	ReasonRejected           BlockReason = "rejected"
	ReasonBanned             BlockReason = "banned"
	ReasonLocked             BlockReason = "password_reset_required"
	ReasonBarangayPending    BlockReason = "barangay_not_approved"
	ReasonProfileUnavailable BlockReason = "profile_unavailable"
	ReasonUnexpected         BlockReason = "unexpected"
)

// Message is the user-facing text shown for the reason.
func (r BlockReason) Message() string {
	switch r {
	case ReasonPending:
		return "Your account is still awaiting approval from your barangay administrator."
	case ReasonRejected:
		return "Your registration was rejected. Please contact your barangay office."
	case ReasonBanned:
		return "Your account has been suspended. Please contact your barangay office."
	case ReasonLocked:
		return "You must reset your password before you can continue."
	case ReasonBarangayPending:
		return "Your barangay has not been approved yet. Please try again later."
	case ReasonProfileUnavailable:
		return "We could not verify your account right now. Please sign in again."
	case ReasonUnexpected:
		return "Something went wrong while signing you in. Please try again."
	case ReasonNone:
		return ""
	default:
		return "Your session has ended. Please sign in again."
	}
}

// statusReason maps a profile status onto a block reason.
func statusReason(status profiles.Status) BlockReason {
	switch status {
	case profiles.StatusApproved:
		return ReasonNone
	case profiles.StatusPending:
		return ReasonPending
	case profiles.StatusRejected:
		return ReasonRejected
	case profiles.StatusBanned:
		return ReasonBanned
	default:
		return ReasonProfileUnavailable
	}
}

// exempt reports whether the reason is waived on the given route: a locked
// account may stay on the password-reset route to clear the lock.
func exempt(reason BlockReason, route string) bool {
	return reason == ReasonLocked && route == RoutePasswordReset
}

// NoticeLevel grades a notice.
type NoticeLevel string

const (
	NoticeError NoticeLevel = "error"
	NoticeInfo  NoticeLevel = "info"
)

// Notice is a message the tab should display.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Reason  BlockReason `json:"reason,omitempty"`
	Message string      `json:"message"`
}

func blockNotice(reason BlockReason) Notice {
	return Notice{Level: NoticeError, Reason: reason, Message: reason.Message()}
}

// Decision is the outcome of handling one event.
type Decision struct {
	Event     EventKind   `json:"event"`
	Phase     Phase       `json:"phase"`
	Navigate  string      `json:"navigate,omitempty"`
	Notice    *Notice     `json:"notice,omitempty"`
	Reason    BlockReason `json:"reason,omitempty"`
	Challenge bool        `json:"challenge,omitempty"`
	Ignored   bool        `json:"ignored,omitempty"`
}

// Snapshot is a read-only copy of the tab session.
type Snapshot struct {
	Phase      Phase               `json:"phase"`
	Principal  *identity.Principal `json:"principal,omitempty"`
	Profile    *profiles.Profile   `json:"profile,omitempty"`
	Settings   profiles.Settings   `json:"settings"`
	Route      string              `json:"route"`
	Reason     BlockReason         `json:"reason,omitempty"`
	Restricted bool                `json:"restricted,omitempty"`
	Polling    bool                `json:"polling"`
}

// Usable reports whether the snapshot grants normal access. A session kept
// alive only to clear the password lock is not usable.
func (s Snapshot) Usable() bool {
	return s.Phase == PhaseUsable && !s.Restricted && s.Profile != nil
}
