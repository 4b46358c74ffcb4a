package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/barangay-portal/portal/internal/profiles"
)

var (
	// ErrInvalidRecurrence wraps every descriptor parse or validation failure.
	ErrInvalidRecurrence = errors.New("calendar: invalid recurrence")
	// ErrInvalidWindow is returned when the expansion window is inverted.
	ErrInvalidWindow = errors.New("calendar: window end before start")
)

// Category classifies barangay activities.
type Category string

const (
	CategoryMeeting        Category = "meeting"
	CategoryAssembly       Category = "assembly"
	CategoryHealth         Category = "health"
	CategorySports         Category = "sports"
	CategoryCleanup        Category = "cleanup"
	CategoryRelief         Category = "relief"
	CategoryTraining       Category = "training"
	CategoryCelebration    Category = "celebration"
	CategoryEmergencyDrill Category = "emergency_drill"
	CategoryOther          Category = "other"
)

// ParseCategory converts a stored category; unknown values map to CategoryOther.
func ParseCategory(raw string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryMeeting, CategoryAssembly, CategoryHealth, CategorySports, CategoryCleanup,
		CategoryRelief, CategoryTraining, CategoryCelebration, CategoryEmergencyDrill, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

var titleCaser = cases.Title(language.English)

// Label renders the category for display, e.g. "Emergency Drill".
func (c Category) Label() string {
	return titleCaser.String(strings.ReplaceAll(string(c), "_", " "))
}

// Visibility scopes who may see an event.
type Visibility string

const (
	VisibilityInternal Visibility = "internal"
	VisibilityUsers    Visibility = "users"
	VisibilityPublic   Visibility = "public"
)

// ParseVisibility converts a stored visibility; unknown values are treated as internal.
func ParseVisibility(raw string) Visibility {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(raw))); v {
	case VisibilityPublic, VisibilityUsers, VisibilityInternal:
		return v
	default:
		return VisibilityInternal
	}
}

// VisibleTo lists the visibilities a role may read. A nil role is an anonymous visitor.
func VisibleTo(role *profiles.Role) []Visibility {
	if role == nil {
		return []Visibility{VisibilityPublic}
	}
	switch *role {
	case profiles.RoleAdmin, profiles.RoleStaff, profiles.RoleOverseer, profiles.RoleGlyph:
		return []Visibility{VisibilityPublic, VisibilityUsers, VisibilityInternal}
	case profiles.RoleUser:
		return []Visibility{VisibilityPublic, VisibilityUsers}
	default:
		return []Visibility{VisibilityPublic}
	}
}

// Event is a persisted calendar activity.
type Event struct {
	ID          int64      `json:"id"`
	BarangayID  int64      `json:"barangay_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Category    Category   `json:"category"`
	Audience    string     `json:"audience"`
	Visibility  Visibility `json:"visibility"`
	Recurring   bool       `json:"is_recurring"`
	Recurrence  string     `json:"recurrence_rule,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Duration returns end minus start, never negative.
func (e Event) Duration() time.Duration {
	if e.End.Before(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Instance is a displayable occurrence: either the original event or one
// generated by expansion. Instances are never persisted.
type Instance struct {
	Event
	OriginID  int64 `json:"origin_id"`
	Generated bool  `json:"is_instance"`
}

// Key identifies the instance within its series.
func (i Instance) Key() string {
	return fmt.Sprintf("%d@%s", i.OriginID, i.Start.UTC().Format(time.RFC3339))
}

// Original wraps an event as the non-generated member of its series.
func Original(e Event) Instance {
	return Instance{Event: e, OriginID: e.ID}
}
