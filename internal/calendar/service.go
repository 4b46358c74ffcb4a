package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

// Query selects the calendar of one barangay as seen by a role.
type Query struct {
	BarangayID int64
	Role       *profiles.Role
	Window     Window
}

// CreateEventInput is the payload accepted when scheduling an event.
type CreateEventInput struct {
	BarangayID  int64     `json:"barangay_id" validate:"required,gt=0"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Location    string    `json:"location" validate:"max=300"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required,gtefield=Start"`
	Category    string    `json:"category" validate:"required,oneof=meeting assembly health sports cleanup relief training celebration emergency_drill other"`
	Audience    string    `json:"audience" validate:"max=200"`
	Visibility  string    `json:"visibility" validate:"required,oneof=internal users public"`
	Recurrence  string    `json:"recurrence_rule"`
}

// Service exposes calendar use cases over the repository.
type Service struct {
	repo      Repository
	logger    *slog.Logger
	validator *validator.Validate
	location  *time.Location
}

// NewService constructs a Service rendering dates in loc.
func NewService(repo Repository, logger *slog.Logger, loc *time.Location) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, logger: logger, validator: validator.New(), location: loc}
}

// Location returns the display timezone.
func (s *Service) Location() *time.Location {
	return s.location
}

// Calendar returns every occurrence inside the window, originals included
// only when they overlap it, ordered by start.
func (s *Service) Calendar(ctx context.Context, q Query) ([]Instance, error) {
	events, err := s.load(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []Instance
	for _, inst := range s.expandAll(events, q.Window) {
		if !inst.Generated && !q.Window.Overlaps(inst.Start, inst.End) {
			continue
		}
		out = append(out, inst)
	}
	sortInstances(out)
	return out, nil
}

// List returns one entry per recurring series plus every plain event
// overlapping the window.
func (s *Service) List(ctx context.Context, q Query) ([]Instance, error) {
	events, err := s.load(ctx, q)
	if err != nil {
		return nil, err
	}
	var kept []Instance
	for _, inst := range s.expandAll(events, q.Window) {
		if !inst.Recurring && !q.Window.Overlaps(inst.Start, inst.End) {
			continue
		}
		kept = append(kept, inst)
	}
	out := Dedupe(kept)
	sortInstances(out)
	return out, nil
}

// Create validates the input, canonicalizes the recurrence rule and stores the event.
func (s *Service) Create(ctx context.Context, in CreateEventInput) (Event, error) {
	if err := s.validator.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return Event{}, fmt.Errorf("%w: %s %s", shared.ErrValidation, strings.ToLower(fieldErrs[0].Field()), fieldErrs[0].Tag())
		}
		return Event{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	ev := Event{
		BarangayID:  in.BarangayID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Location:    in.Location,
		Start:       in.Start,
		End:         in.End,
		Category:    ParseCategory(in.Category),
		Audience:    in.Audience,
		Visibility:  ParseVisibility(in.Visibility),
	}
	if strings.TrimSpace(in.Recurrence) != "" {
		d, err := ParseDescriptor(in.Recurrence)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
		}
		if d.End.Kind == EndUntil && !d.End.Until.After(in.Start) {
			return Event{}, fmt.Errorf("%w: recurrence ends before the event starts", shared.ErrValidation)
		}
		ev.Recurring = true
		ev.Recurrence = d.String()
	}
	created, err := s.repo.CreateEvent(ctx, ev)
	if err != nil {
		return Event{}, err
	}
	s.logger.Info("event created",
		slog.Int64("event_id", created.ID),
		slog.Int64("barangay_id", created.BarangayID),
		slog.Bool("recurring", created.Recurring))
	return created, nil
}

func (s *Service) load(ctx context.Context, q Query) ([]Event, error) {
	if !q.Window.Valid() {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, ErrInvalidWindow)
	}
	if q.BarangayID <= 0 {
		return nil, fmt.Errorf("%w: barangay required", shared.ErrValidation)
	}
	return s.repo.ListEvents(ctx, Filter{
		BarangayID:   q.BarangayID,
		Visibilities: VisibleTo(q.Role),
		Window:       q.Window,
	})
}

func (s *Service) expandAll(events []Event, window Window) []Instance {
	var out []Instance
	for _, ev := range events {
		ev.Start = ev.Start.In(s.location)
		ev.End = ev.End.In(s.location)
		instances, err := ExpandEvent(ev, window)
		if err != nil {
			s.logger.Warn("skip recurrence expansion",
				slog.Int64("event_id", ev.ID),
				slog.String("rule", ev.Recurrence),
				slog.Any("error", err))
		}
		out = append(out, instances...)
	}
	return out
}

func sortInstances(items []Instance) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Start.Equal(items[j].Start) {
			return items[i].Start.Before(items[j].Start)
		}
		return items[i].OriginID < items[j].OriginID
	})
}
