package calendar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

type stubRepository struct {
	events  []Event
	listErr error
	filters []Filter
	created []Event
}

func (s *stubRepository) ListEvents(ctx context.Context, filter Filter) ([]Event, error) {
	s.filters = append(s.filters, filter)
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]Event(nil), s.events...), nil
}

func (s *stubRepository) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	ev.ID = int64(len(s.created) + 1)
	ev.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev.UpdatedAt = ev.CreatedAt
	s.created = append(s.created, ev)
	return ev, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvents() []Event {
	weekly := baseEvent(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), "FREQ=WEEKLY;BYDAY=WE")
	weekly.ID = 1
	early := baseEvent(time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), "")
	early.ID = 2
	inside := baseEvent(time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC), "")
	inside.ID = 3
	inside.Visibility = VisibilityUsers
	return []Event{weekly, early, inside}
}

func TestServiceCalendarDropsOriginalsOutsideWindow(t *testing.T) {
	repo := &stubRepository{events: sampleEvents()}
	svc := NewService(repo, quietLogger(), time.UTC)
	window := Window{Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)}

	items, err := svc.Calendar(context.Background(), Query{BarangayID: 1, Window: window})
	require.NoError(t, err)

	// four Wednesdays in February 2024 plus the plain event on the 10th
	require.Len(t, items, 5)
	for i, item := range items {
		assert.True(t, window.Contains(item.Start), "item %d outside window", i)
		if i > 0 {
			assert.False(t, item.Start.Before(items[i-1].Start))
		}
	}
	assert.Equal(t, int64(3), items[1].ID)

	require.Len(t, repo.filters, 1)
	assert.Equal(t, []Visibility{VisibilityPublic}, repo.filters[0].Visibilities)
}

func TestServiceListDedupes(t *testing.T) {
	repo := &stubRepository{events: sampleEvents()}
	svc := NewService(repo, quietLogger(), time.UTC)
	role := profiles.RoleUser
	window := Window{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)}

	items, err := svc.List(context.Background(), Query{BarangayID: 1, Role: &role, Window: window})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{items[0].ID, items[1].ID, items[2].ID})
	assert.False(t, items[0].Generated)
	assert.Equal(t, []Visibility{VisibilityPublic, VisibilityUsers}, repo.filters[0].Visibilities)
}

func TestServiceRejectsBadQuery(t *testing.T) {
	svc := NewService(&stubRepository{}, quietLogger(), time.UTC)
	now := time.Now()

	_, err := svc.Calendar(context.Background(), Query{BarangayID: 1, Window: Window{Start: now, End: now.Add(-time.Hour)}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.List(context.Background(), Query{Window: Window{Start: now, End: now.Add(time.Hour)}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestServicePropagatesRepositoryError(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(&stubRepository{listErr: boom}, quietLogger(), time.UTC)
	now := time.Now()
	_, err := svc.Calendar(context.Background(), Query{BarangayID: 1, Window: Window{Start: now, End: now.Add(time.Hour)}})
	require.ErrorIs(t, err, boom)
}

func TestServiceCreateCanonicalizesRule(t *testing.T) {
	repo := &stubRepository{}
	svc := NewService(repo, quietLogger(), time.UTC)
	start := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)

	ev, err := svc.Create(context.Background(), CreateEventInput{
		BarangayID: 4,
		Title:      "  Clean-up drive ",
		Start:      start,
		End:        start.Add(3 * time.Hour),
		Category:   "cleanup",
		Visibility: "public",
		Recurrence: "RRULE:FREQ=WEEKLY;BYDAY=SA,MO;INTERVAL=1",
	})
	require.NoError(t, err)
	assert.True(t, ev.Recurring)
	assert.Equal(t, "Clean-up drive", ev.Title)
	assert.Equal(t, CategoryCleanup, ev.Category)
	assert.NotContains(t, ev.Recurrence, "RRULE:")
	assert.NotContains(t, ev.Recurrence, "INTERVAL")
	assert.Contains(t, ev.Recurrence, "BYDAY=MO,SA")
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(&stubRepository{}, quietLogger(), time.UTC)
	start := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	valid := CreateEventInput{
		BarangayID: 4,
		Title:      "Health caravan",
		Start:      start,
		End:        start.Add(time.Hour),
		Category:   "health",
		Visibility: "users",
	}

	cases := map[string]func(in *CreateEventInput){
		"missing title":   func(in *CreateEventInput) { in.Title = "" },
		"end before":      func(in *CreateEventInput) { in.End = start.Add(-time.Hour) },
		"bad category":    func(in *CreateEventInput) { in.Category = "party" },
		"bad visibility":  func(in *CreateEventInput) { in.Visibility = "everyone" },
		"bad rule":        func(in *CreateEventInput) { in.Recurrence = "FREQ=HOURLY" },
		"until too early": func(in *CreateEventInput) { in.Recurrence = "FREQ=DAILY;UNTIL=20240301T000000Z" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := svc.Create(context.Background(), in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestServiceExportICS(t *testing.T) {
	events := sampleEvents()
	events[0].Title = "Assembly"
	events[1].Title = "Vaccination"
	repo := &stubRepository{events: events}
	svc := NewService(repo, quietLogger(), time.UTC)
	window := Window{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

	body, err := svc.ExportICS(context.Background(), 1, window, "Barangay 1")
	require.NoError(t, err)
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"), "only public events are exported")
	assert.Contains(t, body, "RRULE:FREQ=WEEKLY")
	assert.Contains(t, body, "SUMMARY:Assembly")
	assert.Contains(t, body, "SUMMARY:Vaccination")
	assert.Equal(t, []Visibility{VisibilityPublic}, repo.filters[0].Visibilities)
}
