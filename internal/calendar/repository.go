package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Filter narrows the events loaded for a window.
type Filter struct {
	BarangayID   int64
	Visibilities []Visibility
	Window       Window
}

// Repository defines persistence operations for calendar events.
type Repository interface {
	ListEvents(ctx context.Context, filter Filter) ([]Event, error)
	CreateEvent(ctx context.Context, ev Event) (Event, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const eventColumns = `id, barangay_id, title, description, location, start_at, end_at, category, audience,
visibility, is_recurring, COALESCE(recurrence_rule, ''), created_at, updated_at`

// ListEvents returns events overlapping the window plus every recurring event
// that started before the window end, since its series may reach into it.
func (r *PGRepository) ListEvents(ctx context.Context, filter Filter) ([]Event, error) {
	visibilities := make([]string, len(filter.Visibilities))
	for i, v := range filter.Visibilities {
		visibilities[i] = string(v)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+`
FROM events
WHERE barangay_id = $1
  AND visibility = ANY($2::text[])
  AND start_at <= $4
  AND (is_recurring OR end_at >= $3)
ORDER BY start_at, id`, filter.BarangayID, visibilities, filter.Window.Start, filter.Window.End)
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateEvent inserts the event and returns it with generated columns set.
func (r *PGRepository) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	var rule *string
	if ev.Recurrence != "" {
		rule = &ev.Recurrence
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO events
(barangay_id, title, description, location, start_at, end_at, category, audience, visibility, is_recurring, recurrence_rule, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
RETURNING `+eventColumns,
		ev.BarangayID, ev.Title, ev.Description, ev.Location, ev.Start.UTC(), ev.End.UTC(),
		string(ev.Category), ev.Audience, string(ev.Visibility), ev.Recurring, rule)
	created, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("calendar: create event: %w", err)
	}
	return created, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev         Event
		category   string
		visibility string
		start, end time.Time
	)
	if err := row.Scan(&ev.ID, &ev.BarangayID, &ev.Title, &ev.Description, &ev.Location, &start, &end,
		&category, &ev.Audience, &visibility, &ev.Recurring, &ev.Recurrence, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return Event{}, err
	}
	ev.Start = start
	ev.End = end
	ev.Category = ParseCategory(category)
	ev.Visibility = ParseVisibility(visibility)
	return ev, nil
}

var _ Repository = (*PGRepository)(nil)
