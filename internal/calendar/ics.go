package calendar

import (
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
)

const icsProductID = "-//Barangay Portal//Calendar//EN"

// ExportICS renders the public events of a barangay as an iCalendar feed.
// Recurring events are emitted once with their RRULE so subscribers expand
// them on their side.
func (s *Service) ExportICS(ctx context.Context, barangayID int64, window Window, name string) (string, error) {
	events, err := s.load(ctx, Query{BarangayID: barangayID, Window: window})
	if err != nil {
		return "", err
	}
	return renderICS(events, name, time.Now().UTC()), nil
}

func renderICS(events []Event, name string, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(icsProductID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	for _, ev := range events {
		if ev.Visibility != VisibilityPublic {
			continue
		}
		vevent := cal.AddEvent(fmt.Sprintf("event-%d@barangay-portal", ev.ID))
		vevent.SetDtStampTime(stamp)
		vevent.SetStartAt(ev.Start.UTC())
		vevent.SetEndAt(ev.End.UTC())
		vevent.SetSummary(ev.Title)
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			vevent.SetLocation(ev.Location)
		}
		if !ev.CreatedAt.IsZero() {
			vevent.SetCreatedTime(ev.CreatedAt.UTC())
		}
		if !ev.UpdatedAt.IsZero() {
			vevent.SetModifiedAt(ev.UpdatedAt.UTC())
		}
		vevent.AddProperty(ics.ComponentPropertyCategories, ev.Category.Label())
		if ev.Recurring && ev.Recurrence != "" {
			if d, err := ParseDescriptor(ev.Recurrence); err == nil {
				vevent.AddProperty(ics.ComponentPropertyRrule, d.String())
			}
		}
	}
	return cal.Serialize()
}
