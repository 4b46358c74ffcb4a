package calendar

import (
	"time"
)

// MaxGenerated caps the number of instances generated per event and window.
const MaxGenerated = 365

// Window is the inclusive time range requested by a calendar view.
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window is not inverted.
func (w Window) Valid() bool {
	return !w.End.Before(w.Start)
}

// Contains reports whether t falls inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Overlaps reports whether [start, end] intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if end.Before(start) {
		end = start
	}
	return !end.Before(w.Start) && !start.After(w.End)
}

// ExpandEvent parses the event's stored rule and expands it. Non-recurring
// events, and events whose rule fails to parse, yield only the original; the
// parse error is returned alongside so callers can log it.
func ExpandEvent(ev Event, window Window) ([]Instance, error) {
	if !ev.Recurring || ev.Recurrence == "" {
		return []Instance{Original(ev)}, nil
	}
	d, err := ParseDescriptor(ev.Recurrence)
	if err != nil {
		return []Instance{Original(ev)}, err
	}
	return Expand(ev, d, window), nil
}

// Expand returns the original event followed by the occurrences generated by
// d that start strictly after the original and fall inside window, in
// increasing start order. Generation stops at the window end, the rule's
// UNTIL or COUNT, or after MaxGenerated instances. COUNT includes the
// original occurrence when the rule matches it.
//
// The original is always the first element, whether or not it lies inside
// the window.
func Expand(ev Event, d Descriptor, window Window) []Instance {
	out := []Instance{Original(ev)}
	if !window.Valid() || d.Validate() != nil {
		return out
	}
	rule, err := d.ruleFrom(ev.Start, window.Start)
	if err != nil {
		return out
	}

	duration := ev.Duration()
	next := rule.Iterator()
	for generated := 0; generated < MaxGenerated; {
		start, ok := next()
		if !ok || start.After(window.End) {
			break
		}
		if !start.After(ev.Start) || start.Before(window.Start) {
			continue
		}
		inst := Instance{Event: ev, OriginID: ev.ID, Generated: true}
		inst.Start = start
		inst.End = start.Add(duration)
		out = append(out, inst)
		generated++
	}
	return out
}
