package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the base repetition unit of a recurrence.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	default:
		return fmt.Sprintf("Frequency(%d)", int(f))
	}
}

// TerminationKind selects how a recurrence ends.
type TerminationKind int

const (
	EndNever TerminationKind = iota
	EndUntil
	EndCount
)

// Termination is the end condition of a recurrence. Until is meaningful only
// for EndUntil and Count only for EndCount.
type Termination struct {
	Kind  TerminationKind
	Until time.Time
	Count int
}

// Descriptor is the structured form of a stored RRULE string.
type Descriptor struct {
	Freq      Frequency
	Interval  int
	Weekdays  []time.Weekday
	MonthDays []int
	Months    []time.Month
	End       Termination
}

// rrule-go numbers weekdays from Monday.
var rruleWeekdays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

func toRRuleWeekday(d time.Weekday) rrule.Weekday {
	return rruleWeekdays[(int(d)+6)%7]
}

func fromRRuleWeekday(w rrule.Weekday) time.Weekday {
	return time.Weekday((w.Day() + 1) % 7)
}

// ParseDescriptor decodes an RRULE string such as
// "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;COUNT=10".
func ParseDescriptor(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "RRULE:")
	if raw == "" {
		return Descriptor{}, fmt.Errorf("%w: empty rule", ErrInvalidRecurrence)
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}
	if len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return Descriptor{}, fmt.Errorf("%w: unsupported rule part in %q", ErrInvalidRecurrence, raw)
	}

	d := Descriptor{Interval: opt.Interval}
	switch opt.Freq {
	case rrule.DAILY:
		d.Freq = Daily
	case rrule.WEEKLY:
		d.Freq = Weekly
	case rrule.MONTHLY:
		d.Freq = Monthly
	case rrule.YEARLY:
		d.Freq = Yearly
	default:
		return Descriptor{}, fmt.Errorf("%w: unsupported frequency %v", ErrInvalidRecurrence, opt.Freq)
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return Descriptor{}, fmt.Errorf("%w: ordinal weekday %s", ErrInvalidRecurrence, wd.String())
		}
		d.Weekdays = append(d.Weekdays, fromRRuleWeekday(wd))
	}
	d.MonthDays = append(d.MonthDays, opt.Bymonthday...)
	for _, m := range opt.Bymonth {
		d.Months = append(d.Months, time.Month(m))
	}
	switch {
	case opt.Count > 0:
		d.End = Termination{Kind: EndCount, Count: opt.Count}
	case !opt.Until.IsZero():
		d.End = Termination{Kind: EndUntil, Until: opt.Until.UTC()}
	}
	d.normalize()
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the descriptor against the fields each frequency accepts.
func (d Descriptor) Validate() error {
	if d.Freq < Daily || d.Freq > Yearly {
		return fmt.Errorf("%w: frequency required", ErrInvalidRecurrence)
	}
	if d.Interval < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidRecurrence)
	}
	if len(d.Weekdays) > 0 && d.Freq != Weekly {
		return fmt.Errorf("%w: weekdays only apply to weekly rules", ErrInvalidRecurrence)
	}
	if len(d.MonthDays) > 0 && d.Freq != Monthly && d.Freq != Yearly {
		return fmt.Errorf("%w: month days only apply to monthly and yearly rules", ErrInvalidRecurrence)
	}
	if len(d.Months) > 0 && d.Freq != Yearly {
		return fmt.Errorf("%w: months only apply to yearly rules", ErrInvalidRecurrence)
	}
	for _, md := range d.MonthDays {
		if md == 0 || md > 31 || md < -31 {
			return fmt.Errorf("%w: month day %d out of range", ErrInvalidRecurrence, md)
		}
	}
	for _, m := range d.Months {
		if m < time.January || m > time.December {
			return fmt.Errorf("%w: month %d out of range", ErrInvalidRecurrence, int(m))
		}
	}
	switch d.End.Kind {
	case EndNever:
	case EndCount:
		if d.End.Count <= 0 {
			return fmt.Errorf("%w: count must be positive", ErrInvalidRecurrence)
		}
	case EndUntil:
		if d.End.Until.IsZero() {
			return fmt.Errorf("%w: until timestamp required", ErrInvalidRecurrence)
		}
	default:
		return fmt.Errorf("%w: unknown termination", ErrInvalidRecurrence)
	}
	return nil
}

// EffectiveInterval returns the interval with the default of 1 applied.
func (d Descriptor) EffectiveInterval() int {
	if d.Interval <= 1 {
		return 1
	}
	return d.Interval
}

// String serializes the descriptor into its stored RRULE form.
func (d Descriptor) String() string {
	opt := d.option()
	return opt.RRuleString()
}

func (d Descriptor) option() rrule.ROption {
	opt := rrule.ROption{}
	switch d.Freq {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
	case Monthly:
		opt.Freq = rrule.MONTHLY
	case Yearly:
		opt.Freq = rrule.YEARLY
	}
	if d.Interval > 1 {
		opt.Interval = d.Interval
	}
	for _, wd := range d.Weekdays {
		opt.Byweekday = append(opt.Byweekday, toRRuleWeekday(wd))
	}
	opt.Bymonthday = append(opt.Bymonthday, d.MonthDays...)
	for _, m := range d.Months {
		opt.Bymonth = append(opt.Bymonth, int(m))
	}
	switch d.End.Kind {
	case EndCount:
		opt.Count = d.End.Count
	case EndUntil:
		opt.Until = d.End.Until.UTC()
	case EndNever:
	}
	return opt
}

func (d Descriptor) rule(start time.Time) (*rrule.RRule, error) {
	opt := d.option()
	opt.Dtstart = start
	return rrule.NewRRule(opt)
}

// ruleFrom builds the rule for a series starting at start, moving DTSTART
// forward by whole periods so iteration begins shortly before from. The
// occurrences at or after from are unchanged. Rules with COUNT keep their
// original start since the count runs from the first occurrence.
func (d Descriptor) ruleFrom(start, from time.Time) (*rrule.RRule, error) {
	if d.End.Kind == EndCount || !from.After(start) {
		return d.rule(start)
	}
	from = from.In(start.Location())
	interval := d.EffectiveInterval()
	opt := d.option()
	opt.Dtstart = start

	switch d.Freq {
	case Daily, Weekly:
		unit := 1
		if d.Freq == Weekly {
			unit = 7
		}
		days := int(from.Sub(start).Hours() / 24)
		if k := days/(unit*interval) - 1; k > 0 {
			opt.Dtstart = start.AddDate(0, 0, k*unit*interval)
		}
	case Monthly:
		months := (from.Year()-start.Year())*12 + int(from.Month()-start.Month())
		if k := months/interval - 1; k > 0 {
			if len(opt.Bymonthday) == 0 {
				opt.Bymonthday = []int{start.Day()}
			}
			opt.Dtstart = time.Date(start.Year(), start.Month()+time.Month(k*interval), 1,
				start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
		}
	case Yearly:
		if k := (from.Year()-start.Year())/interval - 1; k > 0 {
			if len(opt.Bymonth) == 0 && len(opt.Bymonthday) == 0 {
				opt.Bymonth = []int{int(start.Month())}
			}
			if len(opt.Bymonthday) == 0 {
				opt.Bymonthday = []int{start.Day()}
			}
			opt.Dtstart = time.Date(start.Year()+k*interval, time.January, 1,
				start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
		}
	}
	return rrule.NewRRule(opt)
}

func (d *Descriptor) normalize() {
	if d.Interval == 1 {
		d.Interval = 0
	}
	d.Weekdays = uniqueSorted(d.Weekdays, func(a, b time.Weekday) bool {
		return (int(a)+6)%7 < (int(b)+6)%7
	})
	d.MonthDays = uniqueSorted(d.MonthDays, func(a, b int) bool {
		// positive days first, then counted-from-end days
		if (a > 0) != (b > 0) {
			return a > 0
		}
		if a > 0 {
			return a < b
		}
		return a > b
	})
	d.Months = uniqueSorted(d.Months, func(a, b time.Month) bool { return a < b })
}

func uniqueSorted[T comparable](in []T, less func(a, b T) bool) []T {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
