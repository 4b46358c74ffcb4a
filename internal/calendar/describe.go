package calendar

import (
	"fmt"
	"strconv"
	"strings"
)

// DescribeRule renders a stored rule for display. Empty rules do not repeat;
// unparseable rules get a neutral label.
func DescribeRule(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Does not repeat"
	}
	d, err := ParseDescriptor(raw)
	if err != nil {
		return "Repeats on a custom schedule"
	}
	return Describe(d)
}

// Describe renders a descriptor as a short phrase, for example
// "Repeats every 2 weeks on Monday, Wednesday".
func Describe(d Descriptor) string {
	var b strings.Builder
	b.WriteString("Repeats ")

	interval := d.EffectiveInterval()
	unit := unitName(d.Freq)
	if interval == 1 {
		b.WriteString(adverb(d.Freq))
	} else {
		fmt.Fprintf(&b, "every %d %ss", interval, unit)
	}

	switch d.Freq {
	case Weekly:
		if len(d.Weekdays) > 0 {
			names := make([]string, len(d.Weekdays))
			for i, wd := range d.Weekdays {
				names[i] = wd.String()
			}
			b.WriteString(" on " + strings.Join(names, ", "))
		}
	case Monthly:
		if len(d.MonthDays) > 0 {
			b.WriteString(" on " + monthDayList(d.MonthDays))
		}
	case Yearly:
		if len(d.Months) > 0 {
			names := make([]string, len(d.Months))
			for i, m := range d.Months {
				names[i] = m.String()
			}
			b.WriteString(" in " + strings.Join(names, ", "))
		}
		if len(d.MonthDays) > 0 {
			b.WriteString(" on " + monthDayList(d.MonthDays))
		}
	case Daily:
	}

	switch d.End.Kind {
	case EndCount:
		if d.End.Count == 1 {
			b.WriteString(", once")
		} else {
			fmt.Fprintf(&b, ", %d times", d.End.Count)
		}
	case EndUntil:
		b.WriteString(", until " + d.End.Until.Format("January 2, 2006"))
	case EndNever:
	}
	return b.String()
}

func adverb(f Frequency) string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "periodically"
	}
}

func unitName(f Frequency) string {
	switch f {
	case Daily:
		return "day"
	case Weekly:
		return "week"
	case Monthly:
		return "month"
	case Yearly:
		return "year"
	default:
		return "period"
	}
}

func monthDayList(days []int) string {
	labels := make([]string, len(days))
	for i, day := range days {
		switch {
		case day > 0:
			labels[i] = strconv.Itoa(day)
		case day == -1:
			labels[i] = "last"
		default:
			labels[i] = strconv.Itoa(-day) + " from last"
		}
	}
	prefix := "day "
	if len(days) > 1 {
		prefix = "days "
	}
	return prefix + strings.Join(labels, ", ")
}
