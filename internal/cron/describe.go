package cron

import "fmt"

// Describe renders a short human-readable summary of the schedule. It
// favors recognizing a few common shapes (every N, exact time) over
// attempting to describe every modifier combination in prose.
func (s *Schedule) Describe() string {
	if s.second.any && s.minute.any && s.hour.any && s.dom.isAny() && s.month.any && s.dow.isAny() {
		return "every second"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, describeField("minute", s.minute))
	parts = append(parts, describeField("hour", s.hour))

	switch {
	case s.dom.isAny() && s.dow.isAny():
		// no day restriction
	case s.dow.isAny():
		parts = append(parts, describeDom(s.dom))
	case s.dom.isAny():
		parts = append(parts, describeDow(s.dow))
	default:
		parts = append(parts, describeDom(s.dom)+" or "+describeDow(s.dow))
	}

	if !s.month.any {
		parts = append(parts, describeField("month", s.month))
	}
	if s.hasYear && !s.year.any {
		parts = append(parts, describeField("year", s.year))
	}

	out := "at " + parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

func describeField(name string, v valueSet) string {
	if v.any {
		return fmt.Sprintf("every %s", name)
	}
	return fmt.Sprintf("selected %ss", name)
}

func describeDom(d domSpec) string {
	switch d.kind {
	case domLast:
		return "on the last day of the month"
	case domLastOffset:
		return fmt.Sprintf("%d day(s) before the last day of the month", d.offset)
	case domNearestWeekday:
		return fmt.Sprintf("on the weekday nearest day %d", d.day)
	default:
		return "on selected days of the month"
	}
}

func describeDow(d dowSpec) string {
	switch d.kind {
	case dowNth:
		return fmt.Sprintf("on the %s occurrence of weekday %d", ordinal(d.n), d.weekday)
	case dowLastOcc:
		return fmt.Sprintf("on the last occurrence of weekday %d", d.weekday)
	default:
		return "on selected weekdays"
	}
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
