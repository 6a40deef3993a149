package cron

import (
	"strings"
	"time"
)

// Schedule is a parsed cron expression, ready to be queried for
// occurrences against a reference time.
type Schedule struct {
	expr    string
	second  valueSet
	minute  valueSet
	hour    valueSet
	dom     domSpec
	month   valueSet
	dow     dowSpec
	year    valueSet
	hasYear bool
}

// Parse parses a 5-, 6-, or 7-field cron expression.
func Parse(expr string) (*Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, ErrEmptyExpression
	}
	fields := strings.Fields(trimmed)

	var secondRaw, minuteRaw, hourRaw, domRaw, monthRaw, dowRaw, yearRaw string
	hasYear := false
	switch len(fields) {
	case 5:
		minuteRaw, hourRaw, domRaw, monthRaw, dowRaw = fields[0], fields[1], fields[2], fields[3], fields[4]
		secondRaw = "0"
	case 6:
		secondRaw, minuteRaw, hourRaw, domRaw, monthRaw, dowRaw = fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]
	case 7:
		secondRaw, minuteRaw, hourRaw, domRaw, monthRaw, dowRaw, yearRaw = fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]
		hasYear = true
	default:
		return nil, ErrFieldCount
	}

	second, err := parseList("second", secondRaw, 0, 59, nil, false)
	if err != nil {
		return nil, err
	}
	minute, err := parseList("minute", minuteRaw, 0, 59, nil, false)
	if err != nil {
		return nil, err
	}
	hour, err := parseList("hour", hourRaw, 0, 23, nil, false)
	if err != nil {
		return nil, err
	}
	dom, err := parseDom(domRaw)
	if err != nil {
		return nil, err
	}
	month, err := parseList("month", monthRaw, 1, 12, monthNames, false)
	if err != nil {
		return nil, err
	}
	dow, err := parseDow(dowRaw)
	if err != nil {
		return nil, err
	}
	year := valueSet{any: true}
	if hasYear {
		year, err = parseList("year", yearRaw, 1970, 2200, nil, false)
		if err != nil {
			return nil, err
		}
	}

	return &Schedule{
		expr: trimmed, second: second, minute: minute, hour: hour,
		dom: dom, month: month, dow: dow, year: year, hasYear: hasYear,
	}, nil
}

// dayMatches combines dom/dow with conventional cron OR semantics: when
// both are restricted, either one matching is enough; when one is "*",
// only the other constrains the day.
func (s *Schedule) dayMatches(t time.Time) bool {
	domAny, dowAny := s.dom.isAny(), s.dow.isAny()
	switch {
	case domAny && dowAny:
		return true
	case domAny:
		return s.dow.matches(t)
	case dowAny:
		return s.dom.matches(t)
	default:
		return s.dom.matches(t) || s.dow.matches(t)
	}
}

// yearsToSearch bounds how far NextAfter will look before giving up, so
// an unsatisfiable expression (a skipped fifth Friday every month) cannot
// loop forever.
const yearsToSearch = 5

// NextAfter returns the first occurrence strictly after from, resolved in
// loc (from's own location if loc is nil). Month, then day, then hour,
// then minute, then second are
// each advanced to their next accepted value, restarting the coarser
// fields whenever a finer one wraps.
func (s *Schedule) NextAfter(from time.Time, loc *time.Location) (time.Time, error) {
	if loc != nil {
		from = from.In(loc)
	}
	t := from.Truncate(time.Second).Add(time.Second)
	yearLimit := t.Year() + yearsToSearch

WRAP:
	for {
		if t.Year() > yearLimit {
			return time.Time{}, ErrNoOccurrence
		}
		if s.hasYear && !s.year.has(t.Year()) {
			t = time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, t.Location())
			continue WRAP
		}
		if !s.month.has(int(t.Month())) {
			t = firstOfNextMonth(t)
			continue WRAP
		}

		for !s.dayMatches(t) {
			next := firstOfNextDay(t)
			if next.Month() != t.Month() {
				t = next
				continue WRAP
			}
			t = next
		}

		for !s.hour.has(t.Hour()) {
			next := t.Add(time.Hour)
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour(), 0, 0, 0, next.Location())
			if next.Day() != t.Day() || next.Month() != t.Month() {
				t = next
				continue WRAP
			}
			t = next
		}

		for !s.minute.has(t.Minute()) {
			next := t.Add(time.Minute)
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour(), next.Minute(), 0, 0, next.Location())
			if next.Hour() != t.Hour() || next.Day() != t.Day() {
				t = next
				continue WRAP
			}
			t = next
		}

		for !s.second.has(t.Second()) {
			next := t.Add(time.Second)
			if next.Minute() != t.Minute() || next.Hour() != t.Hour() {
				t = next
				continue WRAP
			}
			t = next
		}

		return t, nil
	}
}

func firstOfNextMonth(t time.Time) time.Time {
	year, month, _ := t.Date()
	if month == time.December {
		return time.Date(year+1, time.January, 1, 0, 0, 0, 0, t.Location())
	}
	return time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
}

func firstOfNextDay(t time.Time) time.Time {
	year, month, day := t.Date()
	// time.Date normalizes day+1 overflow into the next month, handling
	// both calendar rollover and "spring forward" DST gaps at midnight.
	return time.Date(year, month, day+1, 0, 0, 0, 0, t.Location())
}

// Occurrences returns every matching instant in (from, to], resolved in
// loc.
func (s *Schedule) Occurrences(from, to time.Time, loc *time.Location) ([]time.Time, error) {
	if loc != nil {
		from = from.In(loc)
		to = to.In(loc)
	}
	var out []time.Time
	t := from
	for {
		next, err := s.NextAfter(t, nil)
		if err != nil || next.After(to) {
			break
		}
		out = append(out, next)
		t = next
	}
	return out, nil
}

// String returns the original expression.
func (s *Schedule) String() string { return s.expr }
