// Package recurrence expands a time zone plus six integer-set specifiers into
// an ordered stream of absolute timestamps.
package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/edvin/batchrun/internal/intset"
)

// Value ranges of the six fields. Weekdays count from Sunday = 0.
const (
	MinYear    = 1970
	MaxYear    = 2200
	MinMonth   = 1
	MaxMonth   = 12
	MinDay     = 1
	MaxDay     = 31
	MinWeekday = 0
	MaxWeekday = 6
	MinHour    = 0
	MaxHour    = 23
	MinMinute  = 0
	MaxMinute  = 59
)

var (
	ErrInvalidTimezone = errors.New("invalid time zone")
	ErrNaiveTimestamp  = errors.New("timestamp has no time zone")
)

// Specs holds the six specifier strings of a rule. Empty fields mean "*".
type Specs struct {
	Years       string
	Months      string
	DaysOfMonth string
	Weekdays    string
	Hours       string
	Minutes     string
}

// Rule is a parsed recurrence rule. Rules are immutable.
type Rule struct {
	Location    *time.Location
	Years       *intset.Spec
	Months      *intset.Spec
	DaysOfMonth *intset.Spec
	Weekdays    *intset.Spec
	Hours       *intset.Spec
	Minutes     *intset.Spec
}

// New parses specs into a Rule evaluated in loc.
func New(loc *time.Location, specs Specs) (*Rule, error) {
	if loc == nil {
		return nil, fmt.Errorf("%w: nil location", ErrInvalidTimezone)
	}

	r := &Rule{Location: loc}
	fields := []struct {
		name     string
		text     string
		min, max int
		dst      **intset.Spec
	}{
		{"years", specs.Years, MinYear, MaxYear, &r.Years},
		{"months", specs.Months, MinMonth, MaxMonth, &r.Months},
		{"days_of_month", specs.DaysOfMonth, MinDay, MaxDay, &r.DaysOfMonth},
		{"weekdays", specs.Weekdays, MinWeekday, MaxWeekday, &r.Weekdays},
		{"hours", specs.Hours, MinHour, MaxHour, &r.Hours},
		{"minutes", specs.Minutes, MinMinute, MaxMinute, &r.Minutes},
	}

	for _, f := range fields {
		text := f.text
		if text == "" {
			text = "*"
		}
		spec, err := intset.Parse(text, f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = spec
	}
	return r, nil
}

// LoadLocation loads an IANA time zone, mapping failures to ErrInvalidTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses an RFC 3339 timestamp. Inputs that parse only without a
// UTC offset are rejected with ErrNaiveTimestamp.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrNaiveTimestamp, s)
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: expected RFC 3339", s)
}

// Matches reports whether t, read in the rule's zone, satisfies all six fields.
func (r *Rule) Matches(t time.Time) bool {
	local := t.In(r.Location)
	y, m, d := local.Date()
	return r.Years.Contains(y) &&
		r.Months.Contains(int(m)) &&
		r.DaysOfMonth.Contains(d) &&
		r.Weekdays.Contains(int(local.Weekday())) &&
		r.Hours.Contains(local.Hour()) &&
		r.Minutes.Contains(local.Minute())
}

// Equal reports structural equality.
func (r *Rule) Equal(o *Rule) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Location.String() == o.Location.String() &&
		r.Years.Equal(o.Years) &&
		r.Months.Equal(o.Months) &&
		r.DaysOfMonth.Equal(o.DaysOfMonth) &&
		r.Weekdays.Equal(o.Weekdays) &&
		r.Hours.Equal(o.Hours) &&
		r.Minutes.Equal(o.Minutes)
}

// Events returns the ordered timestamps >= start. The sequence is lazy and
// may be ranged over any number of times.
func (r *Rule) Events(start time.Time) (iter.Seq[time.Time], error) {
	if start.IsZero() {
		return nil, ErrNaiveTimestamp
	}

	hours := r.Hours.Values()
	minutes := r.Minutes.Values()
	bothOnOverlap := len(hours) > 1

	return func(yield func(time.Time) bool) {
		local := start.In(r.Location)
		sy, sm, sd := local.Date()

		var prev map[int64]struct{}
		for year := range r.Years.From(sy) {
			months := r.Months.All()
			if year == sy {
				months = r.Months.From(int(sm))
			}
			for month := range months {
				days := r.DaysOfMonth.All()
				if year == sy && month == int(sm) {
					days = r.DaysOfMonth.From(sd)
				}
				last := daysIn(year, time.Month(month))
				for day := range days {
					if day > last {
						break
					}
					date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
					if !r.Weekdays.Contains(int(date.Weekday())) {
						continue
					}

					cur := make(map[int64]struct{})
					for _, t := range r.dayEvents(date, hours, minutes, bothOnOverlap, start) {
						key := t.UnixNano()
						if _, seen := prev[key]; seen {
							continue
						}
						if _, seen := cur[key]; seen {
							continue
						}
						cur[key] = struct{}{}
						if !yield(t) {
							return
						}
					}
					prev = cur
				}
			}
		}
	}, nil
}

// Next returns up to n events >= start.
func (r *Rule) Next(start time.Time, n int) ([]time.Time, error) {
	events, err := r.Events(start)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	if n <= 0 {
		return out, nil
	}
	for t := range events {
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (r *Rule) dayEvents(date time.Time, hours, minutes []int, bothOnOverlap bool, start time.Time) []time.Time {
	y, m, d := date.Date()
	var out []time.Time
	for _, h := range hours {
		for _, mi := range minutes {
			res := ResolveLocal(r.Location, y, m, d, h, mi)
			var candidates []time.Time
			switch res.Kind {
			case Ambiguous:
				candidates = []time.Time{res.Time}
				if bothOnOverlap {
					candidates = append(candidates, res.Standard)
				}
				candidates = slices.DeleteFunc(candidates, func(t time.Time) bool { return !r.Matches(t) })
			default:
				candidates = []time.Time{res.Time}
			}
			for _, t := range candidates {
				if !t.Before(start) {
					out = append(out, t)
				}
			}
		}
	}
	slices.SortStableFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
