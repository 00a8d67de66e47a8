// Package recurrence expands recurrence descriptors into concrete
// occurrences inside a query window.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Window is the half-open query window [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Occurrence is one concrete (start, end) instance. Weekly and daily
// expansion emit placeholder instants (End == Start); the real end is
// assigned by the time-of-day rule at projection time.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Descriptor is the recurrence shape of an item or item event. An empty
// weekday set means a single span from Start to End.
type Descriptor struct {
	Start    *time.Time
	End      *time.Time
	Weekdays []time.Weekday
}

// Expander turns descriptors into occurrences in a fixed location.
type Expander struct {
	loc *time.Location
}

// NewExpander returns an expander emitting occurrences in loc.
func NewExpander(loc *time.Location) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	return &Expander{loc: loc}
}

// Expand produces occurrences for the descriptor inside the window.
//
// Without a weekday set it emits the descriptor's own single span (the
// caller clamps it into the window). With a weekday set it emits one
// occurrence per weekday per week, starting at the first occurrence on or
// after the window start and stopping before the window end.
func (e *Expander) Expand(d Descriptor, w Window) ([]Occurrence, error) {
	if len(d.Weekdays) == 0 {
		start := w.Start
		if d.Start != nil {
			start = d.Start.In(e.loc)
		}
		end := start
		if d.End != nil {
			end = d.End.In(e.loc)
		}
		return []Occurrence{{Start: start, End: end}}, nil
	}

	anchor := w.Start
	if d.Start != nil && d.Start.After(w.Start) {
		anchor = d.Start.In(e.loc)
	}

	days := make([]rrule.Weekday, 0, len(d.Weekdays))
	for _, wd := range d.Weekdays {
		days = append(days, rruleWeekday(wd))
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   anchor.In(e.loc),
		Byweekday: days,
	})
	if err != nil {
		return nil, fmt.Errorf("build weekly rule: %w", err)
	}

	// Between is inclusive on both bounds; shave the end to keep the
	// window half-open.
	starts := rule.Between(w.Start, w.End.Add(-time.Nanosecond), true)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		s = s.In(e.loc)
		out = append(out, Occurrence{Start: s, End: s})
	}
	return out, nil
}

// Daily emits one placeholder occurrence per calendar day in the window.
// Used as the baseline fallback for eligible items with no event coverage,
// and to split booking spans into day-granularity occurrences.
func (e *Expander) Daily(w Window) []Occurrence {
	var out []Occurrence
	for cur := w.Start.In(e.loc); cur.Before(w.End); cur = cur.AddDate(0, 0, 1) {
		out = append(out, Occurrence{Start: cur, End: cur})
	}
	return out
}

// DaySplit converts an arbitrary [start, end) span into day-stepped
// occurrences. A span that is not strictly positive still yields its start
// day, so a degenerate booking line is never dropped silently.
func (e *Expander) DaySplit(start, end time.Time) []Occurrence {
	start = start.In(e.loc)
	end = end.In(e.loc)
	if !start.Before(end) {
		return []Occurrence{{Start: start, End: start}}
	}
	var out []Occurrence
	for cur := start; cur.Before(end); cur = cur.AddDate(0, 0, 1) {
		out = append(out, Occurrence{Start: cur, End: cur})
	}
	return out
}

func rruleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}
