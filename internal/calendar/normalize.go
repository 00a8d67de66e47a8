package calendar

import (
	"sort"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

// view is the managed-field projection used for change detection. Fields the
// service never writes are excluded on purpose so human edits to them survive
// a sync.
type view struct {
	summary     string
	description string
	location    string
	colorID     string
	start       time.Time
	end         time.Time
	attendees   []string
	props       map[string]string
}

func viewOfEntry(e Entry) view {
	attendees := append([]string(nil), e.Attendees...)
	sort.Strings(attendees)
	return view{
		summary:     strings.TrimSpace(e.Title),
		description: strings.TrimRight(e.Description, " \t\n"),
		location:    e.Location,
		colorID:     e.ColorID,
		start:       e.Start.UTC(),
		end:         e.End.UTC(),
		attendees:   attendees,
		props:       e.privateProps(),
	}
}

func viewOfEvent(ev *gcal.Event) view {
	v := view{
		summary:     strings.TrimSpace(ev.Summary),
		description: strings.TrimRight(ev.Description, " \t\n"),
		location:    ev.Location,
		colorID:     ev.ColorId,
		start:       parseEventTime(ev.Start),
		end:         parseEventTime(ev.End),
		props:       map[string]string{},
	}
	if ev.ExtendedProperties != nil {
		for k, val := range ev.ExtendedProperties.Private {
			v.props[k] = val
		}
	}
	seen := make(map[string]struct{})
	for _, a := range ev.Attendees {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" {
			continue
		}
		if _, dup := seen[email]; !dup {
			seen[email] = struct{}{}
			v.attendees = append(v.attendees, email)
		}
	}
	sort.Strings(v.attendees)
	return v
}

// parseEventTime compares instants, not zone labels, so the same moment
// rendered in a different offset is not a spurious change.
func parseEventTime(edt *gcal.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t.UTC()
		}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// diff returns the patch body covering only fields that differ, or nil when
// the event already matches. Empty desired values are dropped from the patch
// rather than sent as clears.
func diff(current view, desired Entry) *gcal.Event {
	want := viewOfEntry(desired)
	patch := &gcal.Event{}
	changed := false

	if current.summary != want.summary && want.summary != "" {
		patch.Summary = want.summary
		changed = true
	}
	if current.description != want.description && want.description != "" {
		patch.Description = want.description
		changed = true
	}
	if current.location != want.location && want.location != "" {
		patch.Location = want.location
		changed = true
	}
	if current.colorID != want.colorID && want.colorID != "" {
		patch.ColorId = want.colorID
		changed = true
	}
	if !current.start.Equal(want.start) {
		patch.Start = &gcal.EventDateTime{DateTime: desired.Start.Format(time.RFC3339), TimeZone: desired.Timezone}
		changed = true
	}
	if !current.end.Equal(want.end) {
		patch.End = &gcal.EventDateTime{DateTime: desired.End.Format(time.RFC3339), TimeZone: desired.Timezone}
		changed = true
	}
	if !stringsEqual(current.attendees, want.attendees) && len(want.attendees) > 0 {
		for _, email := range want.attendees {
			patch.Attendees = append(patch.Attendees, &gcal.EventAttendee{Email: email})
		}
		changed = true
	}
	if propsDiffer(current.props, want.props) {
		patch.ExtendedProperties = &gcal.EventExtendedProperties{Private: want.props}
		changed = true
	}

	if !changed {
		return nil
	}
	return patch
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// propsDiffer only checks keys the desired side owns, leaving foreign private
// properties alone.
func propsDiffer(current, want map[string]string) bool {
	for k, v := range want {
		if current[k] != v {
			return true
		}
	}
	return false
}
