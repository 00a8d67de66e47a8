package calendar

import (
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"bookmirror/internal/aggregate"
)

// Entry is one desired calendar event, keyed by the slot identity so re-runs
// find what they wrote before.
type Entry struct {
	Key         string
	Title       string
	Description string
	Location    string
	ColorID     string
	Start       time.Time
	End         time.Time
	Timezone    string
	Tags        []string
	Booked      int
	Capacity    *int
	Attendees   []string
	Reminders   []int // popup reminders in minutes, set on insert only
}

// Defaults hold configured event defaults applied when the slot itself
// carries nothing.
type Defaults struct {
	Location        string
	ReminderMinutes []int
}

// FromProjection maps a slot projection to its desired entry. tz labels the
// event times.
func FromProjection(p aggregate.Projection, tz string, def Defaults) Entry {
	title := p.ItemName
	if title == "" {
		title = p.SKU
	}
	capacity := p.TotalPlaces
	e := Entry{
		Key:       SlotKey(p.SKU, p.StartTime),
		Title:     title,
		Location:  def.Location,
		ColorID:   colorFor(p.TotalBooked, capacity),
		Start:     p.StartTime,
		End:       p.EndTime,
		Timezone:  tz,
		Tags:      p.Tags,
		Booked:    p.TotalBooked,
		Capacity:  capacity,
		Attendees: attendeesOf(p),
		Reminders: def.ReminderMinutes,
	}
	if !e.End.After(e.Start) {
		e.End = e.Start.Add(time.Hour)
	}
	return e
}

// SlotKey builds the stable identity for a slot's event.
func SlotKey(sku string, start time.Time) string {
	key := safeKeyPart(sku) + "_" + start.Format("2006_01_02_15_04")
	if len(key) > 256 {
		key = key[:256]
	}
	return key
}

func safeKeyPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// colorFor encodes utilization: green when untouched, red at or past
// capacity, orange in between. Unknown capacity gets no hint.
func colorFor(booked int, capacity *int) string {
	if capacity == nil {
		return ""
	}
	if booked <= 0 {
		return "2"
	}
	if booked >= *capacity {
		return "11"
	}
	return "6"
}

func attendeesOf(p aggregate.Projection) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range p.Customers {
		email := strings.ToLower(strings.TrimSpace(c.Email))
		if email == "" {
			continue
		}
		if _, dup := seen[email]; !dup {
			seen[email] = struct{}{}
			out = append(out, email)
		}
	}
	return out
}

// event renders the full desired body, used for inserts.
func (e Entry) event() *gcal.Event {
	ev := &gcal.Event{
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		ColorId:     e.ColorID,
		Start:       &gcal.EventDateTime{DateTime: e.Start.Format(time.RFC3339), TimeZone: e.Timezone},
		End:         &gcal.EventDateTime{DateTime: e.End.Format(time.RFC3339), TimeZone: e.Timezone},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: e.privateProps(),
		},
	}
	for _, email := range e.Attendees {
		ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: email})
	}
	if len(e.Reminders) > 0 {
		rem := &gcal.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		}
		for _, minutes := range e.Reminders {
			rem.Overrides = append(rem.Overrides, &gcal.EventReminder{Method: "popup", Minutes: int64(minutes)})
		}
		ev.Reminders = rem
	}
	return ev
}

func (e Entry) privateProps() map[string]string {
	capacity := ""
	if e.Capacity != nil {
		capacity = fmt.Sprintf("%d", *e.Capacity)
	}
	return map[string]string{
		markerKey:   markerValue,
		slotKeyProp: e.Key,
		"tags":      strings.Join(e.Tags, ","),
		"booked":    fmt.Sprintf("%d", e.Booked),
		"capacity":  capacity,
	}
}
