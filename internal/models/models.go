package models

import (
	"strings"
	"time"
)

// Status and visibility codes used by the booking source API.
const (
	EventStatusUnavailable = "U"
	VisibilityPublic       = "*"
	LineStatusVoid         = "VOID"
)

// Item is a reservable catalog entry. Items are loaded once per run and
// indexed by ID and by SKU; they are immutable for the duration of a run.
type Item struct {
	ID         string
	SKU        string
	Name       string
	CategoryID string
	Stock      *int // nil means unknown
	Unlimited  bool
	Status     string
	Visibility string
	Repeat     []time.Weekday
	Start      *time.Time
	End        *time.Time
	Tags       []string
}

// BaselineEligible reports whether the item qualifies for baseline daily
// slots when no item event covers it: not flagged unavailable, not
// unlimited, and publicly visible.
func (i *Item) BaselineEligible() bool {
	return i.Status != EventStatusUnavailable && !i.Unlimited && i.Visibility == VisibilityPublic
}

// ItemEvent is a time-bounded availability or unavailability descriptor.
// End == nil means open-ended.
type ItemEvent struct {
	ID          string
	Enabled     bool
	Status      string
	ItemIDs     []string
	CategoryIDs []string
	Start       *time.Time
	End         *time.Time
	Repeat      []time.Weekday
}

// Unavailable reports whether the event blocks availability.
func (e *ItemEvent) Unavailable() bool {
	return e.Status == EventStatusUnavailable
}

// BookingRef is one row of the paginated booking index.
type BookingRef struct {
	Code       string
	CustomerID string
	StatusID   string
}

// BookingLine is one reserved quantity inside a booking. Start/End carry the
// line's reservation window; the aggregator rewrites them to per-occurrence
// bounds when attaching the line to a slot.
type BookingLine struct {
	BookingID  string
	LineID     string
	SKU        string
	Qty        int
	StatusID   string
	CustomerID string
	Start      time.Time
	End        time.Time
	Params     map[string]int
	Extra      map[string]any
}

// Customer is a referenced customer record. Meta is a free-form bag used to
// derive group labels and contact emails for rollups.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
	Meta  map[string]string
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// ParseWeekday maps a lowercase three-letter weekday code to a time.Weekday.
func ParseWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	return wd, ok
}
