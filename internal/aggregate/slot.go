// Package aggregate merges availability occurrences and booking line items
// into per-(SKU, date) slot aggregates and projects them into flat records.
package aggregate

import (
	"time"

	"bookmirror/internal/models"
)

// Key identifies a slot aggregate: one aggregate exists per (SKU, date)
// within a run.
type Key struct {
	SKU  string
	Date string // YYYY-MM-DD
}

// KeyOf derives the aggregate key for an occurrence start.
func KeyOf(sku string, start time.Time) Key {
	return Key{SKU: sku, Date: start.Format("2006-01-02")}
}

// Slot is the per-(SKU, date) aggregate. Capacity and the unlimited flag are
// fixed at first creation; Start/End may only be widened by later inputs.
// The time-of-day override is applied later, once, at projection.
type Slot struct {
	SKU       string
	Date      string
	Start     time.Time
	End       time.Time
	Capacity  *int // nil means unknown
	Unlimited bool
	Item      *models.Item // nil when a booking references an unknown SKU

	Lines     []models.BookingLine
	Customers map[string]*models.Customer
}

func newSlot(sku string, occ occurrenceBounds, item *models.Item) *Slot {
	s := &Slot{
		SKU:       sku,
		Date:      occ.start.Format("2006-01-02"),
		Start:     occ.start,
		End:       occ.end,
		Item:      item,
		Customers: make(map[string]*models.Customer),
	}
	if item != nil {
		s.Capacity = item.Stock
		s.Unlimited = item.Unlimited
	}
	return s
}

type occurrenceBounds struct {
	start time.Time
	end   time.Time
}

// Widen extends the slot's bounds to cover the given span. Bounds are never
// narrowed.
func (s *Slot) Widen(start, end time.Time) {
	if !start.IsZero() && start.Before(s.Start) {
		s.Start = start
	}
	if end.After(s.End) {
		s.End = end
	}
}

// TotalBooked is the sum of quantities over the attached line items.
func (s *Slot) TotalBooked() int {
	total := 0
	for i := range s.Lines {
		total += s.Lines[i].Qty
	}
	return total
}
