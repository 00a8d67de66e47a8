package interval

import (
	"time"

	"bookmirror/internal/models"
)

// endOfDay normalizes an unavailability end to the last instant of its end
// date: 23:59:59.999999.
func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, t.Location())
}

// BuildUnavailability indexes unavailability windows by item ID and by
// category ID, built only from events that are enabled and flagged
// unavailable. Ends are normalized to the last instant of their end date; a
// missing end is treated as open and capped at windowEnd.
func BuildUnavailability(events []models.ItemEvent, windowEnd time.Time) (byItem, byCategory *Index) {
	byItem = NewIndex()
	byCategory = NewIndex()

	for i := range events {
		ev := &events[i]
		if !ev.Enabled || !ev.Unavailable() {
			continue
		}
		if ev.Start == nil {
			continue
		}
		// Only real end dates are day-normalized; an open end caps at the
		// window boundary itself.
		end := windowEnd
		if ev.End != nil {
			end = endOfDay(*ev.End)
		}
		span := Span{Start: *ev.Start, End: end}

		for _, id := range ev.ItemIDs {
			byItem.Add(id, span)
		}
		for _, id := range ev.CategoryIDs {
			byCategory.Add(id, span)
		}
	}
	return byItem, byCategory
}

// Resolver decides whether an occurrence is excluded by unavailability
// windows. An occurrence is excluded when it overlaps any window in the
// item's own list or any window in its category's list; both checks run.
type Resolver struct {
	byItem     *Index
	byCategory *Index
}

// NewResolver builds a resolver over the two unavailability indexes.
func NewResolver(byItem, byCategory *Index) *Resolver {
	return &Resolver{byItem: byItem, byCategory: byCategory}
}

// Excluded reports whether the occurrence span is blocked for the item.
func (r *Resolver) Excluded(itemID, categoryID string, s Span) bool {
	return r.byItem.AnyOverlap(itemID, s) || r.byCategory.AnyOverlap(categoryID, s)
}
