package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bookmirror/internal/events"
	"bookmirror/internal/interval"
	"bookmirror/internal/metrics"
	"bookmirror/internal/models"
	"bookmirror/internal/recurrence"
)

// Source is the read-only booking-source boundary the builder consumes.
// Implementations must fully drain pagination before returning.
type Source interface {
	ListItems(ctx context.Context) ([]models.Item, error)
	ListItemEvents(ctx context.Context) ([]models.ItemEvent, error)
	ListBookings(ctx context.Context, start, end time.Time) ([]models.BookingRef, error)
	GetBookingLines(ctx context.Context, code string) ([]models.BookingLine, error)
}

// CustomerLookup resolves customer records; lookups are memoized per run.
type CustomerLookup interface {
	Get(ctx context.Context, id string) (*models.Customer, error)
}

// Stats summarizes a build pass.
type Stats struct {
	Items    int
	Events   int
	Bookings int
	Skipped  int
}

// Builder runs the two aggregation passes: availability (events plus the
// daily baseline), then bookings overlaid on top.
type Builder struct {
	src       Source
	customers CustomerLookup
	expander  *recurrence.Expander
	logger    *zerolog.Logger
	bus       *events.EventBus
}

// NewBuilder constructs a builder. The expander's location defines the run
// timezone.
func NewBuilder(src Source, customers CustomerLookup, expander *recurrence.Expander, logger *zerolog.Logger) *Builder {
	return &Builder{src: src, customers: customers, expander: expander, logger: logger}
}

// UseBus publishes a diagnostic event for every skipped record.
func (b *Builder) UseBus(bus *events.EventBus) {
	b.bus = bus
}

// Build aggregates the window into at most one slot per (SKU, date).
// Per-record validation failures are absorbed with a diagnostic; transport
// failures abort the run.
func (b *Builder) Build(ctx context.Context, window recurrence.Window) (map[Key]*Slot, Stats, error) {
	var stats Stats

	items, err := b.src.ListItems(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("list items: %w", err)
	}
	itemsByID := make(map[string]*models.Item, len(items))
	itemsBySKU := make(map[string]*models.Item, len(items))
	for i := range items {
		itemsByID[items[i].ID] = &items[i]
		if items[i].SKU != "" {
			itemsBySKU[items[i].SKU] = &items[i]
		}
	}
	stats.Items = len(items)

	events, err := b.src.ListItemEvents(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("list item events: %w", err)
	}
	stats.Events = len(events)

	byItem, byCategory := interval.BuildUnavailability(events, window.End)
	resolver := interval.NewResolver(byItem, byCategory)

	slots := make(map[Key]*Slot)

	if err := b.availabilityPass(slots, events, itemsByID, resolver, window, &stats); err != nil {
		return nil, stats, err
	}
	b.dailyBaseline(slots, items, resolver, window)

	if err := b.bookingPass(ctx, slots, itemsBySKU, window, &stats); err != nil {
		return nil, stats, err
	}

	return slots, stats, nil
}

func (b *Builder) availabilityPass(slots map[Key]*Slot, events []models.ItemEvent, itemsByID map[string]*models.Item, resolver *interval.Resolver, window recurrence.Window, stats *Stats) error {
	for i := range events {
		ev := &events[i]
		if !ev.Enabled || ev.Unavailable() {
			continue
		}
		if ev.Start == nil {
			continue
		}
		if ev.End != nil && ev.End.Before(window.Start) {
			continue
		}

		occs, err := b.expander.Expand(recurrence.Descriptor{
			Start:    ev.Start,
			End:      ev.End,
			Weekdays: ev.Repeat,
		}, window)
		if err != nil {
			b.skip(stats, models.Skipf(models.SkipMalformed, "event %s: %v", ev.ID, err), "event")
			continue
		}

		for _, itemID := range ev.ItemIDs {
			item := itemsByID[itemID]
			if item == nil {
				// Likely an archived item still referenced by the event.
				continue
			}
			for _, occ := range occs {
				occ, ok := clampIntoWindow(occ, window)
				if !ok {
					continue
				}
				if resolver.Excluded(item.ID, item.CategoryID, effectiveSpan(occ)) {
					continue
				}
				b.seed(slots, item, occ)
			}
		}
	}
	return nil
}

// dailyBaseline seeds one slot per day for items that are independently
// available (not flagged unavailable, not unlimited, publicly visible) but
// may have no event coverage, so every eligible item gets baseline slots
// even with zero configured events.
func (b *Builder) dailyBaseline(slots map[Key]*Slot, items []models.Item, resolver *interval.Resolver, window recurrence.Window) {
	daily := b.expander.Daily(window)
	for i := range items {
		item := &items[i]
		if !item.BaselineEligible() || item.SKU == "" {
			continue
		}
		for _, occ := range daily {
			if resolver.Excluded(item.ID, item.CategoryID, effectiveSpan(occ)) {
				continue
			}
			b.seed(slots, item, occ)
		}
	}
}

func (b *Builder) bookingPass(ctx context.Context, slots map[Key]*Slot, itemsBySKU map[string]*models.Item, window recurrence.Window, stats *Stats) error {
	refs, err := b.src.ListBookings(ctx, window.Start, window.End)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	stats.Bookings = len(refs)

	for _, ref := range refs {
		lines, err := b.src.GetBookingLines(ctx, ref.Code)
		if err != nil {
			if se, ok := models.AsSkip(err); ok {
				b.skip(stats, se, "booking")
				continue
			}
			return fmt.Errorf("booking %s: %w", ref.Code, err)
		}

		var cust *models.Customer
		if ref.CustomerID != "" {
			cust, err = b.lookupCustomer(ctx, ref.CustomerID, stats)
			if err != nil {
				return err
			}
		}

		for _, line := range lines {
			if se := validateLine(&line); se != nil {
				b.skip(stats, se, "booking_line")
				continue
			}
			if !line.End.After(window.Start) || !line.Start.Before(window.End) {
				b.skip(stats, models.Skipf(models.SkipOutsideWindow, "booking %s line %s outside window", line.BookingID, line.LineID), "booking_line")
				continue
			}
			line.CustomerID = ref.CustomerID
			b.attachLine(slots, itemsBySKU, line, cust, window)
		}
	}
	return nil
}

// attachLine splits the line's reservation span into day occurrences and
// attaches the line to each day's aggregate, creating aggregates on demand
// for days with no configured event.
func (b *Builder) attachLine(slots map[Key]*Slot, itemsBySKU map[string]*models.Item, line models.BookingLine, cust *models.Customer, window recurrence.Window) {
	for _, occ := range b.expander.DaySplit(line.Start, line.End) {
		if !window.Contains(occ.Start) {
			continue
		}
		key := KeyOf(line.SKU, occ.Start)
		slot := slots[key]
		if slot == nil {
			item := itemsBySKU[line.SKU]
			slot = newSlot(line.SKU, occurrenceBounds{start: occ.Start, end: occ.End}, item)
			slots[key] = slot
			if b.logger != nil {
				b.logger.Debug().Str("sku", line.SKU).Str("date", slot.Date).Msg("slot created from booking")
			}
		} else {
			slot.Widen(occ.Start, occ.End)
		}

		attached := line
		attached.Start = occ.Start
		attached.End = occ.End
		slot.Lines = append(slot.Lines, attached)

		if cust != nil {
			slot.Customers[cust.ID] = cust
		}
	}
}

func (b *Builder) lookupCustomer(ctx context.Context, id string, stats *Stats) (*models.Customer, error) {
	cust, err := b.customers.Get(ctx, id)
	if err != nil {
		if se, ok := models.AsSkip(err); ok {
			// Missing referenced entity: aggregate best-effort without it.
			b.skip(stats, se, "customer")
			return nil, nil
		}
		return nil, fmt.Errorf("customer %s: %w", id, err)
	}
	return cust, nil
}

func (b *Builder) seed(slots map[Key]*Slot, item *models.Item, occ recurrence.Occurrence) {
	key := KeyOf(item.SKU, occ.Start)
	if slot, ok := slots[key]; ok {
		slot.Widen(occ.Start, occ.End)
		return
	}
	slots[key] = newSlot(item.SKU, occurrenceBounds{start: occ.Start, end: occ.End}, item)
}

func (b *Builder) skip(stats *Stats, se *models.SkipError, record string) {
	stats.Skipped++
	metrics.IncRecordSkipped(se.Reason)
	if b.logger != nil {
		b.logger.Warn().Str("record", record).Str("reason", se.Reason).Msg(se.Detail)
	}
	if b.bus != nil {
		b.bus.Publish(events.Event{Type: events.TypeRecordSkip, Fields: map[string]string{
			"record": record,
			"reason": se.Reason,
			"detail": se.Detail,
		}})
	}
}

// validateLine applies the explicit skip rules for booking lines; every
// dropped line is attributable to exactly one of them.
func validateLine(line *models.BookingLine) *models.SkipError {
	if line.StatusID == models.LineStatusVoid {
		return models.Skipf(models.SkipVoided, "booking %s line %s is void", line.BookingID, line.LineID)
	}
	if line.SKU == "" {
		return models.Skipf(models.SkipMissingSKU, "booking %s line %s has no sku", line.BookingID, line.LineID)
	}
	if line.Qty <= 0 {
		return models.Skipf(models.SkipZeroQty, "booking %s line %s qty %d", line.BookingID, line.LineID, line.Qty)
	}
	if line.Start.IsZero() || line.End.IsZero() {
		return models.Skipf(models.SkipMissingTimes, "booking %s line %s missing start/end", line.BookingID, line.LineID)
	}
	return nil
}

// clampIntoWindow pulls a single-span occurrence into the window; weekly and
// daily expansion already respect it.
func clampIntoWindow(occ recurrence.Occurrence, w recurrence.Window) (recurrence.Occurrence, bool) {
	if occ.Start.Before(w.Start) {
		occ.Start = w.Start
	}
	if !occ.Start.Before(w.End) {
		return occ, false
	}
	if occ.End.Before(occ.Start) {
		occ.End = occ.Start
	}
	return occ, true
}

// effectiveSpan widens a placeholder instant to a minimal non-empty span so
// same-day unavailability windows can exclude it.
func effectiveSpan(occ recurrence.Occurrence) interval.Span {
	end := occ.End
	if !end.After(occ.Start) {
		end = occ.Start.Add(time.Nanosecond)
	}
	return interval.Span{Start: occ.Start, End: end}
}
