package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gcal "google.golang.org/api/calendar/v3"

	"bookmirror/internal/events"
	"bookmirror/internal/metrics"
)

// Options tune one reconcile pass.
type Options struct {
	// DeleteOrphans removes owned events whose slot no longer exists.
	DeleteOrphans bool
	// DryRun logs decisions without mutating the calendar.
	DryRun bool
}

// Stats counts the actions of one reconcile pass.
type Stats struct {
	Inserted  int
	Patched   int
	Unchanged int
	Deleted   int
}

// Reconciler converges one calendar onto the desired entries. It lists the
// calendar once per run and performs at most one mutating call per entry key.
type Reconciler struct {
	api    EventsAPI
	logger *zerolog.Logger
	bus    *events.EventBus
}

func NewReconciler(api EventsAPI, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{api: api, logger: logger}
}

// UseBus publishes a diagnostic event whenever an insert races an existing
// event.
func (r *Reconciler) UseBus(bus *events.EventBus) {
	r.bus = bus
}

// Reconcile upserts every desired entry, then deletes orphans. Entries
// sharing a key collapse to the first occurrence.
func (r *Reconciler) Reconcile(ctx context.Context, calendarID string, desired []Entry, windowStart, windowEnd time.Time, opts Options) (Stats, error) {
	var stats Stats

	existing, err := r.api.List(ctx, calendarID,
		windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	if err != nil {
		return stats, err
	}

	byKey := make(map[string]*gcal.Event, len(existing))
	for _, ev := range existing {
		if key := eventSlotKey(ev); key != "" {
			byKey[key] = ev
		}
	}

	wanted := make(map[string]struct{}, len(desired))
	for _, entry := range desired {
		if _, dup := wanted[entry.Key]; dup {
			continue
		}
		wanted[entry.Key] = struct{}{}

		if err := r.upsert(ctx, calendarID, entry, byKey[entry.Key], opts, &stats); err != nil {
			return stats, err
		}
	}

	if opts.DeleteOrphans {
		for key, ev := range byKey {
			if _, keep := wanted[key]; keep {
				continue
			}
			if opts.DryRun {
				r.log().Info().Str("key", key).Str("calendar", calendarID).Msg("dry-run: would delete orphan")
				stats.Deleted++
				continue
			}
			if err := r.api.Delete(ctx, calendarID, ev.Id); err != nil {
				return stats, err
			}
			stats.Deleted++
			metrics.IncReconcileAction("delete")
			r.log().Info().Str("key", key).Str("calendar", calendarID).Msg("orphan deleted")
		}
	}

	return stats, nil
}

func (r *Reconciler) upsert(ctx context.Context, calendarID string, entry Entry, current *gcal.Event, opts Options, stats *Stats) error {
	if current == nil {
		if opts.DryRun {
			r.log().Info().Str("key", entry.Key).Msg("dry-run: would insert")
			stats.Inserted++
			return nil
		}
		_, err := r.api.Insert(ctx, calendarID, entry.event())
		if errors.Is(err, ErrConflict) {
			// Raced a concurrent writer; converge on what exists now.
			if r.bus != nil {
				r.bus.Publish(events.Event{Type: events.TypeSlotConflict, Fields: map[string]string{
					"key":      entry.Key,
					"calendar": calendarID,
				}})
			}
			refetched, ferr := r.findByKey(ctx, calendarID, entry.Key)
			if ferr != nil {
				return ferr
			}
			if refetched == nil {
				return fmt.Errorf("event %s: conflict but not found", entry.Key)
			}
			return r.patchIfChanged(ctx, calendarID, entry, refetched, stats)
		}
		if err != nil {
			return err
		}
		stats.Inserted++
		metrics.IncReconcileAction("insert")
		r.log().Info().Str("key", entry.Key).Str("calendar", calendarID).Msg("event inserted")
		return nil
	}

	if opts.DryRun {
		if patch := diff(viewOfEvent(current), entry); patch != nil {
			r.log().Info().Str("key", entry.Key).Msg("dry-run: would patch")
			stats.Patched++
		} else {
			stats.Unchanged++
		}
		return nil
	}
	return r.patchIfChanged(ctx, calendarID, entry, current, stats)
}

func (r *Reconciler) patchIfChanged(ctx context.Context, calendarID string, entry Entry, current *gcal.Event, stats *Stats) error {
	patch := diff(viewOfEvent(current), entry)
	if patch == nil {
		stats.Unchanged++
		metrics.IncReconcileAction("unchanged")
		return nil
	}
	if _, err := r.api.Patch(ctx, calendarID, current.Id, patch); err != nil {
		return err
	}
	stats.Patched++
	metrics.IncReconcileAction("patch")
	r.log().Info().Str("key", entry.Key).Str("calendar", calendarID).Msg("event patched")
	return nil
}

func (r *Reconciler) findByKey(ctx context.Context, calendarID, key string) (*gcal.Event, error) {
	events, err := r.api.List(ctx, calendarID, "", "")
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if eventSlotKey(ev) == key {
			return ev, nil
		}
	}
	return nil, nil
}

// Purge deletes every owned event in the window regardless of desired state.
func (r *Reconciler) Purge(ctx context.Context, calendarID string, windowStart, windowEnd time.Time, dryRun bool) (int, error) {
	existing, err := r.api.List(ctx, calendarID,
		windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, ev := range existing {
		if dryRun {
			r.log().Info().Str("event_id", ev.Id).Msg("dry-run: would purge")
			deleted++
			continue
		}
		if err := r.api.Delete(ctx, calendarID, ev.Id); err != nil {
			return deleted, err
		}
		deleted++
		metrics.IncReconcileAction("delete")
	}
	return deleted, nil
}

func (r *Reconciler) log() *zerolog.Logger {
	if r.logger != nil {
		return r.logger
	}
	nop := zerolog.Nop()
	return &nop
}

func eventSlotKey(ev *gcal.Event) string {
	if ev.ExtendedProperties == nil {
		return ""
	}
	return ev.ExtendedProperties.Private[slotKeyProp]
}
