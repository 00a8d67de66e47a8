// Package service orchestrates full sync runs.
package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookmirror/internal/aggregate"
	"bookmirror/internal/calendar"
	"bookmirror/internal/config"
	"bookmirror/internal/events"
	"bookmirror/internal/export"
	"bookmirror/internal/metrics"
	"bookmirror/internal/recurrence"
	"bookmirror/internal/routing"
)

// RunOptions adjust a single run. Zero values take configuration defaults.
type RunOptions struct {
	StartOverride string // YYYY-MM-DD
	DaysOverride  int
	DryRun        bool
}

// Report summarizes one completed run.
type Report struct {
	RunID     string
	Window    recurrence.Window
	Slots     int
	Inserted  int
	Patched   int
	Unchanged int
	Deleted   int
	Skipped   int
	Duration  time.Duration
}

// Syncer wires the aggregation pipeline to calendar reconciliation. One run
// is single-threaded end to end and safe to repeat.
type Syncer struct {
	cfg       *config.Config
	loc       *time.Location
	builder   *aggregate.Builder
	projector *aggregate.Projector
	routes    *routing.Table
	api       calendar.EventsAPI
	bus       *events.EventBus
	logger    zerolog.Logger
}

func NewSyncer(cfg *config.Config, loc *time.Location, builder *aggregate.Builder, projector *aggregate.Projector, routes *routing.Table, api calendar.EventsAPI, bus *events.EventBus, logger zerolog.Logger) *Syncer {
	return &Syncer{
		cfg:       cfg,
		loc:       loc,
		builder:   builder,
		projector: projector,
		routes:    routes,
		api:       api,
		bus:       bus,
		logger:    logger,
	}
}

// Run executes one full sync: aggregate, project, route, reconcile.
func (s *Syncer) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	started := time.Now()
	runID := uuid.NewString()
	window, err := s.window(opts)
	if err != nil {
		return nil, err
	}

	log := s.logger.With().Str("run_id", runID).Logger()
	log.Info().
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Bool("dry_run", opts.DryRun).
		Msg("sync run started")
	s.publish(events.Event{Type: events.TypeRunStarted, RunID: runID})

	report, err := s.run(ctx, runID, window, opts, &log)
	if err != nil {
		metrics.IncSyncRun("error")
		s.publish(events.Event{Type: events.TypeRunFailed, RunID: runID, Fields: map[string]string{"error": err.Error()}})
		return nil, err
	}

	report.Duration = time.Since(started)
	metrics.IncSyncRun("success")
	metrics.ObserveRunDuration(report.Duration)
	s.publish(events.Event{Type: events.TypeRunFinished, RunID: runID, Fields: map[string]string{
		"slots":    strconv.Itoa(report.Slots),
		"inserted": strconv.Itoa(report.Inserted),
		"patched":  strconv.Itoa(report.Patched),
		"deleted":  strconv.Itoa(report.Deleted),
	}})
	log.Info().
		Int("slots", report.Slots).
		Int("inserted", report.Inserted).
		Int("patched", report.Patched).
		Int("unchanged", report.Unchanged).
		Int("deleted", report.Deleted).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("sync run finished")
	return report, nil
}

func (s *Syncer) run(ctx context.Context, runID string, window recurrence.Window, opts RunOptions, log *zerolog.Logger) (*Report, error) {
	records, stats, err := s.buildProjections(ctx, window)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   runID,
		Window:  window,
		Slots:   len(records),
		Skipped: stats.Skipped,
	}
	metrics.AddSlotsBuilt(len(records))

	reconciler := calendar.NewReconciler(s.api, log)
	reconciler.UseBus(s.bus)
	recOpts := calendar.Options{
		DeleteOrphans: s.cfg.DeleteOrphans(),
		DryRun:        opts.DryRun,
	}

	for _, calendarID := range s.routeAll(records) {
		entries := s.entriesFor(records, calendarID)
		cstats, err := reconciler.Reconcile(ctx, calendarID, entries, window.Start, window.End, recOpts)
		report.Inserted += cstats.Inserted
		report.Patched += cstats.Patched
		report.Unchanged += cstats.Unchanged
		report.Deleted += cstats.Deleted
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", calendarID, err)
		}
	}

	return report, nil
}

// Export builds the window's projections and writes them without touching
// any calendar. Format is "json" or "xlsx".
func (s *Syncer) Export(ctx context.Context, w io.Writer, format string, opts RunOptions) (int, error) {
	window, err := s.window(opts)
	if err != nil {
		return 0, err
	}
	records, _, err := s.buildProjections(ctx, window)
	if err != nil {
		return 0, err
	}
	switch format {
	case "xlsx":
		err = export.WriteWorkbook(w, records)
	case "", "json":
		err = export.WriteJSON(w, records)
	default:
		err = fmt.Errorf("unknown export format %q", format)
	}
	return len(records), err
}

// Purge deletes every owned event in the window from all configured
// calendars.
func (s *Syncer) Purge(ctx context.Context, opts RunOptions) (int, error) {
	window, err := s.window(opts)
	if err != nil {
		return 0, err
	}
	reconciler := calendar.NewReconciler(s.api, &s.logger)

	total := 0
	for _, calendarID := range s.allCalendars() {
		n, err := reconciler.Purge(ctx, calendarID, window.Start, window.End, opts.DryRun)
		total += n
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", calendarID, err)
		}
		s.logger.Info().Str("calendar", calendarID).Int("deleted", n).Msg("calendar purged")
	}
	return total, nil
}

func (s *Syncer) window(opts RunOptions) (recurrence.Window, error) {
	start, end, err := s.cfg.ResolveWindow(opts.StartOverride, opts.DaysOverride, s.loc)
	if err != nil {
		return recurrence.Window{}, err
	}
	return recurrence.Window{Start: start, End: end}, nil
}

func (s *Syncer) buildProjections(ctx context.Context, window recurrence.Window) ([]aggregate.Projection, aggregate.Stats, error) {
	slots, stats, err := s.builder.Build(ctx, window)
	if err != nil {
		return nil, stats, fmt.Errorf("aggregate: %w", err)
	}
	return s.projector.Project(slots), stats, nil
}

// routeAll returns each destination calendar once, preserving first-seen
// order across records.
func (s *Syncer) routeAll(records []aggregate.Projection) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, id := range s.routes.Resolve(rec.Tags) {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

func (s *Syncer) entriesFor(records []aggregate.Projection, calendarID string) []calendar.Entry {
	var out []calendar.Entry
	for _, rec := range records {
		for _, id := range s.routes.Resolve(rec.Tags) {
			if id == calendarID {
				out = append(out, calendar.FromProjection(rec, s.cfg.Timezone, calendar.Defaults{
					Location:        s.cfg.Calendar.DefaultLocation,
					ReminderMinutes: s.cfg.Calendar.ReminderMinutes,
				}))
				break
			}
		}
	}
	return out
}

func (s *Syncer) allCalendars() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(s.cfg.Calendar.DefaultCalendarID)
	for _, t := range s.cfg.Calendar.Targets {
		add(t.CalendarID)
	}
	return out
}

func (s *Syncer) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
