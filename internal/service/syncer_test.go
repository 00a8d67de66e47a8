package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"

	"bookmirror/internal/aggregate"
	"bookmirror/internal/config"
	"bookmirror/internal/events"
	"bookmirror/internal/models"
	"bookmirror/internal/recurrence"
	"bookmirror/internal/routing"
)

type stubSource struct {
	items    []models.Item
	events   []models.ItemEvent
	bookings []models.BookingRef
	lines    map[string][]models.BookingLine
}

func (s *stubSource) ListItems(context.Context) ([]models.Item, error)           { return s.items, nil }
func (s *stubSource) ListItemEvents(context.Context) ([]models.ItemEvent, error) { return s.events, nil }
func (s *stubSource) ListBookings(context.Context, time.Time, time.Time) ([]models.BookingRef, error) {
	return s.bookings, nil
}
func (s *stubSource) GetBookingLines(_ context.Context, code string) ([]models.BookingLine, error) {
	return s.lines[code], nil
}

type stubCustomers struct{}

func (stubCustomers) Get(_ context.Context, id string) (*models.Customer, error) {
	return &models.Customer{ID: id, Name: "Customer " + id}, nil
}

type memCalendar struct {
	events map[string]map[string]*gcal.Event // calendarID -> eventID -> event
	nextID int
}

func newMemCalendar() *memCalendar {
	return &memCalendar{events: map[string]map[string]*gcal.Event{}}
}

func (m *memCalendar) cal(id string) map[string]*gcal.Event {
	if m.events[id] == nil {
		m.events[id] = map[string]*gcal.Event{}
	}
	return m.events[id]
}

func (m *memCalendar) List(_ context.Context, calendarID, _, _ string) ([]*gcal.Event, error) {
	var out []*gcal.Event
	for _, ev := range m.cal(calendarID) {
		out = append(out, ev)
	}
	return out, nil
}

func (m *memCalendar) Insert(_ context.Context, calendarID string, ev *gcal.Event) (*gcal.Event, error) {
	m.nextID++
	ev.Id = fmt.Sprintf("ev-%d", m.nextID)
	m.cal(calendarID)[ev.Id] = ev
	return ev, nil
}

func (m *memCalendar) Patch(_ context.Context, calendarID, eventID string, patch *gcal.Event) (*gcal.Event, error) {
	cur := m.cal(calendarID)[eventID]
	if cur == nil {
		return nil, fmt.Errorf("no event %s", eventID)
	}
	if patch.ColorId != "" {
		cur.ColorId = patch.ColorId
	}
	if patch.ExtendedProperties != nil {
		cur.ExtendedProperties = patch.ExtendedProperties
	}
	return cur, nil
}

func (m *memCalendar) Delete(_ context.Context, calendarID, eventID string) error {
	delete(m.cal(calendarID), eventID)
	return nil
}

func fixtureSyncer(t *testing.T, api *memCalendar) *Syncer {
	t.Helper()

	evStart := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	stock := 5
	src := &stubSource{
		items: []models.Item{
			{ID: "1", SKU: "KAYAK", Name: "Kayak", Stock: &stock, Unlimited: true, Tags: []string{"water"}},
		},
		events: []models.ItemEvent{
			{ID: "e1", Enabled: true, Status: "A", ItemIDs: []string{"1"},
				Start: &evStart, Repeat: []time.Weekday{time.Monday}},
		},
		bookings: []models.BookingRef{{Code: "BK-1", CustomerID: "77"}},
		lines: map[string][]models.BookingLine{
			"BK-1": {{
				BookingID: "BK-1", LineID: "1", SKU: "KAYAK", Qty: 2,
				Start: evStart.Add(10 * time.Hour), End: evStart.Add(12 * time.Hour),
			}},
		},
	}

	var cfg config.Config
	cfg.Timezone = "UTC"
	cfg.Window.Start = "2025-01-01"
	cfg.Window.Days = 14
	cfg.Rollups.GroupMetaKey = "group"
	cfg.Rollups.EmailMetaKey = "contact_email"
	cfg.Calendar.DefaultCalendarID = "cal-default"
	cfg.Calendar.Targets = []config.CalendarTarget{
		{Name: "water", CalendarID: "cal-water", Tags: []string{"water"}},
	}

	builder := aggregate.NewBuilder(src, stubCustomers{}, recurrence.NewExpander(time.UTC), nil)
	projector := aggregate.NewProjector(&cfg.TimeRules, "group", "contact_email")
	routes := routing.NewTable(cfg.Calendar)

	return NewSyncer(&cfg, time.UTC, builder, projector, routes, api, events.NewEventBus(), zerolog.Nop())
}

func TestRun_EndToEnd(t *testing.T) {
	api := newMemCalendar()
	s := fixtureSyncer(t, api)

	report, err := s.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// Mondays Jan 6 and Jan 13 in a two-week window.
	assert.Equal(t, 2, report.Slots)
	assert.Equal(t, 2, report.Inserted)
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, api.events["cal-water"], 2, "tagged slots route to the tag calendar")
	assert.Empty(t, api.events["cal-default"])

	// Re-running converges with no further mutations.
	report, err = s.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Inserted)
	assert.Equal(t, 2, report.Unchanged)
}

func TestExport_JSON(t *testing.T) {
	s := fixtureSyncer(t, newMemCalendar())

	var buf bytes.Buffer
	n, err := s.Export(context.Background(), &buf, "json", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "KAYAK", records[0]["sku"])
	assert.Equal(t, float64(2), records[0]["total_booked"])
}

func TestExport_UnknownFormat(t *testing.T) {
	s := fixtureSyncer(t, newMemCalendar())
	var buf bytes.Buffer
	_, err := s.Export(context.Background(), &buf, "csv", RunOptions{})
	assert.Error(t, err)
}

func TestPurge_AllCalendars(t *testing.T) {
	api := newMemCalendar()
	s := fixtureSyncer(t, api)

	_, err := s.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	n, err := s.Purge(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, api.events["cal-water"])
}

func TestRun_DryRun(t *testing.T) {
	api := newMemCalendar()
	s := fixtureSyncer(t, api)

	report, err := s.Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)
	assert.Empty(t, api.events["cal-water"], "dry run never mutates")
}
