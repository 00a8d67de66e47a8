package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bookmirror/internal/events"
	"bookmirror/internal/models"
	"bookmirror/internal/recurrence"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListItems(ctx context.Context) ([]models.Item, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Item), args.Error(1)
}

func (m *mockSource) ListItemEvents(ctx context.Context) ([]models.ItemEvent, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.ItemEvent), args.Error(1)
}

func (m *mockSource) ListBookings(ctx context.Context, start, end time.Time) ([]models.BookingRef, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).([]models.BookingRef), args.Error(1)
}

func (m *mockSource) GetBookingLines(ctx context.Context, code string) ([]models.BookingLine, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BookingLine), args.Error(1)
}

type mockCustomers struct {
	mock.Mock
}

func (m *mockCustomers) Get(ctx context.Context, id string) (*models.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intp(v int) *int { return &v }

func window(start, end time.Time) recurrence.Window {
	return recurrence.Window{Start: start, End: end}
}

func newTestBuilder(src *mockSource, customers *mockCustomers) *Builder {
	return NewBuilder(src, customers, recurrence.NewExpander(time.UTC), nil)
}

func TestBuild_WeeklyEventWithUnavailability(t *testing.T) {
	// Mondays in [Jan 1, Jan 15) are Jan 6 and Jan 13; Jan 6 is blocked by
	// an unavailability window on the item.
	evStart := day(2025, 1, 1)
	blockStart := day(2025, 1, 6)
	blockEnd := day(2025, 1, 6)

	src := &mockSource{}
	customers := &mockCustomers{}
	src.On("ListItems", mock.Anything).Return([]models.Item{
		{ID: "item-1", SKU: "KAYAK", CategoryID: "cat-1", Stock: intp(5), Unlimited: true},
	}, nil)
	src.On("ListItemEvents", mock.Anything).Return([]models.ItemEvent{
		{
			ID: "ev-weekly", Enabled: true, Status: "A",
			ItemIDs: []string{"item-1"},
			Start:   &evStart,
			Repeat:  []time.Weekday{time.Monday},
		},
		{
			ID: "ev-block", Enabled: true, Status: models.EventStatusUnavailable,
			ItemIDs: []string{"item-1"},
			Start:   &blockStart,
			End:     &blockEnd,
		},
	}, nil)
	src.On("ListBookings", mock.Anything, mock.Anything, mock.Anything).Return([]models.BookingRef{}, nil)

	b := newTestBuilder(src, customers)
	slots, _, err := b.Build(context.Background(), window(day(2025, 1, 1), day(2025, 1, 15)))
	require.NoError(t, err)

	require.Len(t, slots, 1)
	slot, ok := slots[Key{SKU: "KAYAK", Date: "2025-01-13"}]
	require.True(t, ok, "only the unblocked Monday survives")
	assert.True(t, slot.Unlimited)
	assert.Equal(t, day(2025, 1, 13), slot.Start)
}

func TestBuild_DailyBaseline(t *testing.T) {
	src := &mockSource{}
	customers := &mockCustomers{}
	src.On("ListItems", mock.Anything).Return([]models.Item{
		{ID: "item-1", SKU: "TENT", Stock: intp(3), Visibility: models.VisibilityPublic},
		// Unlimited items get no baseline.
		{ID: "item-2", SKU: "HALL", Unlimited: true, Visibility: models.VisibilityPublic},
		// Hidden items get no baseline.
		{ID: "item-3", SKU: "VIP", Stock: intp(1), Visibility: "private"},
	}, nil)
	src.On("ListItemEvents", mock.Anything).Return([]models.ItemEvent{}, nil)
	src.On("ListBookings", mock.Anything, mock.Anything, mock.Anything).Return([]models.BookingRef{}, nil)

	b := newTestBuilder(src, customers)
	slots, _, err := b.Build(context.Background(), window(day(2025, 1, 1), day(2025, 1, 4)))
	require.NoError(t, err)

	assert.Len(t, slots, 3)
	for _, date := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		slot, ok := slots[Key{SKU: "TENT", Date: date}]
		if assert.True(t, ok, date) {
			assert.Equal(t, intp(3), slot.Capacity)
		}
	}
}

func TestBuild_BookingOverlay(t *testing.T) {
	evStart := day(2025, 1, 6)

	src := &mockSource{}
	customers := &mockCustomers{}
	src.On("ListItems", mock.Anything).Return([]models.Item{
		{ID: "item-1", SKU: "KAYAK", Stock: intp(5), Unlimited: true},
	}, nil)
	src.On("ListItemEvents", mock.Anything).Return([]models.ItemEvent{
		{
			ID: "ev", Enabled: true, Status: "A",
			ItemIDs: []string{"item-1"},
			Start:   &evStart,
			Repeat:  []time.Weekday{time.Monday},
		},
	}, nil)
	src.On("ListBookings", mock.Anything, mock.Anything, mock.Anything).Return([]models.BookingRef{
		{Code: "BK-1", CustomerID: "cust-1"},
	}, nil)
	src.On("GetBookingLines", mock.Anything, "BK-1").Return([]models.BookingLine{
		{
			BookingID: "BK-1", LineID: "1", SKU: "KAYAK", Qty: 2,
			Start: day(2025, 1, 6).Add(10 * time.Hour),
			End:   day(2025, 1, 6).Add(12 * time.Hour),
		},
	}, nil)
	customers.On("Get", mock.Anything, "cust-1").Return(&models.Customer{ID: "cust-1", Name: "Ada"}, nil)

	b := newTestBuilder(src, customers)
	slots, stats, err := b.Build(context.Background(), window(day(2025, 1, 1), day(2025, 1, 15)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Bookings)

	slot, ok := slots[Key{SKU: "KAYAK", Date: "2025-01-06"}]
	require.True(t, ok)
	assert.Equal(t, 2, slot.TotalBooked())
	require.Len(t, slot.Lines, 1)
	assert.Equal(t, "cust-1", slot.Lines[0].CustomerID)
	require.Contains(t, slot.Customers, "cust-1")
	assert.Equal(t, "Ada", slot.Customers["cust-1"].Name)
}

func TestBuild_BookingCreatesSlotOnDemand(t *testing.T) {
	src := &mockSource{}
	customers := &mockCustomers{}
	src.On("ListItems", mock.Anything).Return([]models.Item{
		{ID: "item-1", SKU: "KAYAK", Stock: intp(4), Unlimited: true},
	}, nil)
	src.On("ListItemEvents", mock.Anything).Return([]models.ItemEvent{}, nil)
	src.On("ListBookings", mock.Anything, mock.Anything, mock.Anything).Return([]models.BookingRef{
		{Code: "BK-9"},
	}, nil)
	src.On("GetBookingLines", mock.Anything, "BK-9").Return([]models.BookingLine{
		{
			BookingID: "BK-9", LineID: "1", SKU: "KAYAK", Qty: 1,
			Start: day(2025, 1, 3).Add(9 * time.Hour),
			End:   day(2025, 1, 3).Add(17 * time.Hour),
		},
	}, nil)

	b := newTestBuilder(src, customers)
	slots, _, err := b.Build(context.Background(), window(day(2025, 1, 1), day(2025, 1, 8)))
	require.NoError(t, err)

	slot, ok := slots[Key{SKU: "KAYAK", Date: "2025-01-03"}]
	require.True(t, ok, "booking on an uncovered day creates its slot")
	assert.Equal(t, intp(4), slot.Capacity, "capacity comes from the catalog item")
	assert.Equal(t, 1, slot.TotalBooked())
}

func TestBuild_SkipRules(t *testing.T) {
	src := &mockSource{}
	customers := &mockCustomers{}
	src.On("ListItems", mock.Anything).Return([]models.Item{
		{ID: "item-1", SKU: "KAYAK", Stock: intp(4), Unlimited: true},
	}, nil)
	src.On("ListItemEvents", mock.Anything).Return([]models.ItemEvent{}, nil)
	src.On("ListBookings", mock.Anything, mock.Anything, mock.Anything).Return([]models.BookingRef{
		{Code: "BK-1"},
	}, nil)
	src.On("GetBookingLines", mock.Anything, "BK-1").Return([]models.BookingLine{
		{BookingID: "BK-1", LineID: "1", SKU: "KAYAK", Qty: 1, StatusID: models.LineStatusVoid,
			Start: day(2025, 1, 2), End: day(2025, 1, 2).Add(time.Hour)},
		{BookingID: "BK-1", LineID: "2", SKU: "", Qty: 1,
			Start: day(2025, 1, 2), End: day(2025, 1, 2).Add(time.Hour)},
		{BookingID: "BK-1", LineID: "3", SKU: "KAYAK", Qty: 0,
			Start: day(2025, 1, 2), End: day(2025, 1, 2).Add(time.Hour)},
		{BookingID: "BK-1", LineID: "4", SKU: "KAYAK", Qty: 1},
		{BookingID: "BK-1", LineID: "5", SKU: "KAYAK", Qty: 1,
			Start: day(2025, 2, 2), End: day(2025, 2, 2).Add(time.Hour)},
	}, nil)

	b := newTestBuilder(src, customers)
	slots, stats, err := b.Build(context.Background(), window(day(2025, 1, 1), day(2025, 1, 8)))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Skipped)
	for key := range slots {
		assert.NotEqual(t, "2025-01-02", key.Date, "all lines for the day were skipped")
	}
}

func TestBuild_SkipsPublishedOnBus(t *testing.T) {
	src := &mockSource{}
	customers := &mockCustomers{}
	src.On("ListItems", mock.Anything).Return([]models.Item{}, nil)
	src.On("ListItemEvents", mock.Anything).Return([]models.ItemEvent{}, nil)
	src.On("ListBookings", mock.Anything, mock.Anything, mock.Anything).Return([]models.BookingRef{
		{Code: "BK-1"},
	}, nil)
	src.On("GetBookingLines", mock.Anything, "BK-1").Return([]models.BookingLine{
		{BookingID: "BK-1", LineID: "1", SKU: "KAYAK", Qty: 1, StatusID: models.LineStatusVoid,
			Start: day(2025, 1, 2), End: day(2025, 1, 2).Add(time.Hour)},
	}, nil)

	bus := events.NewEventBus()
	var got []events.Event
	bus.Subscribe(events.TypeRecordSkip, func(ev events.Event) error {
		got = append(got, ev)
		return nil
	})

	b := newTestBuilder(src, customers)
	b.UseBus(bus)
	_, stats, err := b.Build(context.Background(), window(day(2025, 1, 1), day(2025, 1, 8)))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, got, 1, "every skip is published")
	assert.Equal(t, models.SkipVoided, got[0].Fields["reason"])
	assert.Equal(t, "booking_line", got[0].Fields["record"])
}

func TestBuild_SkipTolerantLookups(t *testing.T) {
	src := &mockSource{}
	customers := &mockCustomers{}
	src.On("ListItems", mock.Anything).Return([]models.Item{}, nil)
	src.On("ListItemEvents", mock.Anything).Return([]models.ItemEvent{}, nil)
	src.On("ListBookings", mock.Anything, mock.Anything, mock.Anything).Return([]models.BookingRef{
		{Code: "BK-bad"},
		{Code: "BK-ok", CustomerID: "ghost"},
	}, nil)
	src.On("GetBookingLines", mock.Anything, "BK-bad").Return(nil, models.Skipf(models.SkipMalformed, "empty body"))
	src.On("GetBookingLines", mock.Anything, "BK-ok").Return([]models.BookingLine{
		{BookingID: "BK-ok", LineID: "1", SKU: "KAYAK", Qty: 1,
			Start: day(2025, 1, 2).Add(9 * time.Hour),
			End:   day(2025, 1, 2).Add(10 * time.Hour)},
	}, nil)
	customers.On("Get", mock.Anything, "ghost").Return(nil, models.Skipf(models.SkipNotFound, "customer ghost"))

	b := newTestBuilder(src, customers)
	slots, stats, err := b.Build(context.Background(), window(day(2025, 1, 1), day(2025, 1, 8)))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Skipped)
	slot, ok := slots[Key{SKU: "KAYAK", Date: "2025-01-02"}]
	require.True(t, ok, "the valid line still lands")
	assert.Empty(t, slot.Customers)
}
