package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExpand_WeeklyMondays(t *testing.T) {
	e := NewExpander(time.UTC)
	w := Window{Start: day(2025, 1, 1), End: day(2025, 1, 15)}

	occs, err := e.Expand(Descriptor{Weekdays: []time.Weekday{time.Monday}}, w)
	require.NoError(t, err)

	require.Len(t, occs, 2)
	assert.Equal(t, day(2025, 1, 6), occs[0].Start)
	assert.Equal(t, day(2025, 1, 13), occs[1].Start)
	for _, occ := range occs {
		assert.Equal(t, occ.Start, occ.End, "weekly occurrences are placeholders")
	}
}

func TestExpand_WeeklyRespectsHalfOpenWindow(t *testing.T) {
	e := NewExpander(time.UTC)
	// Window end lands exactly on a Monday; that Monday is out.
	w := Window{Start: day(2025, 1, 6), End: day(2025, 1, 13)}

	occs, err := e.Expand(Descriptor{Weekdays: []time.Weekday{time.Monday}}, w)
	require.NoError(t, err)

	require.Len(t, occs, 1)
	assert.Equal(t, day(2025, 1, 6), occs[0].Start)
}

func TestExpand_MultipleWeekdays(t *testing.T) {
	e := NewExpander(time.UTC)
	w := Window{Start: day(2025, 1, 1), End: day(2025, 1, 8)}

	occs, err := e.Expand(Descriptor{Weekdays: []time.Weekday{time.Wednesday, time.Friday}}, w)
	require.NoError(t, err)

	// Jan 1 is a Wednesday; the next Wednesday (Jan 8) sits on the
	// exclusive window end.
	require.Len(t, occs, 2)
	assert.Equal(t, day(2025, 1, 1), occs[0].Start)
	assert.Equal(t, day(2025, 1, 3), occs[1].Start)
}

func TestExpand_SingleSpan(t *testing.T) {
	e := NewExpander(time.UTC)
	w := Window{Start: day(2025, 1, 1), End: day(2025, 1, 8)}

	start := day(2025, 1, 2).Add(10 * time.Hour)
	end := day(2025, 1, 2).Add(12 * time.Hour)
	occs, err := e.Expand(Descriptor{Start: &start, End: &end}, w)
	require.NoError(t, err)

	require.Len(t, occs, 1)
	assert.Equal(t, start, occs[0].Start)
	assert.Equal(t, end, occs[0].End)
}

func TestExpand_SingleSpanDefaultsToWindowStart(t *testing.T) {
	e := NewExpander(time.UTC)
	w := Window{Start: day(2025, 1, 1), End: day(2025, 1, 8)}

	occs, err := e.Expand(Descriptor{}, w)
	require.NoError(t, err)

	require.Len(t, occs, 1)
	assert.Equal(t, w.Start, occs[0].Start)
	assert.Equal(t, w.Start, occs[0].End)
}

func TestDaily(t *testing.T) {
	e := NewExpander(time.UTC)
	occs := e.Daily(Window{Start: day(2025, 1, 1), End: day(2025, 1, 4)})

	require.Len(t, occs, 3)
	assert.Equal(t, day(2025, 1, 1), occs[0].Start)
	assert.Equal(t, day(2025, 1, 3), occs[2].Start)
}

func TestDaySplit(t *testing.T) {
	e := NewExpander(time.UTC)

	t.Run("multi-day span", func(t *testing.T) {
		occs := e.DaySplit(day(2025, 1, 1).Add(14*time.Hour), day(2025, 1, 3).Add(10*time.Hour))
		require.Len(t, occs, 2)
		assert.Equal(t, day(2025, 1, 1).Add(14*time.Hour), occs[0].Start)
		assert.Equal(t, day(2025, 1, 2).Add(14*time.Hour), occs[1].Start)
	})

	t.Run("degenerate span keeps the start day", func(t *testing.T) {
		at := day(2025, 1, 1).Add(9 * time.Hour)
		occs := e.DaySplit(at, at)
		require.Len(t, occs, 1)
		assert.Equal(t, at, occs[0].Start)
	})
}

func TestWindowContains(t *testing.T) {
	w := Window{Start: day(2025, 1, 1), End: day(2025, 1, 8)}

	assert.True(t, w.Contains(day(2025, 1, 1)))
	assert.True(t, w.Contains(day(2025, 1, 7)))
	assert.False(t, w.Contains(day(2025, 1, 8)))
	assert.False(t, w.Contains(day(2024, 12, 31)))
}
