package layout

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/homeboard/internal/model"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func ev(id int64, startH, startM, endH, endM int) model.CalendarEvent {
	return model.CalendarEvent{ID: id, Title: "event", StartTime: at(startH, startM), EndTime: at(endH, endM)}
}

func testGrid() Grid {
	return Grid{Day: day, Location: time.UTC, StartHour: 6, EndHour: 22, PixelsPerHour: 60, MinHeight: 20}
}

func TestComputeScenario(t *testing.T) {
	events := []model.CalendarEvent{
		ev(1, 9, 0, 10, 0),  // A
		ev(2, 9, 30, 10, 30), // B
		ev(3, 11, 0, 12, 0), // C
	}
	got := Compute(events, testGrid())
	require.Len(t, got, 3)

	assert.Equal(t, 0, got[1].Column)
	assert.Equal(t, 2, got[1].ColumnCount)
	assert.Equal(t, 1, got[2].Column)
	assert.Equal(t, 2, got[2].ColumnCount)
	assert.Equal(t, 0, got[3].Column)
	assert.Equal(t, 1, got[3].ColumnCount)

	assert.InDelta(t, 0.5, got[2].Left, 1e-9)
	assert.InDelta(t, 0.5, got[2].Width, 1e-9)
	assert.InDelta(t, 1.0, got[3].Width, 1e-9)
}

func TestComputeOffsets(t *testing.T) {
	got := Compute([]model.CalendarEvent{ev(1, 9, 30, 10, 45)}, testGrid())
	p := got[1]
	assert.InDelta(t, 210, p.Top, 1e-9, "3.5h below a 06:00 start")
	assert.InDelta(t, 75, p.Height, 1e-9)
	assert.False(t, p.ClippedStart)
	assert.False(t, p.ClippedEnd)
}

func TestComputeInputOrderIrrelevant(t *testing.T) {
	events := []model.CalendarEvent{
		ev(3, 11, 0, 12, 0),
		ev(2, 9, 30, 10, 30),
		ev(1, 9, 0, 10, 0),
	}
	got := Compute(events, testGrid())
	assert.Equal(t, 0, got[1].Column)
	assert.Equal(t, 1, got[2].Column)
	assert.Equal(t, 0, got[3].Column)
}

func TestComputeBackToBackShareColumn(t *testing.T) {
	got := Compute([]model.CalendarEvent{
		ev(1, 9, 0, 10, 0),
		ev(2, 10, 0, 11, 0),
	}, testGrid())
	assert.Equal(t, Position{Column: 0, ColumnCount: 1, Top: 180, Height: 60, Left: 0, Width: 1}, got[1])
	assert.Equal(t, 0, got[2].Column)
	assert.Equal(t, 1, got[2].ColumnCount)
}

func TestComputeTransitiveComponent(t *testing.T) {
	// A overlaps B, B overlaps C, A and C do not overlap. All three share
	// one component, which needs two columns.
	got := Compute([]model.CalendarEvent{
		ev(1, 9, 0, 10, 0),
		ev(2, 9, 30, 11, 0),
		ev(3, 10, 0, 12, 0),
		ev(4, 13, 0, 14, 0),
	}, testGrid())

	assert.Equal(t, 0, got[1].Column)
	assert.Equal(t, 1, got[2].Column)
	assert.Equal(t, 0, got[3].Column, "C reuses A's column")
	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, 2, got[id].ColumnCount, "event %d", id)
	}
	assert.Equal(t, 1, got[4].ColumnCount)
}

func TestComputeLongEventSpanningChain(t *testing.T) {
	// A long event overlapping a sequence of short ones: two columns, not
	// one per short event.
	got := Compute([]model.CalendarEvent{
		ev(1, 8, 0, 13, 0),
		ev(2, 8, 0, 9, 0),
		ev(3, 9, 0, 10, 0),
		ev(4, 10, 0, 11, 0),
	}, testGrid())

	for id := int64(1); id <= 4; id++ {
		assert.Equal(t, 2, got[id].ColumnCount, "event %d", id)
	}
	assert.Equal(t, 1, got[1].Column, "ties sort by end, so the short event packs first")
	assert.Equal(t, 0, got[2].Column)
	assert.Equal(t, 0, got[3].Column)
	assert.Equal(t, 0, got[4].Column)
}

func TestComputeThreeWay(t *testing.T) {
	got := Compute([]model.CalendarEvent{
		ev(1, 9, 0, 12, 0),
		ev(2, 9, 0, 12, 0),
		ev(3, 10, 0, 11, 0),
	}, testGrid())
	cols := map[int]bool{}
	for id := int64(1); id <= 3; id++ {
		assert.Equal(t, 3, got[id].ColumnCount)
		cols[got[id].Column] = true
	}
	assert.Len(t, cols, 3)
}

func TestComputeSkipsAllDay(t *testing.T) {
	allDay := model.CalendarEvent{ID: 9, AllDay: true, StartTime: day, EndTime: day.Add(24 * time.Hour)}
	got := Compute([]model.CalendarEvent{allDay, ev(1, 9, 0, 10, 0)}, testGrid())
	assert.NotContains(t, got, int64(9))
	assert.Equal(t, 1, got[1].ColumnCount)
}

func TestComputeZeroDuration(t *testing.T) {
	got := Compute([]model.CalendarEvent{
		ev(1, 9, 0, 9, 0),
		ev(2, 9, 0, 10, 0),
	}, testGrid())
	require.Contains(t, got, int64(1))
	assert.Equal(t, 2, got[1].ColumnCount, "a zero-length event still overlaps events at its instant")
	assert.InDelta(t, 20, got[1].Height, 1e-9, "clamped to the minimum height")
}

func TestComputeClipsToWindow(t *testing.T) {
	got := Compute([]model.CalendarEvent{
		ev(1, 5, 0, 7, 0),
		ev(2, 21, 0, 23, 30),
	}, testGrid())

	early := got[1]
	assert.True(t, early.ClippedStart)
	assert.False(t, early.ClippedEnd)
	assert.InDelta(t, 0, early.Top, 1e-9)
	assert.InDelta(t, 60, early.Height, 1e-9)

	late := got[2]
	assert.False(t, late.ClippedStart)
	assert.True(t, late.ClippedEnd)
	assert.InDelta(t, 900, late.Top, 1e-9)
	assert.InDelta(t, 60, late.Height, 1e-9)
}

func TestComputeLeavesStoredTimesAlone(t *testing.T) {
	events := []model.CalendarEvent{ev(1, 5, 0, 7, 0)}
	Compute(events, testGrid())
	assert.Equal(t, at(5, 0), events[0].StartTime)
	assert.Equal(t, at(7, 0), events[0].EndTime)
}

func TestComputeOmitsEventsOutsideWindow(t *testing.T) {
	got := Compute([]model.CalendarEvent{
		ev(1, 3, 0, 5, 0),
		ev(2, 22, 0, 23, 0),
		ev(3, 9, 0, 10, 0),
	}, testGrid())
	assert.NotContains(t, got, int64(1))
	assert.NotContains(t, got, int64(2))
	assert.Equal(t, 1, got[3].ColumnCount)
}

func TestComputeMultiDayEventClipped(t *testing.T) {
	e := model.CalendarEvent{ID: 1, StartTime: day.Add(-2 * time.Hour), EndTime: day.Add(30 * time.Hour)}
	got := Compute([]model.CalendarEvent{e}, testGrid())
	p := got[1]
	assert.True(t, p.ClippedStart)
	assert.True(t, p.ClippedEnd)
	assert.InDelta(t, 0, p.Top, 1e-9)
	assert.InDelta(t, testGrid().Height(), p.Height, 1e-9)
}

func TestComputeGridLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	g := Grid{Day: time.Date(2026, 3, 10, 0, 0, 0, 0, loc), Location: loc, StartHour: 8, EndHour: 18, PixelsPerHour: 60}
	// 14:00 UTC is 09:00 local.
	e := model.CalendarEvent{ID: 1, StartTime: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), EndTime: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	got := Compute([]model.CalendarEvent{e}, g)
	assert.InDelta(t, 60, got[1].Top, 1e-9)
}

func TestComputeEmpty(t *testing.T) {
	assert.Empty(t, Compute(nil, testGrid()))
}

func TestComputeRandomNoColumnOverlap(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 200; round++ {
		n := 1 + r.IntN(12)
		events := make([]model.CalendarEvent, n)
		for i := range events {
			start := 6*60 + r.IntN(14*60)
			length := r.IntN(180)
			events[i] = model.CalendarEvent{
				ID:        int64(i + 1),
				StartTime: day.Add(time.Duration(start) * time.Minute),
				EndTime:   day.Add(time.Duration(start+length) * time.Minute),
			}
		}
		got := Compute(events, testGrid())
		require.Len(t, got, n)

		for i := range events {
			a := events[i]
			pa := got[a.ID]
			require.Less(t, pa.Column, pa.ColumnCount)

			overlapsAny := false
			for j := range events {
				if i == j {
					continue
				}
				b := events[j]
				pb := got[b.ID]
				if overlap(a, b) {
					overlapsAny = true
					assert.NotEqual(t, pa.Column, pb.Column, "round %d: events %d and %d overlap in one column", round, a.ID, b.ID)
					assert.Equal(t, pa.ColumnCount, pb.ColumnCount, "round %d: overlapping events must share a width", round)
				}
			}
			if !overlapsAny {
				assert.Equal(t, 1, pa.ColumnCount, "round %d: event %d overlaps nothing", round, a.ID)
			}
		}
	}
}

func overlap(a, b model.CalendarEvent) bool {
	span := func(e model.CalendarEvent) (time.Time, time.Time) {
		if e.EndTime.Sub(e.StartTime) < minSpan {
			return e.StartTime, e.StartTime.Add(minSpan)
		}
		return e.StartTime, e.EndTime
	}
	as, ae := span(a)
	bs, be := span(b)
	return as.Before(be) && bs.Before(ae)
}
