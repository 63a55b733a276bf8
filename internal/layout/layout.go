// Package layout places a day's timed events on the dashboard time grid.
//
// Overlapping events are packed into parallel columns so that no two
// overlapping events share a column. Every event in a connected run of
// overlaps gets the same column count, so widths line up across the run.
// Compute is a pure function and is recomputed on every render.
package layout

import (
	"sort"
	"time"

	"github.com/dukerupert/homeboard/internal/model"
)

// minSpan is the packing length of a zero-duration event.
const minSpan = time.Minute

// Grid describes the rendered day.
type Grid struct {
	Day           time.Time
	Location      *time.Location
	StartHour     int
	EndHour       int
	PixelsPerHour float64
	// MinHeight is the smallest rendered height in pixels.
	MinHeight float64
}

func (g Grid) withDefaults() Grid {
	if g.Location == nil {
		g.Location = time.UTC
	}
	if g.EndHour <= g.StartHour {
		g.StartHour, g.EndHour = 0, 24
	}
	if g.PixelsPerHour <= 0 {
		g.PixelsPerHour = 60
	}
	return g
}

// Bounds returns the visible window of the grid.
func (g Grid) Bounds() (time.Time, time.Time) {
	g = g.withDefaults()
	y, m, d := g.Day.In(g.Location).Date()
	// Wall-clock hours, so a DST day is 23 or 25 hours tall.
	start := time.Date(y, m, d, g.StartHour, 0, 0, 0, g.Location)
	end := time.Date(y, m, d, g.EndHour, 0, 0, 0, g.Location)
	return start, end
}

// Height is the rendered height of the whole grid in pixels.
func (g Grid) Height() float64 {
	start, end := g.Bounds()
	return end.Sub(start).Hours() * g.withDefaults().PixelsPerHour
}

// Position is where one event is drawn. Left and Width are fractions of
// the day column; Top and Height are pixels from the top of the grid.
type Position struct {
	Column       int     `json:"column"`
	ColumnCount  int     `json:"column_count"`
	Top          float64 `json:"top"`
	Height       float64 `json:"height"`
	Left         float64 `json:"left"`
	Width        float64 `json:"width"`
	ClippedStart bool    `json:"clipped_start"`
	ClippedEnd   bool    `json:"clipped_end"`
}

type item struct {
	ev    *model.CalendarEvent
	start time.Time
	end   time.Time
}

// Compute returns a position for every timed event visible on the grid,
// keyed by event ID. All-day events and events outside the grid's hours
// are left out. Stored times are never modified.
func Compute(events []model.CalendarEvent, g Grid) map[int64]Position {
	g = g.withDefaults()
	winStart, winEnd := g.Bounds()

	items := make([]item, 0, len(events))
	for i := range events {
		ev := &events[i]
		if ev.AllDay {
			continue
		}
		end := ev.EndTime
		if end.Sub(ev.StartTime) < minSpan {
			end = ev.StartTime.Add(minSpan)
		}
		if !ev.StartTime.Before(winEnd) || !end.After(winStart) {
			continue
		}
		items = append(items, item{ev: ev, start: ev.StartTime, end: end})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		if !a.end.Equal(b.end) {
			return a.end.Before(b.end)
		}
		return a.ev.ID < b.ev.ID
	})

	out := make(map[int64]Position, len(items))
	columns := make([]int, len(items))

	// Items are sorted by start, so a component closes once the next item
	// starts at or after the latest end seen in it.
	var colEnds []time.Time
	var compEnd time.Time
	compStart := 0
	closeComponent := func(upTo int) {
		count := 0
		for k := compStart; k < upTo; k++ {
			if columns[k]+1 > count {
				count = columns[k] + 1
			}
		}
		for k := compStart; k < upTo; k++ {
			out[items[k].ev.ID] = g.position(items[k], columns[k], count, winStart, winEnd)
		}
	}

	for i, it := range items {
		if i > compStart && !it.start.Before(compEnd) {
			closeComponent(i)
			compStart = i
			colEnds = colEnds[:0]
		}

		col := -1
		for c, end := range colEnds {
			if !end.After(it.start) {
				col = c
				break
			}
		}
		if col == -1 {
			col = len(colEnds)
			colEnds = append(colEnds, it.end)
		} else {
			colEnds[col] = it.end
		}
		columns[i] = col

		if i == compStart || it.end.After(compEnd) {
			compEnd = it.end
		}
	}
	if len(items) > 0 {
		closeComponent(len(items))
	}
	return out
}

func (g Grid) position(it item, column, count int, winStart, winEnd time.Time) Position {
	p := Position{
		Column:      column,
		ColumnCount: count,
		Left:        float64(column) / float64(count),
		Width:       1 / float64(count),
	}

	start, end := it.start, it.end
	if start.Before(winStart) {
		start = winStart
		p.ClippedStart = true
	}
	if end.After(winEnd) {
		end = winEnd
		p.ClippedEnd = true
	}

	p.Top = start.Sub(winStart).Hours() * g.PixelsPerHour
	p.Height = end.Sub(start).Hours() * g.PixelsPerHour
	if p.Height < g.MinHeight {
		p.Height = g.MinHeight
	}
	return p
}
