package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/homeboard/internal/calsource"
	"github.com/dukerupert/homeboard/internal/model"
	"github.com/dukerupert/homeboard/internal/store"
)

var errInvalidEvent = errors.New("invalid event")

// Translate maps a raw upstream event onto the stored event shape, tagging
// it with the selection's assignee and color.
//
// All-day events are stored as whole dates at midnight UTC with an
// exclusive end date; a missing or empty date range lasts one day. Date-only
// starts are all-day, and so is an instant span that looks all-day in loc,
// anchored to its calendar dates in loc. Other instants are normalized to UTC.
func Translate(raw calsource.RawEvent, sel model.CalendarSelection, loc *time.Location) (store.EventInput, error) {
	var in store.EventInput
	if raw.ExternalID == "" {
		return in, fmt.Errorf("%w: missing external id", errInvalidEvent)
	}
	if raw.Start.IsZero() {
		return in, fmt.Errorf("%w: %s has no start", errInvalidEvent, raw.ExternalID)
	}

	start, err := raw.Start.Instant()
	if err != nil {
		return in, fmt.Errorf("%w: %s: %v", errInvalidEvent, raw.ExternalID, err)
	}
	end := start
	if !raw.End.IsZero() {
		end, err = raw.End.Instant()
		if err != nil {
			return in, fmt.Errorf("%w: %s: %v", errInvalidEvent, raw.ExternalID, err)
		}
	}
	if end.Before(start) {
		return in, fmt.Errorf("%w: %s ends before it starts", errInvalidEvent, raw.ExternalID)
	}

	switch {
	case raw.Start.IsDate():
		start, end = model.AllDayRange(start, end, time.UTC)
		in.AllDay = true
	case model.IsAllDaySpan(start, end, loc):
		start, end = model.AllDayRange(start, end, loc)
		in.AllDay = true
	}

	in.Title = raw.Title
	if strings.TrimSpace(in.Title) == "" {
		in.Title = calsource.PlaceholderTitle
	}
	in.Description = raw.Description
	in.Location = raw.Location
	in.StartTime = start
	in.EndTime = end
	in.FamilyMemberID = sel.FamilyMemberID
	in.Color = sel.Color
	return in, nil
}

// changed reports whether any synced field differs from the stored event.
// Location, assignee and color follow an update but never trigger one.
func changed(stored *model.CalendarEvent, in store.EventInput) bool {
	return stored.Title != in.Title ||
		!stored.StartTime.Equal(in.StartTime) ||
		!stored.EndTime.Equal(in.EndTime) ||
		stored.Description != in.Description
}
