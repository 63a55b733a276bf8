package model

import "time"

// Provenance records who owns an event record.
type Provenance string

const (
	// ProvenanceManual events are authored and mutated through the dashboard.
	ProvenanceManual Provenance = "manual"
	// ProvenanceExternal events mirror an external calendar and are only
	// written by the reconciliation engine.
	ProvenanceExternal Provenance = "external"
)

// Valid reports whether p is a known provenance.
func (p Provenance) Valid() bool {
	return p == ProvenanceManual || p == ProvenanceExternal
}

type CalendarEvent struct {
	ID                 int64      `json:"id"`
	HouseholdID        int64      `json:"household_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Location           string     `json:"location"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	AllDay             bool       `json:"all_day"`
	FamilyMemberID     *int64     `json:"family_member_id"`
	Color              string     `json:"color"`
	Provenance         Provenance `json:"provenance"`
	ExternalID         string     `json:"external_id,omitempty"`
	ExternalCalendarID string     `json:"external_calendar_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsExternal reports whether the event is owned by calendar sync.
func (e *CalendarEvent) IsExternal() bool {
	return e.Provenance == ProvenanceExternal
}

// IsAllDaySpan reports whether [start, end) should be treated as an all-day
// span: at least 24 hours long, or starting and ending on midnight in loc.
func IsAllDaySpan(start, end time.Time, loc *time.Location) bool {
	if !end.After(start) {
		return false
	}
	if end.Sub(start) >= 24*time.Hour {
		return true
	}
	if loc == nil {
		loc = time.UTC
	}
	return isMidnight(start.In(loc)) && isMidnight(end.In(loc))
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// AllDayRange anchors an all-day span to whole dates at midnight UTC: the
// start's calendar date in loc through the end's, exclusive. An end that is
// not on a date boundary rounds up to the next date, and the range always
// covers at least one date.
func AllDayRange(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	from := utcDate(start.In(loc))
	localEnd := end.In(loc)
	to := utcDate(localEnd)
	if !isMidnight(localEnd) {
		to = to.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		to = from.AddDate(0, 0, 1)
	}
	return from, to
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
