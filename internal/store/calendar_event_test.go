package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/dukerupert/homeboard/internal/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestDB(t *testing.T) *EventStore {
	t.Helper()
	return NewEventStore(openTestDB(t))
}

func timed(title string, start, end time.Time) EventInput {
	return EventInput{Title: title, StartTime: start, EndTime: end}
}

func TestCreateAndGetByID(t *testing.T) {
	s := setupTestDB(t)

	start := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 5, 11, 0, 0, 0, time.UTC)

	event, err := s.Create(1, EventInput{Title: "Team Meeting", Description: "Weekly sync", Location: "Conference Room", StartTime: start, EndTime: end})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if event.Title != "Team Meeting" {
		t.Errorf("title = %q, want %q", event.Title, "Team Meeting")
	}
	if event.Description != "Weekly sync" {
		t.Errorf("description = %q, want %q", event.Description, "Weekly sync")
	}
	if event.Location != "Conference Room" {
		t.Errorf("location = %q, want %q", event.Location, "Conference Room")
	}
	if event.AllDay {
		t.Error("all_day should be false")
	}
	if event.Provenance != "manual" {
		t.Errorf("provenance = %q, want manual", event.Provenance)
	}
	if event.ExternalID != "" {
		t.Errorf("external_id = %q, want empty", event.ExternalID)
	}
	if !event.StartTime.Equal(start) || !event.EndTime.Equal(end) {
		t.Errorf("times = %v..%v, want %v..%v", event.StartTime, event.EndTime, start, end)
	}

	got, err := s.GetByID(1, event.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Title != "Team Meeting" {
		t.Errorf("got title = %q, want %q", got.Title, "Team Meeting")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := setupTestDB(t)

	got, err := s.GetByID(1, 999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent event")
	}
}

func TestGetByIDOtherHousehold(t *testing.T) {
	s := setupTestDB(t)
	if _, err := s.db.Exec("INSERT INTO households (id, name) VALUES (2, 'Other')"); err != nil {
		t.Fatalf("insert household: %v", err)
	}

	start := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	event, err := s.Create(1, timed("Private", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	got, err := s.GetByID(2, event.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got != nil {
		t.Error("event should not be visible to another household")
	}
}

func TestColorFromFamilyMember(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.db.Exec("INSERT INTO family_members (household_id, name, color, avatar_emoji, sort_order) VALUES (1, ?, ?, ?, ?)", "Alice", "#FF0000", "A", 0)
	if err != nil {
		t.Fatalf("insert family member: %v", err)
	}

	memberID := int64(1)
	start := time.Date(2026, 2, 5, 14, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 5, 15, 0, 0, 0, time.UTC)

	in := timed("Alice's Meeting", start, end)
	in.FamilyMemberID = &memberID
	event, err := s.Create(1, in)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if event.FamilyMemberID == nil || *event.FamilyMemberID != 1 {
		t.Errorf("family_member_id = %v, want 1", event.FamilyMemberID)
	}
	if event.Color != "#FF0000" {
		t.Errorf("color = %q, want member color #FF0000", event.Color)
	}

	in.Color = "#123456"
	explicit, err := s.Create(1, in)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if explicit.Color != "#123456" {
		t.Errorf("color = %q, want explicit #123456", explicit.Color)
	}
}

func TestListByDateRange(t *testing.T) {
	s := setupTestDB(t)

	for i, title := range []string{"Day 1 Event", "Day 2 Event", "Day 3 Event"} {
		start := time.Date(2026, 2, 5+i, 9, 0, 0, 0, time.UTC)
		if _, err := s.Create(1, timed(title, start, start.Add(time.Hour))); err != nil {
			t.Fatalf("create %q: %v", title, err)
		}
	}

	rangeStart := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	rangeEnd := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)

	events, err := s.ListByDateRange(1, rangeStart, rangeEnd, time.UTC)
	if err != nil {
		t.Fatalf("list by range: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Title != "Day 1 Event" {
		t.Errorf("first event = %q, want %q", events[0].Title, "Day 1 Event")
	}
	if events[1].Title != "Day 2 Event" {
		t.Errorf("second event = %q, want %q", events[1].Title, "Day 2 Event")
	}
}

func TestListByDateRangeAllDayFirst(t *testing.T) {
	s := setupTestDB(t)

	start := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)

	s.Create(1, timed("Morning Meeting", time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC), time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)))
	holiday := timed("Holiday", start, end)
	holiday.AllDay = true
	s.Create(1, holiday)

	events, err := s.ListByDateRange(1, start, end, time.UTC)
	if err != nil {
		t.Fatalf("list by range: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Title != "Holiday" {
		t.Errorf("first event = %q, want all-day event %q", events[0].Title, "Holiday")
	}
}

func TestListByDateRangeSpanningEvent(t *testing.T) {
	s := setupTestDB(t)

	s.Create(1, timed("Multi-day Event", time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)))

	events, err := s.ListByDateRange(1, time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC), time.UTC)
	if err != nil {
		t.Fatalf("list by range: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (spanning event)", len(events))
	}
}

func TestListByDateRangeAllDayMatchesCalendarDate(t *testing.T) {
	zones := []string{"America/Denver", "Europe/Berlin", "UTC"}
	for _, name := range zones {
		t.Run(name, func(t *testing.T) {
			loc, err := time.LoadLocation(name)
			if err != nil {
				t.Fatalf("load zone: %v", err)
			}
			s := setupTestDB(t)
			fair := timed("Fair", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
			fair.AllDay = true
			if _, err := s.Create(1, fair); err != nil {
				t.Fatalf("create: %v", err)
			}

			for _, tc := range []struct {
				day  int
				want int
			}{{15, 0}, {16, 1}, {17, 0}} {
				start := time.Date(2026, 10, tc.day, 0, 0, 0, 0, loc)
				events, err := s.ListByDateRange(1, start, start.AddDate(0, 0, 1), loc)
				if err != nil {
					t.Fatalf("list day %d: %v", tc.day, err)
				}
				if len(events) != tc.want {
					t.Errorf("2026-10-%d: got %d events, want %d", tc.day, len(events), tc.want)
				}
			}
		})
	}
}

func TestListByDateRangeTimedUsesLocalDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	s := setupTestDB(t)
	// 20:00 local on the 16th is already the 17th in UTC.
	start := time.Date(2026, 10, 16, 20, 0, 0, 0, loc)
	if _, err := s.Create(1, timed("Late Dinner", start, start.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}

	day := time.Date(2026, 10, 16, 0, 0, 0, 0, loc)
	events, err := s.ListByDateRange(1, day, day.AddDate(0, 0, 1), loc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events on the 16th, want 1", len(events))
	}
	next := day.AddDate(0, 0, 1)
	events, err = s.ListByDateRange(1, next, next.AddDate(0, 0, 1), loc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events on the 17th, want 0", len(events))
	}
}

func TestUpdate(t *testing.T) {
	s := setupTestDB(t)

	start := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	event, err := s.Create(1, timed("Original Title", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	newStart := time.Date(2026, 2, 5, 14, 0, 0, 0, time.UTC)
	newEnd := time.Date(2026, 2, 5, 15, 30, 0, 0, time.UTC)
	updated, err := s.Update(1, event.ID, EventInput{Title: "Updated Title", Description: "Added desc", Location: "New Location", StartTime: newStart, EndTime: newEnd, AllDay: true})
	if err != nil {
		t.Fatalf("update event: %v", err)
	}
	if updated.Title != "Updated Title" {
		t.Errorf("title = %q, want %q", updated.Title, "Updated Title")
	}
	if updated.Description != "Added desc" {
		t.Errorf("description = %q, want %q", updated.Description, "Added desc")
	}
	if updated.Location != "New Location" {
		t.Errorf("location = %q, want %q", updated.Location, "New Location")
	}
	if !updated.AllDay {
		t.Error("all_day should be true after update")
	}
}

func TestDelete(t *testing.T) {
	s := setupTestDB(t)

	start := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	event, err := s.Create(1, timed("To Delete", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	if err := s.Delete(1, event.ID); err != nil {
		t.Fatalf("delete event: %v", err)
	}

	got, err := s.GetByID(1, event.ID)
	if err != nil {
		t.Fatalf("get by id after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestFamilyMemberDeleteSetsNull(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.db.Exec("INSERT INTO family_members (household_id, name, color, avatar_emoji, sort_order) VALUES (1, ?, ?, ?, ?)", "Bob", "#00FF00", "B", 0)
	if err != nil {
		t.Fatalf("insert family member: %v", err)
	}

	memberID := int64(1)
	start := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	in := timed("Bob's Event", start, start.Add(time.Hour))
	in.FamilyMemberID = &memberID
	event, err := s.Create(1, in)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	if _, err := s.db.Exec("DELETE FROM family_members WHERE id = ?", memberID); err != nil {
		t.Fatalf("delete family member: %v", err)
	}

	got, err := s.GetByID(1, event.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got == nil {
		t.Fatal("event should still exist after member deletion")
	}
	if got.FamilyMemberID != nil {
		t.Errorf("family_member_id should be nil after member deletion, got %v", *got.FamilyMemberID)
	}
}

func TestCreateExternalAndLookup(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := s.CreateExternal(ctx, 1, "g1", "primary", timed("Soccer", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create external: %v", err)
	}

	got, err := s.GetByExternalID(ctx, 1, "g1")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if got == nil || got.ID != id {
		t.Fatalf("got %+v, want id %d", got, id)
	}
	if got.Provenance != "external" {
		t.Errorf("provenance = %q, want external", got.Provenance)
	}
	if got.ExternalCalendarID != "primary" {
		t.Errorf("external_calendar_id = %q, want primary", got.ExternalCalendarID)
	}

	missing, err := s.GetByExternalID(ctx, 1, "nope")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown external id")
	}
}

func TestCreateExternalDuplicate(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, err := s.CreateExternal(ctx, 1, "g1", "primary", timed("Soccer", start, start.Add(time.Hour))); err != nil {
		t.Fatalf("create external: %v", err)
	}

	_, err := s.CreateExternal(ctx, 1, "g1", "primary", timed("Soccer again", start, start.Add(time.Hour)))
	if !errors.Is(err, ErrDuplicateExternal) {
		t.Fatalf("second create err = %v, want ErrDuplicateExternal", err)
	}

	events, err := s.ListExternal(ctx, 1)
	if err != nil {
		t.Fatalf("list external: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d external events, want 1", len(events))
	}
}

func TestExternalIDScopedToHousehold(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	if _, err := s.db.Exec("INSERT INTO households (id, name) VALUES (2, 'Other')"); err != nil {
		t.Fatalf("insert household: %v", err)
	}

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, err := s.CreateExternal(ctx, 1, "g1", "primary", timed("Soccer", start, start.Add(time.Hour))); err != nil {
		t.Fatalf("create external household 1: %v", err)
	}
	if _, err := s.CreateExternal(ctx, 2, "g1", "primary", timed("Soccer", start, start.Add(time.Hour))); err != nil {
		t.Fatalf("create external household 2: %v", err)
	}
}

func TestUpdateExternal(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := s.CreateExternal(ctx, 1, "g1", "primary", timed("Soccer", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create external: %v", err)
	}

	if err := s.UpdateExternal(ctx, 1, id, timed("Soccer Practice", start, start.Add(time.Hour))); err != nil {
		t.Fatalf("update external: %v", err)
	}

	got, err := s.GetByID(1, id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Title != "Soccer Practice" {
		t.Errorf("title = %q, want %q", got.Title, "Soccer Practice")
	}
	if got.ExternalID != "g1" {
		t.Errorf("external_id = %q, want g1", got.ExternalID)
	}

	if err := s.UpdateExternal(ctx, 1, 999, timed("x", start, start)); err == nil {
		t.Error("expected error updating missing external event")
	}
}

func TestManualPathRejectsExternal(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := s.CreateExternal(ctx, 1, "g1", "primary", timed("Soccer", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create external: %v", err)
	}

	if _, err := s.Update(1, id, timed("Hacked", start, start.Add(time.Hour))); !errors.Is(err, ErrReadOnlyEvent) {
		t.Errorf("update err = %v, want ErrReadOnlyEvent", err)
	}
	if err := s.Delete(1, id); !errors.Is(err, ErrReadOnlyEvent) {
		t.Errorf("delete err = %v, want ErrReadOnlyEvent", err)
	}

	got, err := s.GetByID(1, id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got == nil || got.Title != "Soccer" {
		t.Errorf("external event changed: %+v", got)
	}
}

func TestListExternalExcludesManual(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Create(1, timed("Manual", start, start.Add(time.Hour)))
	s.CreateExternal(ctx, 1, "g1", "primary", timed("External", start, start.Add(time.Hour)))

	events, err := s.ListExternal(ctx, 1)
	if err != nil {
		t.Fatalf("list external: %v", err)
	}
	if len(events) != 1 || events[0].Title != "External" {
		t.Errorf("got %+v, want only the external event", events)
	}
}
