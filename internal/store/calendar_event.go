package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/homeboard/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicateExternal is returned when an external event with the same
	// (household, external id) pair already exists.
	ErrDuplicateExternal = errors.New("external event already exists")
	// ErrReadOnlyEvent is returned when the manual write path targets an
	// external event.
	ErrReadOnlyEvent = errors.New("external events are read-only")
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// EventInput carries the writable fields of an event.
type EventInput struct {
	Title          string
	Description    string
	Location       string
	StartTime      time.Time
	EndTime        time.Time
	AllDay         bool
	FamilyMemberID *int64
	Color          string
}

const eventCols = `e.id, e.household_id, e.title, e.description, e.location, e.start_time, e.end_time, e.all_day,
	e.family_member_id, COALESCE(NULLIF(e.color, ''), fm.color, ''), e.provenance,
	COALESCE(e.external_id, ''), COALESCE(e.external_calendar_id, ''), e.created_at, e.updated_at`

const eventFrom = `FROM calendar_events e LEFT JOIN family_members fm ON fm.id = e.family_member_id`

func scanEvent(scanner interface{ Scan(...any) error }) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	var allDayInt int
	var memberID sql.NullInt64
	var provenance string

	err := scanner.Scan(&e.ID, &e.HouseholdID, &e.Title, &e.Description, &e.Location, &e.StartTime, &e.EndTime, &allDayInt,
		&memberID, &e.Color, &provenance, &e.ExternalID, &e.ExternalCalendarID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.AllDay = allDayInt != 0
	e.Provenance = model.Provenance(provenance)
	if memberID.Valid {
		e.FamilyMemberID = &memberID.Int64
	}
	e.StartTime = e.StartTime.UTC()
	e.EndTime = e.EndTime.UTC()
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// Create inserts a manual event.
func (s *EventStore) Create(householdID int64, in EventInput) (*model.CalendarEvent, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO calendar_events (household_id, title, description, location, start_time, end_time, all_day, family_member_id, color, provenance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'manual', ?, ?)`,
		householdID, in.Title, in.Description, in.Location, in.StartTime.UTC(), in.EndTime.UTC(), boolInt(in.AllDay),
		nullID(in.FamilyMemberID), in.Color, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(householdID, id)
}

func (s *EventStore) GetByID(householdID, id int64) (*model.CalendarEvent, error) {
	row := s.db.QueryRow(`SELECT `+eventCols+` `+eventFrom+` WHERE e.household_id = ? AND e.id = ?`, householdID, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query calendar event: %w", err)
	}
	return e, nil
}

// ListByDateRange returns every event of the household overlapping [start, end),
// all-day events first. All-day events are stored as whole dates, so they
// match by the calendar dates the range covers in loc rather than by instant.
func (s *EventStore) ListByDateRange(householdID int64, start, end time.Time, loc *time.Location) ([]model.CalendarEvent, error) {
	dateStart, dateEnd := model.AllDayRange(start, end, loc)
	rows, err := s.db.Query(
		`SELECT `+eventCols+` `+eventFrom+`
		 WHERE e.household_id = ?
		   AND ((e.all_day = 0 AND e.start_time < ? AND e.end_time > ?)
		     OR (e.all_day = 1 AND e.start_time < ? AND e.end_time > ?))
		 ORDER BY e.all_day DESC, e.start_time ASC, e.id ASC`,
		householdID, end.UTC(), start.UTC(), dateEnd, dateStart,
	)
	if err != nil {
		return nil, fmt.Errorf("query calendar events: %w", err)
	}
	return collectEvents(rows)
}

// ListExternal returns every external event stored for the household.
func (s *EventStore) ListExternal(ctx context.Context, householdID int64) ([]model.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` `+eventFrom+`
		 WHERE e.household_id = ? AND e.provenance = 'external'
		 ORDER BY e.id`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("query external events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]model.CalendarEvent, error) {
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *EventStore) GetByExternalID(ctx context.Context, householdID int64, externalID string) (*model.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` `+eventFrom+` WHERE e.household_id = ? AND e.external_id = ?`,
		householdID, externalID,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query external event: %w", err)
	}
	return e, nil
}

// CreateExternal inserts an event mirrored from an external calendar. It
// returns ErrDuplicateExternal when another writer already stored the same
// external id for the household.
func (s *EventStore) CreateExternal(ctx context.Context, householdID int64, externalID, calendarID string, in EventInput) (int64, error) {
	if externalID == "" {
		return 0, errors.New("insert external event: empty external id")
	}
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (household_id, title, description, location, start_time, end_time, all_day, family_member_id, color, provenance, external_id, external_calendar_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'external', ?, ?, ?, ?)`,
		householdID, in.Title, in.Description, in.Location, in.StartTime.UTC(), in.EndTime.UTC(), boolInt(in.AllDay),
		nullID(in.FamilyMemberID), in.Color, externalID, calendarID, now, now,
	)
	if isUniqueViolation(err) {
		return 0, ErrDuplicateExternal
	}
	if err != nil {
		return 0, fmt.Errorf("insert external event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// UpdateExternal replaces the synced fields of an external event and
// refreshes updated_at.
func (s *EventStore) UpdateExternal(ctx context.Context, householdID, id int64, in EventInput) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE calendar_events
		 SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?, all_day = ?, family_member_id = ?, color = ?, updated_at = ?
		 WHERE household_id = ? AND id = ? AND provenance = 'external'`,
		in.Title, in.Description, in.Location, in.StartTime.UTC(), in.EndTime.UTC(), boolInt(in.AllDay),
		nullID(in.FamilyMemberID), in.Color, time.Now().UTC(), householdID, id,
	)
	if err != nil {
		return fmt.Errorf("update external event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update external event %d: not found", id)
	}
	return nil
}

// Update rewrites a manual event. External events return ErrReadOnlyEvent and
// a missing event returns (nil, nil).
func (s *EventStore) Update(householdID, id int64, in EventInput) (*model.CalendarEvent, error) {
	existing, err := s.GetByID(householdID, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if existing.IsExternal() {
		return nil, ErrReadOnlyEvent
	}

	_, err = s.db.Exec(
		`UPDATE calendar_events
		 SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?, all_day = ?, family_member_id = ?, color = ?, updated_at = ?
		 WHERE household_id = ? AND id = ? AND provenance = 'manual'`,
		in.Title, in.Description, in.Location, in.StartTime.UTC(), in.EndTime.UTC(), boolInt(in.AllDay),
		nullID(in.FamilyMemberID), in.Color, time.Now().UTC(), householdID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update calendar event: %w", err)
	}

	return s.GetByID(householdID, id)
}

// Delete removes a manual event. Deleting an external event returns
// ErrReadOnlyEvent.
func (s *EventStore) Delete(householdID, id int64) error {
	existing, err := s.GetByID(householdID, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.IsExternal() {
		return ErrReadOnlyEvent
	}
	_, err = s.db.Exec("DELETE FROM calendar_events WHERE household_id = ? AND id = ? AND provenance = 'manual'", householdID, id)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}
