package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/homeboard/internal/model"
)

// SelectionStore persists the external calendars each household mirrors.
type SelectionStore struct {
	db *sql.DB
}

func NewSelectionStore(db *sql.DB) *SelectionStore {
	return &SelectionStore{db: db}
}

const selectionCols = `id, household_id, provider, calendar_id, display_name, family_member_id, color, created_at`

func scanSelection(scanner interface{ Scan(...any) error }) (*model.CalendarSelection, error) {
	var sel model.CalendarSelection
	var memberID sql.NullInt64
	err := scanner.Scan(&sel.ID, &sel.HouseholdID, &sel.Provider, &sel.CalendarID, &sel.DisplayName, &memberID, &sel.Color, &sel.CreatedAt)
	if err != nil {
		return nil, err
	}
	if memberID.Valid {
		sel.FamilyMemberID = &memberID.Int64
	}
	return &sel, nil
}

// List returns the household's selections in the order they were added.
func (s *SelectionStore) List(householdID int64) ([]model.CalendarSelection, error) {
	rows, err := s.db.Query(
		`SELECT `+selectionCols+` FROM calendar_selections WHERE household_id = ? ORDER BY id`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("query calendar selections: %w", err)
	}
	defer rows.Close()

	var selections []model.CalendarSelection
	for rows.Next() {
		sel, err := scanSelection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar selection: %w", err)
		}
		selections = append(selections, *sel)
	}
	return selections, rows.Err()
}

// Replace swaps the household's whole selection set in one transaction.
// Stored events from deselected calendars are kept.
func (s *SelectionStore) Replace(householdID int64, selections []model.CalendarSelection) ([]model.CalendarSelection, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calendar_selections WHERE household_id = ?`, householdID); err != nil {
		return nil, fmt.Errorf("clear calendar selections: %w", err)
	}

	for _, sel := range selections {
		_, err := tx.Exec(
			`INSERT INTO calendar_selections (household_id, provider, calendar_id, display_name, family_member_id, color)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(household_id, provider, calendar_id) DO UPDATE SET
			   display_name = excluded.display_name, family_member_id = excluded.family_member_id, color = excluded.color`,
			householdID, sel.Provider, sel.CalendarID, sel.DisplayName, nullID(sel.FamilyMemberID), sel.Color,
		)
		if err != nil {
			return nil, fmt.Errorf("insert calendar selection %q: %w", sel.CalendarID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit calendar selections: %w", err)
	}
	return s.List(householdID)
}
