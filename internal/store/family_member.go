package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/homeboard/internal/model"
)

type FamilyMemberStore struct {
	db *sql.DB
}

func NewFamilyMemberStore(db *sql.DB) *FamilyMemberStore {
	return &FamilyMemberStore{db: db}
}

const familyMemberCols = `id, household_id, name, color, avatar_emoji, sort_order, created_at, updated_at`

func scanFamilyMember(scanner interface{ Scan(...any) error }) (*model.FamilyMember, error) {
	var m model.FamilyMember
	err := scanner.Scan(&m.ID, &m.HouseholdID, &m.Name, &m.Color, &m.AvatarEmoji, &m.SortOrder, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *FamilyMemberStore) Create(householdID int64, name, color, avatarEmoji string) (*model.FamilyMember, error) {
	var maxOrder int
	err := s.db.QueryRow("SELECT COALESCE(MAX(sort_order), -1) FROM family_members WHERE household_id = ?", householdID).Scan(&maxOrder)
	if err != nil {
		return nil, fmt.Errorf("query max sort_order: %w", err)
	}

	result, err := s.db.Exec(
		"INSERT INTO family_members (household_id, name, color, avatar_emoji, sort_order) VALUES (?, ?, ?, ?, ?)",
		householdID, name, color, avatarEmoji, maxOrder+1,
	)
	if err != nil {
		return nil, fmt.Errorf("insert family member: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(householdID, id)
}

func (s *FamilyMemberStore) List(householdID int64) ([]model.FamilyMember, error) {
	rows, err := s.db.Query(
		"SELECT "+familyMemberCols+" FROM family_members WHERE household_id = ? ORDER BY sort_order",
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("query family members: %w", err)
	}
	defer rows.Close()

	var members []model.FamilyMember
	for rows.Next() {
		m, err := scanFamilyMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *FamilyMemberStore) GetByID(householdID, id int64) (*model.FamilyMember, error) {
	row := s.db.QueryRow("SELECT "+familyMemberCols+" FROM family_members WHERE household_id = ? AND id = ?", householdID, id)
	m, err := scanFamilyMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query family member: %w", err)
	}
	return m, nil
}
