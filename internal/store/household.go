package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/homeboard/internal/model"
)

type HouseholdStore struct {
	db *sql.DB
}

func NewHouseholdStore(db *sql.DB) *HouseholdStore {
	return &HouseholdStore{db: db}
}

func scanHousehold(scanner interface{ Scan(...any) error }) (*model.Household, error) {
	var h model.Household
	err := scanner.Scan(&h.ID, &h.Name, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

const householdCols = `id, name, created_at, updated_at`

func (s *HouseholdStore) Create(name string) (*model.Household, error) {
	result, err := s.db.Exec(`INSERT INTO households (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert household: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *HouseholdStore) GetByID(id int64) (*model.Household, error) {
	row := s.db.QueryRow(`SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) List() ([]model.Household, error) {
	rows, err := s.db.Query(`SELECT ` + householdCols + ` FROM households ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer rows.Close()

	var households []model.Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan household: %w", err)
		}
		households = append(households, *h)
	}
	return households, rows.Err()
}

// ListIDs returns the id of every household, for the periodic sync sweep.
func (s *HouseholdStore) ListIDs() ([]int64, error) {
	households, err := s.List()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(households))
	for _, h := range households {
		ids = append(ids, h.ID)
	}
	return ids, nil
}
