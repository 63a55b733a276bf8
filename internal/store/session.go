package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/homeboard/internal/model"
)

const SessionDuration = 30 * 24 * time.Hour

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *SessionStore) Create(householdID int64) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO sessions (token, household_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, householdID, now.Add(SessionDuration), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &model.Session{ID: id, Token: token, HouseholdID: householdID, ExpiresAt: now.Add(SessionDuration), CreatedAt: now}, nil
}

// GetByToken returns the unexpired session for token, or nil.
func (s *SessionStore) GetByToken(token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRow(
		`SELECT id, token, household_id, expires_at, created_at FROM sessions WHERE token = ?`,
		token,
	).Scan(&sess.ID, &sess.Token, &sess.HouseholdID, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return &sess, nil
}

func (s *SessionStore) Delete(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired() error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	return nil
}
