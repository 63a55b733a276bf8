package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homeboard/internal/model"
)

// Sealer encrypts and decrypts stored provider tokens.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

// ConnectionStore keeps one access token per household and provider,
// encrypted at rest.
type ConnectionStore struct {
	db     *sql.DB
	sealer Sealer
}

func NewConnectionStore(db *sql.DB, sealer Sealer) *ConnectionStore {
	return &ConnectionStore{db: db, sealer: sealer}
}

// Save stores a token for the provider and clears any earlier invalidation.
func (s *ConnectionStore) Save(householdID int64, provider, token string) (*model.CalendarConnection, error) {
	enc, err := s.sealer.Seal(token)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO calendar_connections (household_id, provider, access_token_enc, connected_at, invalidated_at)
		 VALUES (?, ?, ?, ?, NULL)
		 ON CONFLICT(household_id, provider) DO UPDATE SET
		   access_token_enc = excluded.access_token_enc, connected_at = excluded.connected_at, invalidated_at = NULL`,
		householdID, provider, enc, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("save calendar connection: %w", err)
	}
	return s.Get(householdID, provider)
}

// Get returns the connection with its decrypted token, or nil if the
// household never connected the provider.
func (s *ConnectionStore) Get(householdID int64, provider string) (*model.CalendarConnection, error) {
	var c model.CalendarConnection
	var enc string
	var invalidatedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT household_id, provider, access_token_enc, connected_at, invalidated_at
		 FROM calendar_connections WHERE household_id = ? AND provider = ?`,
		householdID, provider,
	).Scan(&c.HouseholdID, &c.Provider, &enc, &c.ConnectedAt, &invalidatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query calendar connection: %w", err)
	}

	c.AccessToken, err = s.sealer.Open(enc)
	if err != nil {
		return nil, fmt.Errorf("open token: %w", err)
	}
	if invalidatedAt.Valid {
		t := invalidatedAt.Time.UTC()
		c.InvalidatedAt = &t
	}
	return &c, nil
}

// Token returns the usable token for the provider. It returns "" when the
// household is not connected or the provider rejected the stored token.
func (s *ConnectionStore) Token(ctx context.Context, householdID int64, provider string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := s.Get(householdID, provider)
	if err != nil {
		return "", err
	}
	if c == nil || c.NeedsReconnect() {
		return "", nil
	}
	return c.AccessToken, nil
}

// Invalidate marks the stored token as rejected by the provider.
func (s *ConnectionStore) Invalidate(ctx context.Context, householdID int64, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendar_connections SET invalidated_at = ? WHERE household_id = ? AND provider = ? AND invalidated_at IS NULL`,
		time.Now().UTC(), householdID, provider,
	)
	if err != nil {
		return fmt.Errorf("invalidate calendar connection: %w", err)
	}
	return nil
}

func (s *ConnectionStore) Delete(householdID int64, provider string) error {
	_, err := s.db.Exec(`DELETE FROM calendar_connections WHERE household_id = ? AND provider = ?`, householdID, provider)
	if err != nil {
		return fmt.Errorf("delete calendar connection: %w", err)
	}
	return nil
}

// List returns every connection of the household without tokens.
func (s *ConnectionStore) List(householdID int64) ([]model.CalendarConnection, error) {
	rows, err := s.db.Query(
		`SELECT household_id, provider, connected_at, invalidated_at
		 FROM calendar_connections WHERE household_id = ? ORDER BY provider`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("query calendar connections: %w", err)
	}
	defer rows.Close()

	var conns []model.CalendarConnection
	for rows.Next() {
		var c model.CalendarConnection
		var invalidatedAt sql.NullTime
		if err := rows.Scan(&c.HouseholdID, &c.Provider, &c.ConnectedAt, &invalidatedAt); err != nil {
			return nil, fmt.Errorf("scan calendar connection: %w", err)
		}
		if invalidatedAt.Valid {
			t := invalidatedAt.Time.UTC()
			c.InvalidatedAt = &t
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
