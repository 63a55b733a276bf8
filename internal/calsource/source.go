// Package calsource fetches calendars and events from external providers.
// Every provider is read-only: nothing here writes back upstream.
package calsource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PlaceholderTitle replaces an empty upstream title.
const PlaceholderTitle = "(No title)"

// DateLayout is the layout of date-only event times.
const DateLayout = "2006-01-02"

var (
	// ErrAuthExpired means the provider rejected the token. The caller must
	// ask the household to reconnect; retrying with the same token is useless.
	ErrAuthExpired = errors.New("calendar authorization expired")
	// ErrCalendarNotFound means the calendar no longer exists upstream or is
	// no longer shared with the account.
	ErrCalendarNotFound = errors.New("calendar not found")
	// ErrUnknownProvider is returned by Registry.Get.
	ErrUnknownProvider = errors.New("unknown calendar provider")
)

// FetchError describes a failed request for one calendar.
type FetchError struct {
	Provider   string
	CalendarID string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s calendar %q: status %d: %v", e.Provider, e.CalendarID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s calendar %q: %v", e.Provider, e.CalendarID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Calendar is one calendar the account can read.
type Calendar struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	IsPrimary   bool   `json:"is_primary"`
}

// EventTime is either an instant or, for all-day events, a date.
type EventTime struct {
	DateTime time.Time
	Date     string
}

// IsDate reports whether the time is date-only.
func (t EventTime) IsDate() bool { return t.Date != "" }

// IsZero reports whether the time is absent.
func (t EventTime) IsZero() bool { return t.Date == "" && t.DateTime.IsZero() }

// Instant returns the time as an instant. Dates resolve to midnight UTC.
func (t EventTime) Instant() (time.Time, error) {
	if t.IsDate() {
		d, err := time.Parse(DateLayout, t.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", t.Date, err)
		}
		return d, nil
	}
	return t.DateTime.UTC(), nil
}

// RawEvent is an event as delivered by a provider, before translation into
// the local event model.
type RawEvent struct {
	ExternalID  string
	Title       string
	Description string
	Location    string
	Start       EventTime
	End         EventTime
}

// Source is a read-only calendar provider.
type Source interface {
	// Provider names the source, e.g. "google".
	Provider() string
	// NeedsToken reports whether calls require a household access token.
	NeedsToken() bool
	ListCalendars(ctx context.Context, token string) ([]Calendar, error)
	ListEvents(ctx context.Context, token, calendarID string, timeMin, timeMax time.Time) ([]RawEvent, error)
}

// Registry resolves provider names to sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Provider()] = s
}

func (r *Registry) Get(provider string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return s, nil
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
