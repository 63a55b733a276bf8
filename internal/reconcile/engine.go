// Package reconcile mirrors external calendars into the local event store.
//
// A run fetches every selected calendar, then creates events it has not
// seen, updates events whose title, times or description changed, and
// skips the rest. Stored external events missing from the fetch are left
// alone: a failed fetch or a deselected calendar never erases history.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/homeboard/internal/calsource"
	"github.com/dukerupert/homeboard/internal/model"
	"github.com/dukerupert/homeboard/internal/store"
)

// EventStore is the slice of the event store the engine writes through.
type EventStore interface {
	ListExternal(ctx context.Context, householdID int64) ([]model.CalendarEvent, error)
	GetByExternalID(ctx context.Context, householdID int64, externalID string) (*model.CalendarEvent, error)
	CreateExternal(ctx context.Context, householdID int64, externalID, calendarID string, in store.EventInput) (int64, error)
	UpdateExternal(ctx context.Context, householdID, id int64, in store.EventInput) error
}

// TokenProvider hands out provider tokens. Token returns "" when the
// household has no usable token.
type TokenProvider interface {
	Token(ctx context.Context, householdID int64, provider string) (string, error)
	Invalidate(ctx context.Context, householdID int64, provider string) error
}

// SourceLookup resolves a provider name to a calendar source.
type SourceLookup interface {
	Get(provider string) (calsource.Source, error)
}

// Window is the time range a run mirrors.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow covers now through now plus days.
func DefaultWindow(now time.Time, days int) Window {
	return Window{Start: now.UTC(), End: now.UTC().AddDate(0, 0, days)}
}

type Options struct {
	FetchTimeout         time.Duration
	WriteTimeout         time.Duration
	MaxConcurrentFetches int
	// Location decides whether an instant span is midnight-aligned.
	Location *time.Location
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxConcurrentFetches <= 0 {
		o.MaxConcurrentFetches = 4
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Engine struct {
	events  EventStore
	sources SourceLookup
	tokens  TokenProvider
	opts    Options
	logger  *slog.Logger
}

func NewEngine(events EventStore, sources SourceLookup, tokens TokenProvider, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		events:  events,
		sources: sources,
		tokens:  tokens,
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "reconcile"),
	}
}

type fetched struct {
	sel     model.CalendarSelection
	events  []calsource.RawEvent
	failure *Failure
}

// Reconcile runs one reconciliation for the household over w. It always
// returns a result; failures are recorded in it.
func (e *Engine) Reconcile(ctx context.Context, householdID int64, selections []model.CalendarSelection, w Window) *Result {
	res := &Result{
		RunID:       uuid.NewString(),
		HouseholdID: householdID,
		StartedAt:   e.opts.Now().UTC(),
		Calendars:   len(selections),
	}
	logger := e.logger.With("run_id", res.RunID, "household_id", householdID)

	batches := e.fetchAll(ctx, householdID, selections, w)
	for _, b := range batches {
		if b.failure != nil {
			res.addFailure(*b.failure)
			logger.Warn("calendar fetch failed",
				"provider", b.failure.Provider,
				"calendar_id", b.failure.CalendarID,
				"kind", b.failure.Kind,
				"error", b.failure.Err,
			)
			continue
		}
		res.Fetched += len(b.events)
	}

	lookup := make(map[string]*model.CalendarEvent)
	stored, err := e.loadExternal(ctx, householdID)
	if err != nil {
		// Creates still dedup against the unique index.
		logger.Error("load stored external events", "error", err)
	}
	for i := range stored {
		lookup[stored[i].ExternalID] = &stored[i]
	}

	seen := make(map[string]bool)
	for _, b := range batches {
		for _, raw := range b.events {
			if seen[raw.ExternalID] && raw.ExternalID != "" {
				res.Skipped++
				continue
			}
			seen[raw.ExternalID] = true

			in, err := Translate(raw, b.sel, e.opts.Location)
			if err != nil {
				res.Failed++
				res.addFailure(Failure{Kind: KindInvalidEvent, Provider: b.sel.Provider, CalendarID: b.sel.CalendarID, ExternalID: raw.ExternalID, Err: err})
				logger.Warn("invalid upstream event", "calendar_id", b.sel.CalendarID, "external_id", raw.ExternalID, "error", err)
				continue
			}

			if err := e.apply(ctx, householdID, b.sel.CalendarID, raw.ExternalID, lookup[raw.ExternalID], in, res); err != nil {
				kind := KindWriteFailed
				if errors.Is(err, context.DeadlineExceeded) {
					kind = KindTimeout
				}
				res.Failed++
				res.addFailure(Failure{Kind: kind, Provider: b.sel.Provider, CalendarID: b.sel.CalendarID, ExternalID: raw.ExternalID, Err: err})
				logger.Error("event write failed", "external_id", raw.ExternalID, "kind", kind, "error", err)
			}
		}
	}

	res.CompletedAt = e.opts.Now().UTC()
	logger.Info("reconcile complete",
		"calendars", res.Calendars,
		"fetched", res.Fetched,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"needs_reconnect", res.NeedsReconnect,
		"duration", res.Duration(),
	)
	return res
}

func (e *Engine) loadExternal(ctx context.Context, householdID int64) ([]model.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()
	return e.events.ListExternal(ctx, householdID)
}

// fetchAll fetches every selection concurrently, bounded by
// MaxConcurrentFetches. Results keep selection order.
func (e *Engine) fetchAll(ctx context.Context, householdID int64, selections []model.CalendarSelection, w Window) []fetched {
	out := make([]fetched, len(selections))

	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrentFetches)
	for i, sel := range selections {
		g.Go(func() error {
			out[i] = e.fetchOne(ctx, householdID, sel, w)
			return nil
		})
	}
	g.Wait()
	return out
}

func (e *Engine) fetchOne(ctx context.Context, householdID int64, sel model.CalendarSelection, w Window) fetched {
	fail := func(kind FailureKind, err error) fetched {
		return fetched{sel: sel, failure: &Failure{Kind: kind, Provider: sel.Provider, CalendarID: sel.CalendarID, Err: err}}
	}

	src, err := e.sources.Get(sel.Provider)
	if err != nil {
		return fail(KindSourceFetchFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	var token string
	if src.NeedsToken() {
		token, err = e.tokens.Token(ctx, householdID, sel.Provider)
		if err != nil {
			return fail(KindSourceFetchFailed, err)
		}
		if token == "" {
			return fail(KindAuthExpired, calsource.ErrAuthExpired)
		}
	}

	events, err := src.ListEvents(ctx, token, sel.CalendarID, w.Start, w.End)
	switch {
	case err == nil:
		return fetched{sel: sel, events: events}
	case errors.Is(err, calsource.ErrAuthExpired):
		if ierr := e.tokens.Invalidate(context.WithoutCancel(ctx), householdID, sel.Provider); ierr != nil {
			e.logger.Error("invalidate token", "household_id", householdID, "provider", sel.Provider, "error", ierr)
		}
		return fail(KindAuthExpired, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fail(KindTimeout, err)
	default:
		return fail(KindSourceFetchFailed, err)
	}
}

// apply creates, updates or skips one event. A create that loses the race
// against another writer falls back to the update policy on the winner.
func (e *Engine) apply(ctx context.Context, householdID int64, calendarID, externalID string, existing *model.CalendarEvent, in store.EventInput, res *Result) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()

	if existing == nil {
		_, err := e.events.CreateExternal(ctx, householdID, externalID, calendarID, in)
		if err == nil {
			res.Created++
			return nil
		}
		if !errors.Is(err, store.ErrDuplicateExternal) {
			return err
		}
		existing, err = e.events.GetByExternalID(ctx, householdID, externalID)
		if err != nil {
			return err
		}
		if existing == nil {
			return store.ErrDuplicateExternal
		}
	}

	if !changed(existing, in) {
		res.Skipped++
		return nil
	}
	if err := e.events.UpdateExternal(ctx, householdID, existing.ID, in); err != nil {
		return err
	}
	res.Updated++
	return nil
}
