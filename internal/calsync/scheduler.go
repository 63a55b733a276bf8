// Package calsync decides when each household's calendars are reconciled.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/homeboard/internal/metrics"
	"github.com/dukerupert/homeboard/internal/model"
	"github.com/dukerupert/homeboard/internal/reconcile"
)

var (
	// ErrAlreadyRunning rejects a trigger while the household's run is in
	// flight. Triggers are never queued.
	ErrAlreadyRunning = errors.New("calendar sync already running")
	// ErrThrottled rejects a timer trigger that comes too soon after the
	// last completed run.
	ErrThrottled = errors.New("calendar sync throttled")
	// ErrStopped rejects a detached trigger after Stop.
	ErrStopped = errors.New("calendar sync scheduler stopped")
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimer   Trigger = "timer"
	TriggerConnect Trigger = "connect"
)

// State is a household's sync state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Status is what the dashboard shows about a household's sync.
type Status struct {
	HouseholdID    int64             `json:"household_id"`
	State          State             `json:"state"`
	LastSyncAt     *time.Time        `json:"last_sync_at,omitempty"`
	LastSuccessAt  *time.Time        `json:"last_success_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	NeedsReconnect bool              `json:"needs_reconnect"`
	LastResult     *reconcile.Result `json:"last_result,omitempty"`
}

// StatusCallback is called whenever a household's sync state changes.
type StatusCallback func(Status)

type Reconciler interface {
	Reconcile(ctx context.Context, householdID int64, selections []model.CalendarSelection, w reconcile.Window) *reconcile.Result
}

type SelectionLister interface {
	List(householdID int64) ([]model.CalendarSelection, error)
}

// SyncSettings persists per-household sync bookkeeping.
type SyncSettings interface {
	LastSync(householdID int64) (time.Time, string, error)
	SetLastSync(householdID int64, at time.Time, syncErr string) error
	LastSuccess(householdID int64) (time.Time, error)
	SetLastSuccess(householdID int64, at time.Time) error
	SyncEnabled(householdID int64) (bool, error)
}

type HouseholdLister interface {
	ListIDs() ([]int64, error)
}

type Config struct {
	// Schedule is a cron spec for the periodic timer.
	Schedule string
	// MinInterval throttles timer triggers after a completed run.
	MinInterval time.Duration
	// ConnectDelay postpones the run after a provider is connected.
	ConnectDelay time.Duration
	WindowDays   int
	Now          func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 2h"
	}
	if c.MinInterval == 0 {
		c.MinInterval = time.Hour
	}
	if c.ConnectDelay == 0 {
		c.ConnectDelay = 15 * time.Second
	}
	if c.WindowDays == 0 {
		c.WindowDays = 30
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type householdState struct {
	running        bool
	lastResult     *reconcile.Result
	needsReconnect bool
}

// Scheduler runs reconciliations: single-flight per household, with a
// throttled periodic timer, a delayed run after connect, and manual runs.
// State lives in the instance, so households sync independently.
type Scheduler struct {
	mu         sync.Mutex
	engine     Reconciler
	selections SelectionLister
	settings   SyncSettings
	households HouseholdLister
	cfg        Config
	onStatus   StatusCallback
	metrics    *metrics.Sync
	logger     *slog.Logger

	states map[int64]*householdState
	timers map[int64]*time.Timer

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(engine Reconciler, selections SelectionLister, settings SyncSettings, households HouseholdLister, cfg Config, onStatus StatusCallback, m *metrics.Sync, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine:     engine,
		selections: selections,
		settings:   settings,
		households: households,
		cfg:        cfg.withDefaults(),
		onStatus:   onStatus,
		metrics:    m,
		logger:     logger.With("component", "calsync"),
		states:     make(map[int64]*householdState),
		timers:     make(map[int64]*time.Timer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the periodic timer.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("calendar sync scheduler already started")
	}
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.Schedule, s.tick); err != nil {
		return fmt.Errorf("parse sync schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("calendar sync scheduler started", "schedule", s.cfg.Schedule, "min_interval", s.cfg.MinInterval)
	return nil
}

// Stop cancels in-flight runs, stops the timer and waits for pending
// work to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	c := s.cron
	for hid, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, hid)
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) state(householdID int64) *householdState {
	st, ok := s.states[householdID]
	if !ok {
		st = &householdState{}
		s.states[householdID] = st
	}
	return st
}

// tick is the periodic timer: every enabled household gets a timer trigger.
func (s *Scheduler) tick() {
	ctx := s.context()
	ids, err := s.households.ListIDs()
	if err != nil {
		s.logger.Error("list households", "error", err)
		return
	}
	for _, hid := range ids {
		if ctx.Err() != nil {
			return
		}
		enabled, err := s.settings.SyncEnabled(hid)
		if err != nil {
			s.logger.Error("read sync setting", "household_id", hid, "error", err)
			continue
		}
		if !enabled {
			continue
		}
		_, err = s.Trigger(ctx, hid, TriggerTimer)
		switch {
		case err == nil:
		case errors.Is(err, ErrThrottled), errors.Is(err, ErrAlreadyRunning):
			s.logger.Debug("timer trigger skipped", "household_id", hid, "reason", err)
		default:
			s.logger.Error("timer sync failed", "household_id", hid, "error", err)
		}
	}
}

// OnConnect schedules a run after the connect delay. Connecting again
// before the delay elapses restarts the delay.
func (s *Scheduler) OnConnect(householdID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.timers[householdID]; ok && old.Stop() {
		s.wg.Done()
	}

	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(s.cfg.ConnectDelay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		if s.timers[householdID] == t {
			delete(s.timers, householdID)
		}
		ctx := s.ctx
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if _, err := s.Trigger(ctx, householdID, TriggerConnect); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("connect sync failed", "household_id", householdID, "error", err)
		}
	})
	s.timers[householdID] = t
}

// TriggerDetached runs Trigger on the scheduler's context instead of the
// caller's. The run outlives the caller, and Stop cancels it and waits for
// it to return.
func (s *Scheduler) TriggerDetached(householdID int64, trigger Trigger) (*reconcile.Result, error) {
	s.mu.Lock()
	ctx := s.ctx
	if ctx.Err() != nil {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	return s.Trigger(ctx, householdID, trigger)
}

// Trigger runs a reconciliation for the household now. It returns
// ErrAlreadyRunning while another run is in flight and, for timer
// triggers only, ErrThrottled within MinInterval of the last completed run.
func (s *Scheduler) Trigger(ctx context.Context, householdID int64, trigger Trigger) (*reconcile.Result, error) {
	logger := s.logger.With("household_id", householdID, "trigger", trigger)

	s.mu.Lock()
	st := s.state(householdID)
	if st.running {
		s.mu.Unlock()
		s.metrics.ObserveTrigger(string(trigger), metrics.OutcomeBusy)
		return nil, ErrAlreadyRunning
	}
	if trigger == TriggerTimer {
		last, _, err := s.settings.LastSync(householdID)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("read last sync: %w", err)
		}
		if !last.IsZero() && s.cfg.Now().Sub(last) < s.cfg.MinInterval {
			s.mu.Unlock()
			s.metrics.ObserveTrigger(string(trigger), metrics.OutcomeThrottled)
			return nil, ErrThrottled
		}
	}
	st.running = true
	s.mu.Unlock()

	s.metrics.RunStarted()
	s.notify(householdID)

	res, err := s.run(ctx, householdID, trigger)

	s.mu.Lock()
	st.running = false
	if res != nil {
		st.lastResult = res
		st.needsReconnect = res.NeedsReconnect
	}
	s.mu.Unlock()

	s.metrics.RunFinished()
	s.notify(householdID)

	if err != nil {
		logger.Error("calendar sync failed", "error", err)
		return nil, err
	}
	return res, nil
}

func (s *Scheduler) run(ctx context.Context, householdID int64, trigger Trigger) (*reconcile.Result, error) {
	selections, err := s.selections.List(householdID)
	if err != nil {
		return nil, fmt.Errorf("list calendar selections: %w", err)
	}

	now := s.cfg.Now().UTC()
	var res *reconcile.Result
	if len(selections) == 0 {
		res = &reconcile.Result{HouseholdID: householdID, StartedAt: now, CompletedAt: now}
		s.metrics.ObserveTrigger(string(trigger), metrics.OutcomeNoop)
	} else {
		res = s.engine.Reconcile(ctx, householdID, selections, reconcile.DefaultWindow(now, s.cfg.WindowDays))
		s.metrics.ObserveRun(string(trigger), res)
	}

	if err := s.settings.SetLastSync(householdID, res.CompletedAt, res.Summary()); err != nil {
		s.logger.Error("record last sync", "household_id", householdID, "error", err)
	}
	if res.Succeeded() {
		if err := s.settings.SetLastSuccess(householdID, res.CompletedAt); err != nil {
			s.logger.Error("record last successful sync", "household_id", householdID, "error", err)
		}
	}
	return res, nil
}

// Status reports the household's sync state and last completed run.
func (s *Scheduler) Status(householdID int64) Status {
	s.mu.Lock()
	st := s.state(householdID)
	status := Status{
		HouseholdID:    householdID,
		State:          StateIdle,
		NeedsReconnect: st.needsReconnect,
		LastResult:     st.lastResult,
	}
	if st.running {
		status.State = StateRunning
	}
	s.mu.Unlock()

	last, lastErr, err := s.settings.LastSync(householdID)
	if err != nil {
		s.logger.Error("read last sync", "household_id", householdID, "error", err)
	}
	if !last.IsZero() {
		status.LastSyncAt = &last
	}
	status.LastError = lastErr

	success, err := s.settings.LastSuccess(householdID)
	if err != nil {
		s.logger.Error("read last successful sync", "household_id", householdID, "error", err)
	}
	if !success.IsZero() {
		status.LastSuccessAt = &success
	}
	return status
}

// Running reports whether a run is in flight for the household.
func (s *Scheduler) Running(householdID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(householdID).running
}

func (s *Scheduler) notify(householdID int64) {
	if s.onStatus == nil {
		return
	}
	s.onStatus(s.Status(householdID))
}
