package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/homeboard/internal/calsource"
	"github.com/dukerupert/homeboard/internal/calsync"
	"github.com/dukerupert/homeboard/internal/config"
	"github.com/dukerupert/homeboard/internal/handler"
	"github.com/dukerupert/homeboard/internal/layout"
	"github.com/dukerupert/homeboard/internal/metrics"
	"github.com/dukerupert/homeboard/internal/middleware"
	"github.com/dukerupert/homeboard/internal/reconcile"
	"github.com/dukerupert/homeboard/internal/store"
	ws "github.com/dukerupert/homeboard/internal/websocket"
)

const (
	pairLimit          = 10
	pairWindow         = time.Minute
	limiterCleanup     = 5 * time.Minute
	sessionCleanupTick = time.Hour
)

type Server struct {
	db             *sql.DB
	cfg            *config.Config
	hub            *ws.Hub
	familyMemberH  *handler.FamilyMemberHandler
	calendarEventH *handler.CalendarEventHandler
	calendarSyncH  *handler.CalendarSyncHandler
	settingsH      *handler.SettingsHandler
	sessionH       *handler.SessionHandler
	sessionStore   *store.SessionStore
	householdStore *store.HouseholdStore
	rateLimiter    *middleware.RateLimiter
	scheduler      *calsync.Scheduler
	registry       *prometheus.Registry
	logger         *slog.Logger

	cancel context.CancelFunc
}

// New wires stores, calendar sources, the reconciliation engine and the
// sync scheduler. sealer encrypts provider tokens at rest.
func New(db *sql.DB, cfg *config.Config, sealer store.Sealer, reg *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger)

	familyMemberStore := store.NewFamilyMemberStore(db)
	eventStore := store.NewEventStore(db)
	settingsStore := store.NewSettingsStore(db)
	householdStore := store.NewHouseholdStore(db)
	sessionStore := store.NewSessionStore(db)
	connectionStore := store.NewConnectionStore(db, sealer)
	selectionStore := store.NewSelectionStore(db)

	sources := newSources(cfg, logger)

	engine := reconcile.NewEngine(eventStore, sources, connectionStore, reconcile.Options{
		FetchTimeout:         cfg.Sync.FetchTimeout,
		WriteTimeout:         cfg.Sync.WriteTimeout,
		MaxConcurrentFetches: cfg.Sync.MaxConcurrentFetches,
		Location:             loc,
	}, logger.With("component", "reconcile"))

	syncMetrics := metrics.NewSync(reg)

	scheduler := calsync.NewScheduler(engine, selectionStore, settingsStore, householdStore, calsync.Config{
		Schedule:     cfg.Sync.Schedule,
		MinInterval:  cfg.Sync.MinInterval,
		ConnectDelay: cfg.Sync.ConnectDelay,
		WindowDays:   cfg.Sync.WindowDays,
	}, func(st calsync.Status) {
		hub.Broadcast(st.HouseholdID, ws.NewMessage("calendar_sync", string(st.State), 0, map[string]any{
			"status": st,
		}))
	}, syncMetrics, logger.With("component", "calsync"))

	grid := layout.Grid{
		Location:      loc,
		StartHour:     cfg.Grid.StartHour,
		EndHour:       cfg.Grid.EndHour,
		PixelsPerHour: cfg.Grid.PixelsPerHour,
		MinHeight:     cfg.Grid.MinHeight,
	}

	return &Server{
		db:             db,
		cfg:            cfg,
		hub:            hub,
		familyMemberH:  handler.NewFamilyMemberHandler(familyMemberStore, logger),
		calendarEventH: handler.NewCalendarEventHandler(eventStore, familyMemberStore, hub, grid, logger),
		calendarSyncH:  handler.NewCalendarSyncHandler(connectionStore, selectionStore, familyMemberStore, sources, scheduler, hub, logger),
		settingsH:      handler.NewSettingsHandler(settingsStore, hub),
		sessionH:       handler.NewSessionHandler(sessionStore, cfg.SecureCookie),
		sessionStore:   sessionStore,
		householdStore: householdStore,
		rateLimiter:    middleware.NewRateLimiter(),
		scheduler:      scheduler,
		registry:       reg,
		logger:         logger,
	}, nil
}

func newSources(cfg *config.Config, logger *slog.Logger) *calsource.Registry {
	retry := calsource.RetryConfig{
		MaxAttempts:    cfg.Google.MaxAttempts,
		InitialBackoff: cfg.Google.InitialBackoff,
	}
	registry := calsource.NewRegistry(calsource.NewGoogleSource(calsource.GoogleConfig{
		BaseURL: cfg.Google.BaseURL,
		Timeout: cfg.Google.Timeout,
		Retry:   retry,
	}, logger))

	if len(cfg.ICS) > 0 {
		feeds := make([]calsource.Feed, 0, len(cfg.ICS))
		for _, f := range cfg.ICS {
			feeds = append(feeds, calsource.Feed{ID: f.ID, Name: f.Name, URL: f.URL, Color: f.Color})
		}
		registry.Register(calsource.NewICSSource(feeds, calsource.ICSConfig{
			Timeout: cfg.Google.Timeout,
			Retry:   retry,
		}, logger))
	}
	return registry
}

// SessionStore returns the session store for the session CLI.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// HouseholdStore returns the household store for the session CLI.
func (s *Server) HouseholdStore() *store.HouseholdStore {
	return s.householdStore
}

// Scheduler returns the calendar sync scheduler.
func (s *Server) Scheduler() *calsync.Scheduler {
	return s.scheduler
}

// Start launches the sync scheduler and the cleanup loops. Stop ends them.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.scheduler.Start(ctx); err != nil {
		s.cancel()
		return fmt.Errorf("start sync scheduler: %w", err)
	}
	go s.rateLimiter.RunCleanup(ctx, limiterCleanup)
	go s.runSessionCleanup(ctx)
	return nil
}

func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
}

func (s *Server) runSessionCleanup(ctx context.Context) {
	ticker := time.NewTicker(sessionCleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sessionStore.DeleteExpired(); err != nil {
				s.logger.Error("session cleanup failed", "error", err)
			}
		}
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	outerMux.HandleFunc("POST /api/session", s.rateLimitedHandler(s.sessionH.Pair))

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "database unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, pairLimit, pairWindow)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session/logout", s.sessionH.Logout)

	mux.HandleFunc("GET /api/family-members", s.familyMemberH.List)
	mux.HandleFunc("POST /api/family-members", s.familyMemberH.Create)

	// Calendar event API routes
	mux.HandleFunc("POST /api/events", s.calendarEventH.Create)
	mux.HandleFunc("GET /api/events", s.calendarEventH.List)
	mux.HandleFunc("GET /api/events/{id}", s.calendarEventH.Get)
	mux.HandleFunc("PUT /api/events/{id}", s.calendarEventH.Update)
	mux.HandleFunc("DELETE /api/events/{id}", s.calendarEventH.Delete)
	mux.HandleFunc("GET /api/calendar/day", s.calendarEventH.Day)

	// Calendar sync routes
	mux.HandleFunc("GET /api/calendar/connections", s.calendarSyncH.ListConnections)
	mux.HandleFunc("PUT /api/calendar/connections/{provider}", s.calendarSyncH.Connect)
	mux.HandleFunc("DELETE /api/calendar/connections/{provider}", s.calendarSyncH.Disconnect)
	mux.HandleFunc("GET /api/calendar/connections/{provider}/calendars", s.calendarSyncH.ListCalendars)
	mux.HandleFunc("GET /api/calendar/selections", s.calendarSyncH.GetSelections)
	mux.HandleFunc("PUT /api/calendar/selections", s.calendarSyncH.PutSelections)
	syncLimit := middleware.RateLimit(s.rateLimiter, middleware.HouseholdKey("sync"), s.cfg.Sync.ManualLimit, s.cfg.Sync.ManualWindow)
	mux.Handle("POST /api/calendar/sync", syncLimit(http.HandlerFunc(s.calendarSyncH.Sync)))
	mux.HandleFunc("GET /api/calendar/sync/status", s.calendarSyncH.Status)

	// Settings
	mux.HandleFunc("GET /api/settings/calendar", s.settingsH.GetCalendar)
	mux.HandleFunc("PUT /api/settings/calendar", s.settingsH.UpdateCalendar)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
}
