package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/homeboard/internal/auth"
	"github.com/dukerupert/homeboard/internal/calsource"
	"github.com/dukerupert/homeboard/internal/calsync"
	"github.com/dukerupert/homeboard/internal/model"
	"github.com/dukerupert/homeboard/internal/store"
	"github.com/dukerupert/homeboard/internal/websocket"
)

// CalendarSyncHandler manages provider connections, the selected
// calendars and sync runs.
type CalendarSyncHandler struct {
	connections *store.ConnectionStore
	selections  *store.SelectionStore
	members     *store.FamilyMemberStore
	sources     *calsource.Registry
	scheduler   *calsync.Scheduler
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewCalendarSyncHandler(
	connections *store.ConnectionStore,
	selections *store.SelectionStore,
	members *store.FamilyMemberStore,
	sources *calsource.Registry,
	scheduler *calsync.Scheduler,
	hub *websocket.Hub,
	logger *slog.Logger,
) *CalendarSyncHandler {
	return &CalendarSyncHandler{
		connections: connections,
		selections:  selections,
		members:     members,
		sources:     sources,
		scheduler:   scheduler,
		hub:         hub,
		logger:      logger.With("component", "calendar_sync"),
	}
}

func (h *CalendarSyncHandler) broadcast(householdID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(householdID, msg)
	}
}

type providerInfo struct {
	Provider       string                    `json:"provider"`
	NeedsToken     bool                      `json:"needs_token"`
	Connected      bool                      `json:"connected"`
	NeedsReconnect bool                      `json:"needs_reconnect"`
	Connection     *model.CalendarConnection `json:"connection,omitempty"`
}

// ListConnections reports every registered provider and the household's
// connection to it.
func (h *CalendarSyncHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	conns, err := h.connections.List(householdID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	byProvider := make(map[string]*model.CalendarConnection, len(conns))
	for i := range conns {
		byProvider[conns[i].Provider] = &conns[i]
	}

	out := []providerInfo{}
	for _, name := range h.sources.Providers() {
		src, _ := h.sources.Get(name)
		info := providerInfo{Provider: name, NeedsToken: src.NeedsToken(), Connected: !src.NeedsToken()}
		if c, ok := byProvider[name]; ok {
			info.Connection = c
			info.Connected = !c.NeedsReconnect()
			info.NeedsReconnect = c.NeedsReconnect()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// Connect stores a provider access token and schedules the first sync.
func (h *CalendarSyncHandler) Connect(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	provider := r.PathValue("provider")

	src, err := h.sources.Get(provider)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	if !src.NeedsToken() {
		writeError(w, http.StatusBadRequest, "provider does not use access tokens")
		return
	}

	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	conn, err := h.connections.Save(householdID, provider, req.AccessToken)
	if err != nil {
		h.logger.Error("save connection", "household_id", householdID, "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save connection")
		return
	}

	h.scheduler.OnConnect(householdID)
	h.broadcast(householdID, websocket.NewMessage("calendar_connection", "connected", 0, map[string]any{"provider": provider}))
	writeJSON(w, http.StatusOK, conn)
}

// Disconnect forgets the provider token. Mirrored events and selections stay.
func (h *CalendarSyncHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	provider := r.PathValue("provider")

	if err := h.connections.Delete(householdID, provider); err != nil {
		h.logger.Error("delete connection", "household_id", householdID, "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete connection")
		return
	}

	h.broadcast(householdID, websocket.NewMessage("calendar_connection", "disconnected", 0, map[string]any{"provider": provider}))
	w.WriteHeader(http.StatusNoContent)
}

type calendarInfo struct {
	calsource.Calendar
	Selected bool `json:"selected"`
}

// ListCalendars lists the calendars readable through the stored token,
// flagging the ones already selected.
func (h *CalendarSyncHandler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	provider := r.PathValue("provider")

	src, err := h.sources.Get(provider)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	var token string
	if src.NeedsToken() {
		token, err = h.connections.Token(r.Context(), householdID, provider)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read connection")
			return
		}
		if token == "" {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "reconnect required", "needs_reconnect": true})
			return
		}
	}

	calendars, err := src.ListCalendars(r.Context(), token)
	if err != nil {
		if errors.Is(err, calsource.ErrAuthExpired) {
			if ierr := h.connections.Invalidate(context.WithoutCancel(r.Context()), householdID, provider); ierr != nil {
				h.logger.Error("invalidate token", "household_id", householdID, "provider", provider, "error", ierr)
			}
			writeJSON(w, http.StatusConflict, map[string]any{"error": "reconnect required", "needs_reconnect": true})
			return
		}
		h.logger.Warn("list calendars", "household_id", householdID, "provider", provider, "error", err)
		writeError(w, http.StatusBadGateway, "failed to list calendars")
		return
	}

	selected, err := h.selections.List(householdID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list selections")
		return
	}
	isSelected := make(map[string]bool, len(selected))
	for _, s := range selected {
		if s.Provider == provider {
			isSelected[s.CalendarID] = true
		}
	}

	out := make([]calendarInfo, 0, len(calendars))
	for _, c := range calendars {
		out = append(out, calendarInfo{Calendar: c, Selected: isSelected[c.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CalendarSyncHandler) GetSelections(w http.ResponseWriter, r *http.Request) {
	selections, err := h.selections.List(auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list selections")
		return
	}
	if selections == nil {
		selections = []model.CalendarSelection{}
	}
	writeJSON(w, http.StatusOK, selections)
}

type selectionRequest struct {
	Provider       string `json:"provider"`
	CalendarID     string `json:"calendar_id"`
	DisplayName    string `json:"display_name"`
	FamilyMemberID *int64 `json:"family_member_id"`
	Color          string `json:"color"`
}

// PutSelections replaces the whole selection set.
func (h *CalendarSyncHandler) PutSelections(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())

	var req []selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	selections := make([]model.CalendarSelection, 0, len(req))
	for _, s := range req {
		s.CalendarID = strings.TrimSpace(s.CalendarID)
		if s.CalendarID == "" {
			writeError(w, http.StatusBadRequest, "calendar_id is required")
			return
		}
		if _, err := h.sources.Get(s.Provider); err != nil {
			writeError(w, http.StatusBadRequest, "unknown provider: "+s.Provider)
			return
		}
		if s.Color != "" && !hexColorRegexp.MatchString(s.Color) {
			writeError(w, http.StatusBadRequest, "color must be a hex color (e.g. #FF0000)")
			return
		}
		if s.FamilyMemberID != nil {
			member, err := h.members.GetByID(householdID, *s.FamilyMemberID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to check family member")
				return
			}
			if member == nil {
				writeError(w, http.StatusBadRequest, "family member not found")
				return
			}
		}
		selections = append(selections, model.CalendarSelection{
			HouseholdID:    householdID,
			Provider:       s.Provider,
			CalendarID:     s.CalendarID,
			DisplayName:    strings.TrimSpace(s.DisplayName),
			FamilyMemberID: s.FamilyMemberID,
			Color:          s.Color,
		})
	}

	saved, err := h.selections.Replace(householdID, selections)
	if err != nil {
		h.logger.Error("replace selections", "household_id", householdID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save selections")
		return
	}
	if saved == nil {
		saved = []model.CalendarSelection{}
	}

	h.broadcast(householdID, websocket.NewMessage("calendar_selection", "updated", 0, nil))
	writeJSON(w, http.StatusOK, saved)
}

// Sync runs a manual reconciliation and returns its result. The run is
// not tied to the request: a dashboard that navigates away does not
// abort it.
func (h *CalendarSyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())

	res, err := h.scheduler.TriggerDetached(householdID, calsync.TriggerManual)
	switch {
	case errors.Is(err, calsync.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "sync already running")
		return
	case errors.Is(err, calsync.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "sync is shutting down")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Status reports the sync state, last completion and whether any
// connection needs the household to reconnect.
func (h *CalendarSyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	status := h.scheduler.Status(householdID)

	conns, err := h.connections.List(householdID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	for _, c := range conns {
		if c.NeedsReconnect() {
			status.NeedsReconnect = true
		}
	}
	writeJSON(w, http.StatusOK, status)
}
