package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/homeboard/internal/auth"
	"github.com/dukerupert/homeboard/internal/layout"
	"github.com/dukerupert/homeboard/internal/model"
	"github.com/dukerupert/homeboard/internal/store"
	"github.com/dukerupert/homeboard/internal/websocket"
)

type CalendarEventHandler struct {
	eventStore  *store.EventStore
	memberStore *store.FamilyMemberStore
	hub         *websocket.Hub
	grid        layout.Grid
	logger      *slog.Logger
}

// NewCalendarEventHandler serves manual events and the day view. grid
// supplies the location and hours of the dashboard's time grid.
func NewCalendarEventHandler(es *store.EventStore, ms *store.FamilyMemberStore, hub *websocket.Hub, grid layout.Grid, logger *slog.Logger) *CalendarEventHandler {
	if grid.Location == nil {
		grid.Location = time.Local
	}
	return &CalendarEventHandler{eventStore: es, memberStore: ms, hub: hub, grid: grid, logger: logger.With("component", "calendar_event")}
}

type eventRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	AllDay         bool   `json:"all_day"`
	FamilyMemberID *int64 `json:"family_member_id"`
	Color          string `json:"color"`
}

func (h *CalendarEventHandler) broadcast(householdID int64, action string, id int64) {
	if h.hub != nil {
		h.hub.Broadcast(householdID, websocket.NewMessage("calendar_event", action, id, nil))
	}
}

func (h *CalendarEventHandler) parseAndValidate(w http.ResponseWriter, r *http.Request, householdID int64) (store.EventInput, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return store.EventInput{}, false
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return store.EventInput{}, false
	}

	startTime, err := parseFlexibleTime(req.StartTime, h.grid.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339 or YYYY-MM-DD format")
		return store.EventInput{}, false
	}
	endTime, err := parseFlexibleTime(req.EndTime, h.grid.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC3339 or YYYY-MM-DD format")
		return store.EventInput{}, false
	}
	if endTime.Before(startTime) || (!req.AllDay && endTime.Equal(startTime)) {
		writeError(w, http.StatusBadRequest, "start_time must be before end_time")
		return store.EventInput{}, false
	}
	if req.AllDay {
		// Stored as whole dates; an empty range covers the start date.
		startTime, endTime = model.AllDayRange(startTime, endTime, h.grid.Location)
	}

	if req.Color != "" && !hexColorRegexp.MatchString(req.Color) {
		writeError(w, http.StatusBadRequest, "color must be a hex color (e.g. #FF0000)")
		return store.EventInput{}, false
	}

	if req.FamilyMemberID != nil {
		member, err := h.memberStore.GetByID(householdID, *req.FamilyMemberID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check family member")
			return store.EventInput{}, false
		}
		if member == nil {
			writeError(w, http.StatusBadRequest, "family member not found")
			return store.EventInput{}, false
		}
	}

	return store.EventInput{
		Title:          req.Title,
		Description:    req.Description,
		Location:       req.Location,
		StartTime:      startTime,
		EndTime:        endTime,
		AllDay:         req.AllDay,
		FamilyMemberID: req.FamilyMemberID,
		Color:          req.Color,
	}, true
}

func (h *CalendarEventHandler) Create(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	in, ok := h.parseAndValidate(w, r, householdID)
	if !ok {
		return
	}

	event, err := h.eventStore.Create(householdID, in)
	if err != nil {
		h.logger.Error("create calendar event", "household_id", householdID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	h.broadcast(householdID, "created", event.ID)
	writeJSON(w, http.StatusCreated, event)
}

func (h *CalendarEventHandler) List(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		writeError(w, http.StatusBadRequest, "start and end query parameters are required")
		return
	}

	start, err := parseFlexibleTime(startStr, h.grid.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339 or YYYY-MM-DD format")
		return
	}
	end, err := parseFlexibleTime(endStr, h.grid.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339 or YYYY-MM-DD format")
		return
	}

	events, err := h.eventStore.ListByDateRange(auth.HouseholdID(r.Context()), start, end, h.grid.Location)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *CalendarEventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	event, err := h.eventStore.GetByID(auth.HouseholdID(r.Context()), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *CalendarEventHandler) Update(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.eventStore.GetByID(householdID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if existing.IsExternal() {
		writeError(w, http.StatusForbidden, "synced events are read-only")
		return
	}

	in, ok := h.parseAndValidate(w, r, householdID)
	if !ok {
		return
	}

	event, err := h.eventStore.Update(householdID, id, in)
	switch {
	case errors.Is(err, store.ErrReadOnlyEvent):
		writeError(w, http.StatusForbidden, "synced events are read-only")
		return
	case err != nil:
		h.logger.Error("update calendar event", "household_id", householdID, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	case event == nil:
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	h.broadcast(householdID, "updated", event.ID)
	writeJSON(w, http.StatusOK, event)
}

func (h *CalendarEventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.eventStore.GetByID(householdID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	if err := h.eventStore.Delete(householdID, id); err != nil {
		if errors.Is(err, store.ErrReadOnlyEvent) {
			writeError(w, http.StatusForbidden, "synced events are read-only")
			return
		}
		h.logger.Error("delete calendar event", "household_id", householdID, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}

	h.broadcast(householdID, "deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

type timedEvent struct {
	Event    model.CalendarEvent `json:"event"`
	Position layout.Position     `json:"position"`
}

type dayResponse struct {
	Date       string                `json:"date"`
	GridHeight float64               `json:"grid_height"`
	AllDay     []model.CalendarEvent `json:"all_day"`
	Timed      []timedEvent          `json:"timed"`
}

// Day returns a day's events with their time-grid positions. Defaults to
// today in the dashboard's zone.
func (h *CalendarEventHandler) Day(w http.ResponseWriter, r *http.Request) {
	loc := h.grid.Location
	day := time.Now().In(loc)
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := time.ParseInLocation(dateLayout, s, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD format")
			return
		}
		day = d
	}
	y, m, d := day.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := h.eventStore.ListByDateRange(auth.HouseholdID(r.Context()), dayStart, dayEnd, loc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	grid := h.grid
	grid.Day = dayStart
	positions := layout.Compute(events, grid)

	resp := dayResponse{
		Date:       dayStart.Format(dateLayout),
		GridHeight: grid.Height(),
		AllDay:     []model.CalendarEvent{},
		Timed:      []timedEvent{},
	}
	for _, e := range events {
		if e.AllDay {
			resp.AllDay = append(resp.AllDay, e)
			continue
		}
		if p, ok := positions[e.ID]; ok {
			resp.Timed = append(resp.Timed, timedEvent{Event: e, Position: p})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
