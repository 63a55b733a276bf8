package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dukerupert/homeboard/internal/auth"
	"github.com/dukerupert/homeboard/internal/store"
	"github.com/dukerupert/homeboard/internal/websocket"
)

type SettingsHandler struct {
	settingsStore *store.SettingsStore
	hub           *websocket.Hub
}

func NewSettingsHandler(ss *store.SettingsStore, hub *websocket.Hub) *SettingsHandler {
	return &SettingsHandler{settingsStore: ss, hub: hub}
}

func (h *SettingsHandler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsStore.GetCalendarSyncSettings(auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateCalendar writes user-editable calendar settings. Sync bookkeeping
// keys are owned by the scheduler and rejected here.
func (h *SettingsHandler) UpdateCalendar(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())

	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := validateCalendarSettings(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for key, value := range req {
		if err := h.settingsStore.Set(householdID, key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	if h.hub != nil {
		h.hub.Broadcast(householdID, websocket.NewMessage("settings", "updated", 0, nil))
	}

	settings, err := h.settingsStore.GetCalendarSyncSettings(householdID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func validateCalendarSettings(settings map[string]string) error {
	for key, value := range settings {
		switch key {
		case store.SettingCalendarSyncEnabled:
			if value != "true" && value != "false" {
				return fmt.Errorf("%s must be \"true\" or \"false\"", key)
			}
		default:
			return fmt.Errorf("unknown setting: %s", key)
		}
	}
	return nil
}
