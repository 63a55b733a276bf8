package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/homeboard/internal/auth"
	"github.com/dukerupert/homeboard/internal/model"
	"github.com/dukerupert/homeboard/internal/store"
)

// FamilyMemberHandler serves the people events and calendars are tagged to.
type FamilyMemberHandler struct {
	store  *store.FamilyMemberStore
	logger *slog.Logger
}

func NewFamilyMemberHandler(s *store.FamilyMemberStore, logger *slog.Logger) *FamilyMemberHandler {
	return &FamilyMemberHandler{store: s, logger: logger.With("component", "family_member")}
}

func (h *FamilyMemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.store.List(auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list family members")
		return
	}
	if members == nil {
		members = []model.FamilyMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *FamilyMemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	householdID := auth.HouseholdID(r.Context())

	var req struct {
		Name        string `json:"name"`
		Color       string `json:"color"`
		AvatarEmoji string `json:"avatar_emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if req.Color == "" {
		req.Color = "#3B82F6"
	}
	if !hexColorRegexp.MatchString(req.Color) {
		writeError(w, http.StatusBadRequest, "color must be a hex color (e.g. #FF0000)")
		return
	}

	if req.AvatarEmoji == "" {
		req.AvatarEmoji = "😀"
	}

	member, err := h.store.Create(householdID, req.Name, req.Color, req.AvatarEmoji)
	if err != nil {
		h.logger.Error("create family member", "household_id", householdID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create family member")
		return
	}

	writeJSON(w, http.StatusCreated, member)
}
