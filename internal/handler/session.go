package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/homeboard/internal/middleware"
	"github.com/dukerupert/homeboard/internal/store"
)

// SessionHandler pairs a browser with a household session token issued
// by `homeboard session` and signs it out again.
type SessionHandler struct {
	sessions *store.SessionStore
	secure   bool
}

func NewSessionHandler(sessions *store.SessionStore, secureCookie bool) *SessionHandler {
	return &SessionHandler{sessions: sessions, secure: secureCookie}
}

// Pair validates a session token and stores it in the session cookie.
func (h *SessionHandler) Pair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	sess, err := h.sessions.GetByToken(req.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"household_id": sess.HouseholdID, "expires_at": sess.ExpiresAt})
}

// Logout deletes the session behind the cookie and clears it.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(cookie.Value); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete session")
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
