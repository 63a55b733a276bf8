package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/homeboard/internal/auth"
	"github.com/dukerupert/homeboard/internal/model"
)

const SessionCookieName = "homeboard_session"

// SessionLookup resolves a session token. A nil session means the token
// is unknown or expired.
type SessionLookup interface {
	GetByToken(token string) (*model.Session, error)
}

// RequireAuth validates the session cookie, or a bearer token for wall
// displays that cannot hold cookies, and populates AuthContext.
func RequireAuth(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			sess, err := sessions.GetByToken(token)
			if err != nil || sess == nil {
				unauthorized(w)
				return
			}

			recordHousehold(r.Context(), sess.HouseholdID)
			ac := auth.AuthContext{
				HouseholdID: sess.HouseholdID,
				SessionID:   sess.ID,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// HouseholdKey keys rate limits by the authenticated household.
func HouseholdKey(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + ":" + strconv.FormatInt(auth.HouseholdID(r.Context()), 10)
	}
}
