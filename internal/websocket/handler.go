package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/homeboard/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a
// client of the session's household.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		householdID := auth.HouseholdID(r.Context())
		if householdID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // wall displays connect from any LAN origin
		})
		if err != nil {
			hub.logger.Warn("accept websocket", "error", err)
			return
		}

		hub.logger.Debug("dashboard connected", "household_id", householdID)
		NewClient(hub, conn, householdID).Run(r.Context())
	}
}
