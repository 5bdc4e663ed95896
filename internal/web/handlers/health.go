package handlers

import (
	"database/sql"
	"net/http"
)

// Health returns a liveness handler that also pings the database.
func Health(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, jsonResponse{Error: "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, jsonResponse{OK: true})
	}
}
