package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/scholarstream/mailrelay/internal/auth"
	"github.com/scholarstream/mailrelay/internal/web/middleware"
)

// TokenHandler lets an authenticated caller mint additional API tokens,
// e.g. to rotate the one a scheduler uses.
type TokenHandler struct {
	auth *auth.Service
}

func NewTokenHandler(authService *auth.Service) *TokenHandler {
	return &TokenHandler{auth: authService}
}

func (h *TokenHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "unauthorized"})
		return
	}

	var payload struct {
		TTLHours int `json:"ttl_hours"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
			return
		}
	}

	token, err := h.auth.IssueToken(r.Context(), user.ID, time.Duration(payload.TTLHours)*time.Hour)
	if err != nil {
		slog.Error("failed to issue token", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":         true,
		"token":      token.Token,
		"expires_at": token.ExpiresAt,
	})
}
