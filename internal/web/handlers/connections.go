package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"github.com/scholarstream/mailrelay/internal/models"
	"github.com/scholarstream/mailrelay/internal/store"
	"github.com/scholarstream/mailrelay/internal/vault"
	"github.com/scholarstream/mailrelay/internal/web/middleware"
)

// ConnectionHandler links mailboxes to users. The refresh token is sealed
// by the vault before it touches storage.
type ConnectionHandler struct {
	connections store.ConnectionStore
	vault       *vault.Vault
}

func NewConnectionHandler(connections store.ConnectionStore, v *vault.Vault) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		vault:       v,
	}
}

func (h *ConnectionHandler) HandleCreateConnection(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "unauthorized"})
		return
	}

	var payload struct {
		Provider     string `json:"provider"`
		Email        string `json:"email"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	if payload.Provider == "" {
		payload.Provider = "gmail"
	}
	if strings.TrimSpace(payload.Email) == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "email is required"})
		return
	}
	if strings.TrimSpace(payload.RefreshToken) == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "refresh_token is required"})
		return
	}

	sealed, err := h.vault.Seal(payload.RefreshToken)
	if err != nil {
		slog.Error("failed to seal refresh token", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	conn, err := h.connections.CreateConnection(r.Context(), models.MailboxConnectionCreateParams{
		UserID:       user.ID,
		Provider:     payload.Provider,
		Email:        payload.Email,
		RefreshToken: sealed,
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			writeJSON(w, http.StatusConflict, jsonResponse{Error: "connection already exists"})
			return
		}
		slog.Error("failed to create connection", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":       true,
		"id":       conn.PublicID,
		"provider": conn.Provider,
		"email":    conn.Email,
	})
}
