package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/scholarstream/mailrelay/internal/store"
	"github.com/scholarstream/mailrelay/internal/web/middleware"
)

// MessageHandler exposes the ledger as a read-only audit listing.
type MessageHandler struct {
	records store.ProcessedMessageStore
}

func NewMessageHandler(records store.ProcessedMessageStore) *MessageHandler {
	return &MessageHandler{records: records}
}

type processedMessageItem struct {
	ID              uuid.UUID       `json:"id"`
	MessageID       string          `json:"message_id"`
	ConnectionEmail string          `json:"connection_email"`
	Status          string          `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (h *MessageHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "unauthorized"})
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	messages, err := h.records.ListProcessedMessagesByUserID(r.Context(), user.ID, limit, offset)
	if err != nil {
		slog.Error("failed to list processed messages", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	items := make([]processedMessageItem, 0, len(messages))
	for _, msg := range messages {
		items = append(items, processedMessageItem{
			ID:              msg.PublicID,
			MessageID:       msg.ProviderMessageID,
			ConnectionEmail: msg.ConnectionEmail,
			Status:          msg.Status,
			ErrorMessage:    msg.ErrorMessage,
			Payload:         msg.Payload,
			CreatedAt:       msg.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"messages": items,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
