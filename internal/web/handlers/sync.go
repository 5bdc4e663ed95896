package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/scholarstream/mailrelay/internal/credential"
	"github.com/scholarstream/mailrelay/internal/pipeline"
	"github.com/scholarstream/mailrelay/internal/web/middleware"
)

// SyncHandler serves the inbound trigger: one ingestion tick per request.
type SyncHandler struct {
	pipeline *pipeline.Service
}

func NewSyncHandler(pipelineSvc *pipeline.Service) *SyncHandler {
	return &SyncHandler{pipeline: pipelineSvc}
}

// HandleSync runs one ingestion tick for the authenticated caller's
// mailbox. Any handled outcome, including zero candidates, responds 200
// with the structured result.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "unauthorized"})
		return
	}

	var payload struct {
		MaxResults    int64  `json:"max_results"`
		TargetMailbox string `json:"target_mailbox"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
			return
		}
	}

	result, err := h.pipeline.Run(r.Context(), user, pipeline.RunOptions{
		MaxResults:    payload.MaxResults,
		TargetMailbox: payload.TargetMailbox,
	})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNoConnection):
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "no mailbox connection"})
		case errors.Is(err, credential.ErrProviderCredentials):
			slog.Error("sync rejected: provider credentials missing", "user_id", user.ID)
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "provider credentials are not configured"})
		default:
			slog.Error("sync failed", "user_id", user.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "sync failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}
