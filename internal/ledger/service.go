package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/scholarstream/mailrelay/internal/models"
	"github.com/scholarstream/mailrelay/internal/store"
)

const uniqueViolation = "23505"

// Service is the append-only dedup ledger. Every outcome is recorded
// exactly once per (message, mailbox); conflicting inserts from concurrent
// invocations are discarded, never surfaced as failures.
type Service struct {
	records store.ProcessedMessageStore
	markers store.BootstrapMarkerStore
}

func NewService(records store.ProcessedMessageStore, markers store.BootstrapMarkerStore) *Service {
	return &Service{
		records: records,
		markers: markers,
	}
}

// EnsureBootstrapped sweeps the current unread backlog into the ledger the
// first time a mailbox is seen, so pre-existing messages are never relayed.
// Returns true when the sweep ran during this call.
func (s *Service) EnsureBootstrapped(ctx context.Context, conn *models.MailboxConnection, unreadIDs []string) (bool, error) {
	_, err := s.markers.GetBootstrapMarker(ctx, conn.UserID, conn.Email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("get bootstrap marker: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"bootstrap": true,
		"note":      "swept during backlog bootstrap, not relayed",
	})
	if err != nil {
		return false, fmt.Errorf("marshal bootstrap payload: %w", err)
	}

	swept := 0
	for _, id := range unreadIDs {
		_, err := s.records.CreateProcessedMessage(ctx, models.ProcessedMessageCreateParams{
			ProviderMessageID: id,
			UserID:            conn.UserID,
			ConnectionEmail:   conn.Email,
			Status:            models.StatusSent,
			Payload:           payload,
		})
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return false, fmt.Errorf("sweep backlog message %s: %w", id, err)
		}
		swept++
	}

	if _, err := s.markers.CreateBootstrapMarker(ctx, conn.UserID, conn.Email, swept); err != nil && !isUniqueViolation(err) {
		return false, fmt.Errorf("create bootstrap marker: %w", err)
	}
	return true, nil
}

// IsNew reports whether the message has no ledger entry for this mailbox.
// Any prior outcome, sent or error, makes it not new.
func (s *Service) IsNew(ctx context.Context, conn *models.MailboxConnection, messageID string) (bool, error) {
	seen, err := s.records.HasProcessedMessage(ctx, conn.UserID, conn.Email, messageID)
	if err != nil {
		return false, fmt.Errorf("check ledger membership: %w", err)
	}
	return !seen, nil
}

// RecordOutcome appends the final outcome for a message. A concurrent
// invocation may have recorded the same message first; the unique key turns
// that into a conflict, which is logged and discarded.
func (s *Service) RecordOutcome(ctx context.Context, conn *models.MailboxConnection, messageID string, envelope models.Envelope, status, errDetail string) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = s.records.CreateProcessedMessage(ctx, models.ProcessedMessageCreateParams{
		ProviderMessageID: messageID,
		UserID:            conn.UserID,
		ConnectionEmail:   conn.Email,
		Status:            status,
		Payload:           payload,
		ErrorMessage:      errDetail,
	})
	if err != nil {
		if isUniqueViolation(err) {
			slog.Warn("message already recorded, discarding duplicate outcome",
				"message_id", messageID, "email", conn.Email)
			return nil
		}
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
