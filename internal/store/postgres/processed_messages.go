package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/scholarstream/mailrelay/internal/models"
)

type ProcessedMessageStore struct {
	db *sql.DB
}

func NewProcessedMessageStore(db *sql.DB) *ProcessedMessageStore {
	return &ProcessedMessageStore{db: db}
}

func (s *ProcessedMessageStore) CreateProcessedMessage(ctx context.Context, params models.ProcessedMessageCreateParams) (*models.ProcessedMessage, error) {
	msg := &models.ProcessedMessage{
		PublicID:          uuid.New(),
		ProviderMessageID: params.ProviderMessageID,
		UserID:            params.UserID,
		ConnectionEmail:   params.ConnectionEmail,
		Status:            params.Status,
		Payload:           params.Payload,
		ErrorMessage:      params.ErrorMessage,
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO processed_messages
		 (public_id, provider_message_id, user_id, connection_email, status, payload, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		msg.PublicID, msg.ProviderMessageID, msg.UserID, msg.ConnectionEmail,
		msg.Status, []byte(msg.Payload), msg.ErrorMessage,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ProcessedMessageStore) HasProcessedMessage(ctx context.Context, userID int64, connectionEmail, providerMessageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM processed_messages
		   WHERE provider_message_id = $1 AND user_id = $2 AND connection_email = $3
		 )`,
		providerMessageID, userID, connectionEmail,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *ProcessedMessageStore) ListProcessedMessagesByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.ProcessedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, public_id, provider_message_id, user_id, connection_email, status, payload, error_message, created_at
		 FROM processed_messages
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.ProcessedMessage, 0, limit)
	for rows.Next() {
		var (
			msg     models.ProcessedMessage
			payload []byte
		)
		if err := rows.Scan(
			&msg.ID, &msg.PublicID, &msg.ProviderMessageID, &msg.UserID, &msg.ConnectionEmail,
			&msg.Status, &payload, &msg.ErrorMessage, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.Payload = payload
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type BootstrapMarkerStore struct {
	db *sql.DB
}

func NewBootstrapMarkerStore(db *sql.DB) *BootstrapMarkerStore {
	return &BootstrapMarkerStore{db: db}
}

func (s *BootstrapMarkerStore) CreateBootstrapMarker(ctx context.Context, userID int64, connectionEmail string, sweptCount int) (*models.BootstrapMarker, error) {
	marker := &models.BootstrapMarker{
		UserID:          userID,
		ConnectionEmail: connectionEmail,
		SweptCount:      sweptCount,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO bootstrap_markers (user_id, connection_email, swept_count)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		marker.UserID, marker.ConnectionEmail, marker.SweptCount,
	).Scan(&marker.ID, &marker.CreatedAt)
	if err != nil {
		return nil, err
	}
	return marker, nil
}

func (s *BootstrapMarkerStore) GetBootstrapMarker(ctx context.Context, userID int64, connectionEmail string) (*models.BootstrapMarker, error) {
	var marker models.BootstrapMarker
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, connection_email, swept_count, created_at
		 FROM bootstrap_markers
		 WHERE user_id = $1 AND connection_email = $2`,
		userID, connectionEmail,
	).Scan(&marker.ID, &marker.UserID, &marker.ConnectionEmail, &marker.SweptCount, &marker.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &marker, nil
}
