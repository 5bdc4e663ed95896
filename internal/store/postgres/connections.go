package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scholarstream/mailrelay/internal/models"
)

type ConnectionStore struct {
	db *sql.DB
}

func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

func (s *ConnectionStore) CreateConnection(ctx context.Context, params models.MailboxConnectionCreateParams) (*models.MailboxConnection, error) {
	conn := &models.MailboxConnection{
		PublicID:     uuid.New(),
		UserID:       params.UserID,
		Provider:     strings.ToLower(strings.TrimSpace(params.Provider)),
		Email:        strings.ToLower(strings.TrimSpace(params.Email)),
		RefreshToken: params.RefreshToken,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO mailbox_connections (public_id, user_id, provider, email, refresh_token)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, access_token, expires_at, created_at, updated_at`,
		conn.PublicID, conn.UserID, conn.Provider, conn.Email, conn.RefreshToken,
	).Scan(&conn.ID, &conn.AccessToken, &conn.ExpiresAt, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *ConnectionStore) GetConnectionByUserAndProvider(ctx context.Context, userID int64, provider string) (*models.MailboxConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, user_id, provider, email, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM mailbox_connections
		 WHERE user_id = $1 AND provider = $2`,
		userID, strings.ToLower(strings.TrimSpace(provider)),
	)
	return scanConnection(row)
}

func (s *ConnectionStore) GetConnectionByUserAndEmail(ctx context.Context, userID int64, provider, email string) (*models.MailboxConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, user_id, provider, email, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM mailbox_connections
		 WHERE user_id = $1 AND provider = $2 AND email = $3`,
		userID, strings.ToLower(strings.TrimSpace(provider)), strings.ToLower(strings.TrimSpace(email)),
	)
	return scanConnection(row)
}

// UpdateConnectionToken replaces the access token and its expiry in a
// single write, so a crash cannot leave a mixed token/expiry pair.
func (s *ConnectionStore) UpdateConnectionToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mailbox_connections
		 SET access_token = $2, expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, accessToken, expiresAt,
	)
	return err
}

func scanConnection(row *sql.Row) (*models.MailboxConnection, error) {
	var conn models.MailboxConnection
	if err := row.Scan(
		&conn.ID, &conn.PublicID, &conn.UserID, &conn.Provider, &conn.Email,
		&conn.AccessToken, &conn.RefreshToken, &conn.ExpiresAt, &conn.CreatedAt, &conn.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &conn, nil
}
