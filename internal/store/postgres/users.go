package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scholarstream/mailrelay/internal/models"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{
		PublicID: uuid.New(),
		Email:    strings.ToLower(strings.TrimSpace(email)),
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (public_id, email)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		user.PublicID, user.Email,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, email, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.PublicID, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, email, created_at FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user.ID, &user.PublicID, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type APITokenStore struct {
	db *sql.DB
}

func NewAPITokenStore(db *sql.DB) *APITokenStore {
	return &APITokenStore{db: db}
}

func (s *APITokenStore) CreateAPIToken(ctx context.Context, token string, userID int64, expiresAt *time.Time) (*models.APIToken, error) {
	t := &models.APIToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO api_tokens (token, user_id, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		t.Token, t.UserID, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *APITokenStore) GetAPIToken(ctx context.Context, token string) (*models.APIToken, error) {
	var t models.APIToken
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token, user_id, expires_at, created_at FROM api_tokens WHERE token = $1`,
		token,
	).Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *APITokenStore) DeleteExpiredAPITokens(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at < now()`)
	return err
}
