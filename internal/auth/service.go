package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scholarstream/mailrelay/internal/models"
	"github.com/scholarstream/mailrelay/internal/store"
)

// ErrInvalidToken is returned for unknown, malformed or expired bearer tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Service authenticates API callers by bearer token.
type Service struct {
	users  store.UserStore
	tokens store.APITokenStore
}

func NewService(users store.UserStore, tokens store.APITokenStore) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
	}
}

// IssueToken creates a new API token for a user. A non-positive ttl means
// the token never expires.
func (s *Service) IssueToken(ctx context.Context, userID int64, ttl time.Duration) (*models.APIToken, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	created, err := s.tokens.CreateAPIToken(ctx, token, userID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create api token: %w", err)
	}
	return created, nil
}

// ValidateToken resolves a bearer token to its owning user.
func (s *Service) ValidateToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	stored, err := s.tokens.GetAPIToken(ctx, token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if stored.ExpiresAt != nil && time.Now().After(*stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}
