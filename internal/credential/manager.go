package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/scholarstream/mailrelay/internal/models"
	"github.com/scholarstream/mailrelay/internal/store"
	"github.com/scholarstream/mailrelay/internal/vault"
)

// ErrProviderCredentials indicates the OAuth client ID/secret are missing
// from the configuration. Nothing can proceed without them.
var ErrProviderCredentials = errors.New("provider client credentials are not configured")

// Lifetime assumed when the token endpoint does not advertise an expiry.
const defaultTokenLifetime = 55 * time.Minute

// Manager produces a valid short-lived access token for a mailbox
// connection, refreshing and persisting it when expired.
type Manager struct {
	connections store.ConnectionStore
	vault       *vault.Vault

	clientID     string
	clientSecret string

	// Overridable in tests.
	now      func() time.Time
	exchange func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

func NewManager(connections store.ConnectionStore, v *vault.Vault, clientID, clientSecret string) *Manager {
	m := &Manager{
		connections:  connections,
		vault:        v,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
	m.now = time.Now
	m.exchange = m.exchangeRefreshToken
	return m
}

// ValidAccessToken returns the connection's access token, refreshing it
// first if expired. A refresh persists the new token and expiry in a
// single write; on refresh failure the stored connection is left untouched.
func (m *Manager) ValidAccessToken(ctx context.Context, conn *models.MailboxConnection) (string, error) {
	if m.clientID == "" || m.clientSecret == "" {
		return "", ErrProviderCredentials
	}

	if conn.AccessToken != "" && m.now().Before(conn.ExpiresAt) {
		return conn.AccessToken, nil
	}

	refreshToken, err := m.vault.Open(conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("open refresh token: %w", err)
	}

	token, err := m.exchange(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(defaultTokenLifetime)
	}

	if err := m.connections.UpdateConnectionToken(ctx, conn.ID, token.AccessToken, expiresAt); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	slog.Info("access token refreshed", "email", conn.Email, "expires_at", expiresAt)

	conn.AccessToken = token.AccessToken
	conn.ExpiresAt = expiresAt
	return conn.AccessToken, nil
}

func (m *Manager) exchangeRefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint:     google.Endpoint,
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}
