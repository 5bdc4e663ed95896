package store

import (
	"context"
	"time"

	"github.com/scholarstream/mailrelay/internal/models"
)

type UserStore interface {
	CreateUser(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type APITokenStore interface {
	CreateAPIToken(ctx context.Context, token string, userID int64, expiresAt *time.Time) (*models.APIToken, error)
	GetAPIToken(ctx context.Context, token string) (*models.APIToken, error)
	DeleteExpiredAPITokens(ctx context.Context) error
}

type ConnectionStore interface {
	CreateConnection(ctx context.Context, params models.MailboxConnectionCreateParams) (*models.MailboxConnection, error)
	GetConnectionByUserAndProvider(ctx context.Context, userID int64, provider string) (*models.MailboxConnection, error)
	GetConnectionByUserAndEmail(ctx context.Context, userID int64, provider, email string) (*models.MailboxConnection, error)
	UpdateConnectionToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error
}

type ProcessedMessageStore interface {
	CreateProcessedMessage(ctx context.Context, params models.ProcessedMessageCreateParams) (*models.ProcessedMessage, error)
	HasProcessedMessage(ctx context.Context, userID int64, connectionEmail, providerMessageID string) (bool, error)
	ListProcessedMessagesByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.ProcessedMessage, error)
}

type BootstrapMarkerStore interface {
	CreateBootstrapMarker(ctx context.Context, userID int64, connectionEmail string, sweptCount int) (*models.BootstrapMarker, error)
	GetBootstrapMarker(ctx context.Context, userID int64, connectionEmail string) (*models.BootstrapMarker, error)
}
