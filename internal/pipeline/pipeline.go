// Package pipeline orchestrates one ingestion tick for one mailbox:
// authenticate, bootstrap on first run, list, select, decode, relay, record.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scholarstream/mailrelay/internal/ledger"
	"github.com/scholarstream/mailrelay/internal/mail"
	"github.com/scholarstream/mailrelay/internal/models"
	"github.com/scholarstream/mailrelay/internal/store"
)

// ErrNoConnection is returned when the caller has no linked mailbox.
var ErrNoConnection = errors.New("no mailbox connection for user")

const providerName = "gmail"

// Provider is the mailbox backend consumed by the pipeline.
type Provider interface {
	ListUnread(ctx context.Context, accessToken string, maxResults int64) ([]string, error)
	FetchDetail(ctx context.Context, accessToken, messageID string) (*models.RawMessage, error)
}

// Relay forwards a normalized envelope to the downstream webhook.
type Relay interface {
	Send(ctx context.Context, envelope *models.Envelope) error
}

// TokenSource yields a valid access token for a connection, refreshing it
// when necessary.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, conn *models.MailboxConnection) (string, error)
}

type Options struct {
	// ListMaxResults bounds the unread listing when the caller does not
	// supply a bound.
	ListMaxResults int64
	// MaxPerTick caps how many new messages one invocation relays. The
	// default of 1 is a deliberate throttle, not a limitation.
	MaxPerTick int
}

type Service struct {
	connections store.ConnectionStore
	credentials TokenSource
	provider    Provider
	relay       Relay
	ledger      *ledger.Service
	listMax     int64
	maxPerTick  int
}

func NewService(connections store.ConnectionStore, credentials TokenSource, provider Provider, relay Relay, ledgerSvc *ledger.Service, opts Options) *Service {
	listMax := opts.ListMaxResults
	if listMax <= 0 {
		listMax = 10
	}
	maxPerTick := opts.MaxPerTick
	if maxPerTick <= 0 {
		maxPerTick = 1
	}
	return &Service{
		connections: connections,
		credentials: credentials,
		provider:    provider,
		relay:       relay,
		ledger:      ledgerSvc,
		listMax:     listMax,
		maxPerTick:  maxPerTick,
	}
}

type RunOptions struct {
	MaxResults    int64
	TargetMailbox string
}

// Result is the structured outcome returned to the inbound caller. A
// handled invocation always produces one, including zero-candidate ticks.
type Result struct {
	Success     bool   `json:"success"`
	Processed   int    `json:"processed"`
	Skipped     int    `json:"skipped"`
	Initialized bool   `json:"initialized,omitempty"`
	Message     string `json:"message,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Run performs one ingestion tick for the user's mailbox. Steps are
// strictly sequential; there is no fan-out and nothing spans invocations.
func (s *Service) Run(ctx context.Context, user *models.User, opts RunOptions) (*Result, error) {
	conn, err := s.connection(ctx, user.ID, opts.TargetMailbox)
	if err != nil {
		return nil, err
	}

	token, err := s.credentials.ValidAccessToken(ctx, conn)
	if err != nil {
		return nil, err
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.listMax
	}
	unread, err := s.provider.ListUnread(ctx, token, maxResults)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}

	bootstrapped, err := s.ledger.EnsureBootstrapped(ctx, conn, unread)
	if err != nil {
		return nil, fmt.Errorf("bootstrap mailbox: %w", err)
	}
	if bootstrapped {
		slog.Info("mailbox bootstrapped", "email", conn.Email, "swept", len(unread))
		return &Result{
			Success:     true,
			Skipped:     len(unread),
			Initialized: true,
			Email:       conn.Email,
			Message:     fmt.Sprintf("ingestion activated, %d backlog message(s) marked as handled", len(unread)),
		}, nil
	}

	candidates := make([]string, 0, len(unread))
	for _, id := range unread {
		isNew, err := s.ledger.IsNew(ctx, conn, id)
		if err != nil {
			return nil, err
		}
		if isNew {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return &Result{Success: true, Email: conn.Email, Message: "no new messages"}, nil
	}

	processed := 0
	for _, id := range candidates {
		if processed >= s.maxPerTick {
			break
		}
		if err := s.processMessage(ctx, conn, token, id); err != nil {
			return nil, err
		}
		processed++
	}

	return &Result{
		Success:   true,
		Processed: processed,
		Skipped:   len(candidates) - processed,
		Email:     conn.Email,
	}, nil
}

// processMessage fetches, decodes and relays one message, then records the
// outcome. Recording always happens once an envelope exists, whether the
// relay succeeded or not. A detail-fetch failure leaves no record, so the
// message stays a candidate for the next tick.
func (s *Service) processMessage(ctx context.Context, conn *models.MailboxConnection, token, messageID string) error {
	raw, err := s.provider.FetchDetail(ctx, token, messageID)
	if err != nil {
		return fmt.Errorf("fetch detail: %w", err)
	}

	envelope := mail.BuildEnvelope(raw)

	if err := s.relay.Send(ctx, &envelope); err != nil {
		slog.Warn("relay failed", "message_id", messageID, "email", conn.Email, "error", err)
		return s.ledger.RecordOutcome(ctx, conn, messageID, envelope, models.StatusError, err.Error())
	}

	slog.Info("message relayed", "message_id", messageID, "email", conn.Email)
	return s.ledger.RecordOutcome(ctx, conn, messageID, envelope, models.StatusSent, "")
}

func (s *Service) connection(ctx context.Context, userID int64, targetMailbox string) (*models.MailboxConnection, error) {
	var (
		conn *models.MailboxConnection
		err  error
	)
	if target := strings.TrimSpace(targetMailbox); target != "" {
		conn, err = s.connections.GetConnectionByUserAndEmail(ctx, userID, providerName, target)
	} else {
		conn, err = s.connections.GetConnectionByUserAndProvider(ctx, userID, providerName)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoConnection
		}
		return nil, fmt.Errorf("load mailbox connection: %w", err)
	}
	return conn, nil
}
