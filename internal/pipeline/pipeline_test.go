package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/scholarstream/mailrelay/internal/ledger"
	"github.com/scholarstream/mailrelay/internal/models"
	"github.com/scholarstream/mailrelay/internal/relay"
)

// --- mocks -----------------------------------------------------------------

type mockConnectionStore struct {
	conn *models.MailboxConnection
}

func (m *mockConnectionStore) CreateConnection(ctx context.Context, params models.MailboxConnectionCreateParams) (*models.MailboxConnection, error) {
	return nil, errors.New("not implemented")
}

func (m *mockConnectionStore) GetConnectionByUserAndProvider(ctx context.Context, userID int64, provider string) (*models.MailboxConnection, error) {
	if m.conn == nil || m.conn.UserID != userID || m.conn.Provider != provider {
		return nil, sql.ErrNoRows
	}
	return m.conn, nil
}

func (m *mockConnectionStore) GetConnectionByUserAndEmail(ctx context.Context, userID int64, provider, email string) (*models.MailboxConnection, error) {
	if m.conn == nil || m.conn.UserID != userID || m.conn.Provider != provider || m.conn.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.conn, nil
}

func (m *mockConnectionStore) UpdateConnectionToken(ctx context.Context, id int64, accessToken string, expiresAt time.Time) error {
	return nil
}

type recordKey struct {
	userID int64
	email  string
	msgID  string
}

type mockRecordStore struct {
	records map[recordKey]models.ProcessedMessageCreateParams
	order   []string
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{records: make(map[recordKey]models.ProcessedMessageCreateParams)}
}

func (m *mockRecordStore) CreateProcessedMessage(ctx context.Context, params models.ProcessedMessageCreateParams) (*models.ProcessedMessage, error) {
	key := recordKey{params.UserID, params.ConnectionEmail, params.ProviderMessageID}
	if _, ok := m.records[key]; ok {
		return nil, &pq.Error{Code: "23505"}
	}
	m.records[key] = params
	m.order = append(m.order, params.ProviderMessageID)
	return &models.ProcessedMessage{ProviderMessageID: params.ProviderMessageID}, nil
}

func (m *mockRecordStore) HasProcessedMessage(ctx context.Context, userID int64, connectionEmail, providerMessageID string) (bool, error) {
	_, ok := m.records[recordKey{userID, connectionEmail, providerMessageID}]
	return ok, nil
}

func (m *mockRecordStore) ListProcessedMessagesByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.ProcessedMessage, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRecordStore) get(conn *models.MailboxConnection, msgID string) (models.ProcessedMessageCreateParams, bool) {
	params, ok := m.records[recordKey{conn.UserID, conn.Email, msgID}]
	return params, ok
}

type mockMarkerStore struct {
	markers map[string]*models.BootstrapMarker
}

func newMockMarkerStore() *mockMarkerStore {
	return &mockMarkerStore{markers: make(map[string]*models.BootstrapMarker)}
}

func (m *mockMarkerStore) CreateBootstrapMarker(ctx context.Context, userID int64, connectionEmail string, sweptCount int) (*models.BootstrapMarker, error) {
	if _, ok := m.markers[connectionEmail]; ok {
		return nil, &pq.Error{Code: "23505"}
	}
	marker := &models.BootstrapMarker{UserID: userID, ConnectionEmail: connectionEmail, SweptCount: sweptCount}
	m.markers[connectionEmail] = marker
	return marker, nil
}

func (m *mockMarkerStore) GetBootstrapMarker(ctx context.Context, userID int64, connectionEmail string) (*models.BootstrapMarker, error) {
	marker, ok := m.markers[connectionEmail]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return marker, nil
}

type mockProvider struct {
	unread      []string
	listErr     error
	detailErr   error
	detailCalls []string
}

func (m *mockProvider) ListUnread(ctx context.Context, accessToken string, maxResults int64) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if int64(len(m.unread)) > maxResults {
		return m.unread[:maxResults], nil
	}
	return m.unread, nil
}

func (m *mockProvider) FetchDetail(ctx context.Context, accessToken, messageID string) (*models.RawMessage, error) {
	m.detailCalls = append(m.detailCalls, messageID)
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	return &models.RawMessage{
		ID: messageID,
		Payload: &models.MessagePart{
			Headers: []models.MessageHeader{{Name: "Subject", Value: "subject of " + messageID}},
		},
	}, nil
}

type mockRelay struct {
	sent []models.Envelope
	err  error
}

func (m *mockRelay) Send(ctx context.Context, envelope *models.Envelope) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, *envelope)
	return nil
}

type mockTokenSource struct {
	token string
	err   error
	calls int
}

func (m *mockTokenSource) ValidAccessToken(ctx context.Context, conn *models.MailboxConnection) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.token, nil
}

// --- fixture ---------------------------------------------------------------

type fixture struct {
	svc      *Service
	conns    *mockConnectionStore
	records  *mockRecordStore
	markers  *mockMarkerStore
	provider *mockProvider
	relay    *mockRelay
	tokens   *mockTokenSource
	user     *models.User
}

func newFixture(opts Options) *fixture {
	user := &models.User{ID: 7, Email: "owner@example.com"}
	f := &fixture{
		conns: &mockConnectionStore{conn: &models.MailboxConnection{
			ID: 1, UserID: user.ID, Provider: "gmail", Email: "inbox@example.com",
		}},
		records:  newMockRecordStore(),
		markers:  newMockMarkerStore(),
		provider: &mockProvider{},
		relay:    &mockRelay{},
		tokens:   &mockTokenSource{token: "access-token"},
		user:     user,
	}
	f.svc = NewService(f.conns, f.tokens, f.provider, f.relay,
		ledger.NewService(f.records, f.markers), opts)
	return f
}

// bootstrap runs the first tick so later ticks exercise steady state.
func (f *fixture) bootstrap(t *testing.T) {
	t.Helper()
	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Initialized {
		t.Fatalf("expected first run to initialize, got %+v", result)
	}
}

// --- tests -----------------------------------------------------------------

func TestRun_FirstRunSweepsWithoutRelaying(t *testing.T) {
	f := newFixture(Options{})
	f.provider.unread = []string{"old-1", "old-2", "old-3"}

	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !result.Success || !result.Initialized {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Processed != 0 || result.Skipped != 3 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(f.relay.sent) != 0 {
		t.Fatalf("backlog messages must never reach the relay, sent %d", len(f.relay.sent))
	}
	if len(f.records.records) != 3 {
		t.Fatalf("expected 3 swept records, got %d", len(f.records.records))
	}
}

func TestRun_AtMostOnePerTickByDefault(t *testing.T) {
	f := newFixture(Options{})
	f.provider.unread = nil
	f.bootstrap(t)

	f.provider.unread = []string{"n1", "n2", "n3", "n4", "n5"}
	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Processed != 1 || result.Skipped != 4 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(f.relay.sent) != 1 || f.relay.sent[0].MessageID != "n1" {
		t.Fatalf("expected exactly n1 relayed, got %+v", f.relay.sent)
	}
	params, ok := f.records.get(f.conns.conn, "n1")
	if !ok || params.Status != models.StatusSent {
		t.Fatalf("expected sent record for n1, got %+v", params)
	}
}

func TestRun_ConfigurableMaxPerTick(t *testing.T) {
	f := newFixture(Options{MaxPerTick: 3})
	f.provider.unread = nil
	f.bootstrap(t)

	f.provider.unread = []string{"n1", "n2", "n3", "n4", "n5"}
	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Processed != 3 || result.Skipped != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(f.relay.sent) != 3 {
		t.Fatalf("expected 3 relayed, got %d", len(f.relay.sent))
	}
}

func TestRun_SecondTickDoesNotRelayAgain(t *testing.T) {
	f := newFixture(Options{})
	f.provider.unread = nil
	f.bootstrap(t)

	// The message stays unread upstream across both ticks; only the first
	// must relay it.
	f.provider.unread = []string{"n1"}
	if _, err := f.svc.Run(context.Background(), f.user, RunOptions{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Processed != 0 || result.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.Message != "no new messages" {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if len(f.relay.sent) != 1 {
		t.Fatalf("expected single relay across both ticks, got %d", len(f.relay.sent))
	}
}

func TestRun_BacklogThenNewMessage(t *testing.T) {
	f := newFixture(Options{})
	f.provider.unread = []string{"old-1", "old-2", "old-3"}
	f.bootstrap(t)

	f.provider.unread = []string{"old-1", "old-2", "old-3", "fresh-1"}
	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Processed != 1 || result.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(f.relay.sent) != 1 || f.relay.sent[0].MessageID != "fresh-1" {
		t.Fatalf("expected only fresh-1 relayed, got %+v", f.relay.sent)
	}
}

func TestRun_RelayFailureRecordsErrorAndSkipsNextTick(t *testing.T) {
	f := newFixture(Options{})
	f.provider.unread = nil
	f.bootstrap(t)

	f.provider.unread = []string{"n1"}
	f.relay.err = &relay.Error{StatusCode: 500, Body: "upstream exploded"}

	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("relay failure must not fail the tick, got %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	params, ok := f.records.get(f.conns.conn, "n1")
	if !ok {
		t.Fatalf("expected error outcome recorded for n1")
	}
	if params.Status != models.StatusError {
		t.Fatalf("unexpected status: %q", params.Status)
	}
	if !strings.Contains(params.ErrorMessage, "upstream exploded") {
		t.Fatalf("error detail must capture the relay body, got %q", params.ErrorMessage)
	}

	// The failed message is ledgered and must not be retried.
	f.relay.err = nil
	result, err = f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Processed != 0 || len(f.relay.sent) != 0 {
		t.Fatalf("failed message must not be relayed later: %+v, sent %d", result, len(f.relay.sent))
	}
}

func TestRun_DetailFetchFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(Options{})
	f.provider.unread = nil
	f.bootstrap(t)

	f.provider.unread = []string{"n1"}
	f.provider.detailErr = errors.New("transient upstream failure")

	if _, err := f.svc.Run(context.Background(), f.user, RunOptions{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := f.records.get(f.conns.conn, "n1"); ok {
		t.Fatalf("detail-fetch failure must leave no ledger record")
	}

	// The message stays a candidate and succeeds on the next tick.
	f.provider.detailErr = nil
	result, err := f.svc.Run(context.Background(), f.user, RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Processed != 1 || len(f.relay.sent) != 1 {
		t.Fatalf("expected retry to relay n1: %+v", result)
	}
}

func TestRun_NoConnection(t *testing.T) {
	f := newFixture(Options{})
	f.conns.conn = nil

	if _, err := f.svc.Run(context.Background(), f.user, RunOptions{}); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
}

func TestRun_TargetMailboxSelectsConnection(t *testing.T) {
	f := newFixture(Options{})
	f.provider.unread = nil

	result, err := f.svc.Run(context.Background(), f.user, RunOptions{TargetMailbox: "inbox@example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Email != "inbox@example.com" {
		t.Fatalf("unexpected email: %q", result.Email)
	}

	if _, err := f.svc.Run(context.Background(), f.user, RunOptions{TargetMailbox: "other@example.com"}); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection for unknown mailbox, got %v", err)
	}
}

func TestRun_TokenSourceErrorPropagates(t *testing.T) {
	f := newFixture(Options{})
	f.tokens.err = errors.New("refresh rejected")

	if _, err := f.svc.Run(context.Background(), f.user, RunOptions{}); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.relay.sent) != 0 {
		t.Fatalf("nothing may be relayed without a token")
	}
}

func TestRun_ListErrorPropagates(t *testing.T) {
	f := newFixture(Options{})
	f.provider.listErr = errors.New("quota exceeded")

	if _, err := f.svc.Run(context.Background(), f.user, RunOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_MaxResultsOverrideBoundsListing(t *testing.T) {
	f := newFixture(Options{ListMaxResults: 10})
	f.provider.unread = []string{"m1", "m2", "m3", "m4"}

	result, err := f.svc.Run(context.Background(), f.user, RunOptions{MaxResults: 2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Bootstrap sweeps only what the bounded listing returned.
	if result.Skipped != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
}
