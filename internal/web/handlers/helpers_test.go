package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/lib/pq"

	"github.com/scholarstream/mailrelay/internal/models"
	"github.com/scholarstream/mailrelay/internal/web/middleware"
)

// authedRequest attaches an authenticated user the way the auth middleware
// would, so handlers can be exercised without the full router.
func authedRequest(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserContextKey, user))
}

func testUser() *models.User {
	return &models.User{ID: 7, Email: "owner@example.com"}
}

func do(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

type mockConnectionStore struct {
	conn      *models.MailboxConnection
	created   []models.MailboxConnectionCreateParams
	createErr error
}

func (m *mockConnectionStore) CreateConnection(ctx context.Context, params models.MailboxConnectionCreateParams) (*models.MailboxConnection, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, params)
	return &models.MailboxConnection{
		ID:           1,
		UserID:       params.UserID,
		Provider:     params.Provider,
		Email:        params.Email,
		RefreshToken: params.RefreshToken,
	}, nil
}

func (m *mockConnectionStore) GetConnectionByUserAndProvider(ctx context.Context, userID int64, provider string) (*models.MailboxConnection, error) {
	if m.conn == nil {
		return nil, sql.ErrNoRows
	}
	return m.conn, nil
}

func (m *mockConnectionStore) GetConnectionByUserAndEmail(ctx context.Context, userID int64, provider, email string) (*models.MailboxConnection, error) {
	if m.conn == nil || m.conn.Email != email {
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
	listed  []models.ProcessedMessage
	listErr error
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
	return &models.ProcessedMessage{ProviderMessageID: params.ProviderMessageID}, nil
}

func (m *mockRecordStore) HasProcessedMessage(ctx context.Context, userID int64, connectionEmail, providerMessageID string) (bool, error) {
	_, ok := m.records[recordKey{userID, connectionEmail, providerMessageID}]
	return ok, nil
}

func (m *mockRecordStore) ListProcessedMessagesByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.ProcessedMessage, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listed, nil
}

type mockMarkerStore struct {
	markers map[string]*models.BootstrapMarker
}

func newMockMarkerStore() *mockMarkerStore {
	return &mockMarkerStore{markers: make(map[string]*models.BootstrapMarker)}
}

func (m *mockMarkerStore) CreateBootstrapMarker(ctx context.Context, userID int64, connectionEmail string, sweptCount int) (*models.BootstrapMarker, error) {
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
	unread []string
}

func (m *mockProvider) ListUnread(ctx context.Context, accessToken string, maxResults int64) ([]string, error) {
	return m.unread, nil
}

func (m *mockProvider) FetchDetail(ctx context.Context, accessToken, messageID string) (*models.RawMessage, error) {
	return &models.RawMessage{ID: messageID, Payload: &models.MessagePart{}}, nil
}

type mockRelay struct {
	sent int
}

func (m *mockRelay) Send(ctx context.Context, envelope *models.Envelope) error {
	m.sent++
	return nil
}

type mockTokenSource struct {
	err error
}

func (m *mockTokenSource) ValidAccessToken(ctx context.Context, conn *models.MailboxConnection) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "access-token", nil
}

var errBoom = errors.New("boom")
