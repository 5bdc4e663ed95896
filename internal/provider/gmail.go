// Package provider implements the mailbox provider client consumed by the
// ingestion pipeline.
package provider

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/scholarstream/mailrelay/internal/models"
)

const (
	gmailUser     = "me"
	unreadQuery   = "is:unread"
	detailFormat  = "full"
	defaultMaxIDs = 10
)

// GmailClient talks to the Gmail REST API with a per-call access token.
type GmailClient struct{}

func NewGmailClient() *GmailClient {
	return &GmailClient{}
}

func (c *GmailClient) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create gmail client: %w", err)
	}
	return svc, nil
}

// ListUnread returns the ids of unread messages, in provider order,
// bounded by maxResults.
func (c *GmailClient) ListUnread(ctx context.Context, accessToken string, maxResults int64) ([]string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = defaultMaxIDs
	}

	resp, err := svc.Users.Messages.List(gmailUser).
		Q(unreadQuery).
		MaxResults(maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list unread messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg != nil && msg.Id != "" {
			ids = append(ids, msg.Id)
		}
	}
	return ids, nil
}

// FetchDetail retrieves the full structure of a single message. This is
// the expensive call; the pipeline only makes it for selected candidates.
func (c *GmailClient) FetchDetail(ctx context.Context, accessToken, messageID string) (*models.RawMessage, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get(gmailUser, messageID).
		Format(detailFormat).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return convertMessage(msg), nil
}

func convertMessage(msg *gmail.Message) *models.RawMessage {
	if msg == nil {
		return nil
	}
	return &models.RawMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
		Payload:      convertPart(msg.Payload),
	}
}

func convertPart(part *gmail.MessagePart) *models.MessagePart {
	if part == nil {
		return nil
	}
	converted := &models.MessagePart{
		MimeType: part.MimeType,
		Filename: part.Filename,
	}
	for _, header := range part.Headers {
		if header == nil {
			continue
		}
		converted.Headers = append(converted.Headers, models.MessageHeader{
			Name:  header.Name,
			Value: header.Value,
		})
	}
	if part.Body != nil {
		converted.Body = models.MessagePartBody{
			AttachmentID: part.Body.AttachmentId,
			Size:         part.Body.Size,
			Data:         part.Body.Data,
		}
	}
	for _, child := range part.Parts {
		if nested := convertPart(child); nested != nil {
			converted.Parts = append(converted.Parts, nested)
		}
	}
	return converted
}
