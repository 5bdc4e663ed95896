package mail

import (
	netmail "net/mail"
	"strings"
	"time"

	"github.com/scholarstream/mailrelay/internal/models"
)

// BuildEnvelope normalizes a raw provider message into the fixed-shape
// envelope relayed to the webhook. Missing fields default to empty values.
func BuildEnvelope(raw *models.RawMessage) models.Envelope {
	env := models.Envelope{
		Attachments: []models.EnvelopeAttachment{},
	}
	if raw == nil {
		return env
	}
	env.MessageID = raw.ID
	env.ThreadID = raw.ThreadID

	payload := raw.Payload
	if payload == nil {
		return env
	}

	env.From = DecodeHeader(payload.Header("From"))
	env.To = DecodeHeader(payload.Header("To"))
	env.Subject = DecodeHeader(payload.Header("Subject"))
	env.Date = formatDate(payload.Header("Date"))
	env.Body = DecodeBody(payload)

	collectAttachments(payload.Parts, &env)
	env.HasAttachments = len(env.Attachments) > 0
	return env
}

func collectAttachments(parts []*models.MessagePart, env *models.Envelope) {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if part.Filename != "" {
			mimeType := part.MimeType
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			env.Attachments = append(env.Attachments, models.EnvelopeAttachment{
				ID:       part.Body.AttachmentID,
				Filename: part.Filename,
				MimeType: mimeType,
				Size:     part.Body.Size,
			})
			continue
		}
		collectAttachments(part.Parts, env)
	}
}

func formatDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	t, err := netmail.ParseDate(raw)
	if err != nil {
		return raw
	}
	return t.Format(time.RFC1123Z)
}
