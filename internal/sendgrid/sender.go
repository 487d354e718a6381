// Package sendgrid sends composed messages through the SendGrid v3 Mail
// Send API. SendGrid builds its own MIME, so the composer's threading and
// correlation headers are passed as custom headers.
package sendgrid

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
)

// Client is the subset of *sendgrid.Client used here.
type Client interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Sender implements sending.Sender on SendGrid.
type Sender struct {
	client Client
	now    func() time.Time
}

// NewSender wraps an existing client.
func NewSender(client Client) *Sender {
	return &Sender{client: client, now: time.Now}
}

// NewSenderWithKey builds a Sender on the official client.
func NewSenderWithKey(apiKey string) *Sender {
	return NewSender(sg.NewSendClient(apiKey))
}

// Send submits msg. SendGrid's own open and click tracking are disabled;
// the composed HTML already carries ours.
func (s *Sender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	resp, err := s.client.SendWithContext(ctx, build(msg))
	if err != nil {
		logger.Warn("sendgrid send failed", "recipient", msg.To, "correlation_id", msg.CorrelationID, "error", err)
		return nil, fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		logger.Warn("sendgrid rejected message", "recipient", msg.To, "status", resp.StatusCode)
		return nil, fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}

	id := messageID(resp.Headers)
	if id == "" {
		id = uuid.NewString()
	}
	return &domain.SendResult{
		ProviderMessageID: id,
		Provider:          domain.ProviderSendGrid,
		SentAt:            s.now().UTC(),
	}, nil
}

func build(msg *domain.EmailMessage) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(msg.FromName, msg.FromEmail))
	m.Subject = msg.Subject
	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	p.SetCustomArg("correlation_id", msg.CorrelationID)
	p.SetCustomArg("campaign_id", msg.CampaignID)
	m.AddPersonalizations(p)

	if msg.TextContent != "" {
		m.AddContent(mail.NewContent("text/plain", msg.TextContent))
	}
	m.AddContent(mail.NewContent("text/html", msg.HTMLContent))

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetHeader(k, msg.Headers[k])
	}

	ts := mail.NewTrackingSettings()
	ts.SetClickTracking(mail.NewClickTrackingSetting().SetEnable(false))
	ts.SetOpenTracking(mail.NewOpenTrackingSetting().SetEnable(false))
	m.SetTrackingSettings(ts)
	return m
}

func messageID(h map[string][]string) string {
	for _, k := range []string{"X-Message-Id", "X-Message-ID", "x-message-id"} {
		if v := h[k]; len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
