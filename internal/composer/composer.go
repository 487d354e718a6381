// Package composer assembles the raw MIME message for one recipient of a
// campaign: rendered content, tracking pixel, click redirects and the
// threading headers that carry the correlation id.
//
// Every provider sends what this package produces. SES takes the Raw bytes
// as-is; structured-API providers read the same headers and parts from
// domain.EmailMessage.
package composer

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
)

// Config controls the URLs and domain embedded in composed mail.
type Config struct {
	// TrackingBaseURL is the public origin serving /track and /click.
	TrackingBaseURL string
	// MessageDomain is the right-hand side of generated Message-IDs.
	MessageDomain string
}

// Composer builds messages. It holds no per-message state and is safe for
// concurrent use.
type Composer struct {
	cfg      Config
	renderer *Renderer
	now      func() time.Time
}

// New creates a composer.
func New(cfg Config) *Composer {
	return &Composer{cfg: cfg, renderer: NewRenderer(), now: time.Now}
}

var (
	ErrMissingCorrelationID = errors.New("correlation id is required")
	ErrMissingRecipient     = errors.New("recipient is required")
	ErrMissingSender        = errors.New("sender address is required")
)

// Compose renders campaign c for recipient under correlationID. It does not
// send anything.
func (c *Composer) Compose(campaign *domain.Campaign, recipient, correlationID string) (*domain.EmailMessage, error) {
	switch {
	case correlationID == "":
		return nil, ErrMissingCorrelationID
	case recipient == "":
		return nil, ErrMissingRecipient
	case campaign.SenderAddress == "":
		return nil, ErrMissingSender
	}

	vars := map[string]any{
		"email":          recipient,
		"correlation_id": correlationID,
		"campaign": map[string]any{
			"id":     campaign.ID,
			"name":   campaign.Name,
			"sender": campaign.SenderName,
		},
	}

	subject, err := c.renderer.Render(campaign.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	htmlBody, err := c.renderer.Render(campaign.HTMLBody, vars)
	if err != nil {
		return nil, fmt.Errorf("html body: %w", err)
	}

	text := ""
	if campaign.TextBody != "" {
		if text, err = c.renderer.Render(campaign.TextBody, vars); err != nil {
			return nil, fmt.Errorf("text body: %w", err)
		}
	} else {
		text = plainText(htmlBody)
	}

	tracked, _, err := injectTracking(htmlBody, c.cfg.TrackingBaseURL, correlationID, recipient)
	if err != nil {
		return nil, err
	}

	messageID := correlation.MessageID(correlationID, c.messageDomain(campaign.SenderAddress))
	msg := &domain.EmailMessage{
		CorrelationID: correlationID,
		CampaignID:    campaign.ID,
		To:            recipient,
		FromName:      campaign.SenderName,
		FromEmail:     campaign.SenderAddress,
		ReplyTo:       campaign.ReplyTo,
		Subject:       sanitizeHeader(subject),
		HTMLContent:   tracked,
		TextContent:   text,
		MessageID:     messageID,
		Headers: map[string]string{
			"Message-ID":           messageID,
			"References":           messageID,
			"In-Reply-To":          messageID,
			correlation.HeaderName: correlationID,
		},
	}

	raw, err := c.build(msg)
	if err != nil {
		return nil, err
	}
	msg.Raw = raw
	return msg, nil
}

// messageDomain falls back to the sender's domain when no explicit
// Message-ID domain is configured.
func (c *Composer) messageDomain(sender string) string {
	if c.cfg.MessageDomain != "" {
		return c.cfg.MessageDomain
	}
	if i := strings.LastIndex(sender, "@"); i >= 0 && i < len(sender)-1 {
		return sender[i+1:]
	}
	return "localhost"
}

func (c *Composer) build(msg *domain.EmailMessage) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writePart(mw, "text/plain; charset=UTF-8", msg.TextContent); err != nil {
		return nil, fmt.Errorf("text part: %w", err)
	}
	if err := writePart(mw, "text/html; charset=UTF-8", msg.HTMLContent); err != nil {
		return nil, fmt.Errorf("html part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	from := (&mail.Address{Name: sanitizeHeader(msg.FromName), Address: msg.FromEmail}).String()

	// Fixed order keeps the output stable for a given boundary.
	headers := [][2]string{
		{"From", from},
		{"To", (&mail.Address{Address: msg.To}).String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", c.now().UTC().Format(time.RFC1123Z)},
		{"Message-ID", msg.Headers["Message-ID"]},
		{"References", msg.Headers["References"]},
		{"In-Reply-To", msg.Headers["In-Reply-To"]},
		{correlation.HeaderName, msg.Headers[correlation.HeaderName]},
	}
	if msg.ReplyTo != "" {
		headers = append(headers, [2]string{"Reply-To", (&mail.Address{Address: msg.ReplyTo}).String()})
	}
	headers = append(headers,
		[2]string{"MIME-Version", "1.0"},
		[2]string{"Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, mw.Boundary())},
	)

	var raw bytes.Buffer
	for _, h := range headers {
		fmt.Fprintf(&raw, "%s: %s\r\n", h[0], h[1])
	}
	raw.WriteString("\r\n")
	raw.Write(body.Bytes())
	return raw.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

// sanitizeHeader drops CR and LF so template output cannot inject headers.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(v)
}
