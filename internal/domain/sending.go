package domain

import "time"

// ProviderType identifies the transactional mail provider used for sending.
type ProviderType string

const (
	ProviderSES      ProviderType = "ses"
	ProviderSendGrid ProviderType = "sendgrid"
)

// EmailMessage is the fully-composed message ready for a provider. By the
// time a message reaches this struct, template rendering, tracking
// injection and threading headers are complete.
type EmailMessage struct {
	CorrelationID string            `json:"correlation_id"`
	CampaignID    string            `json:"campaign_id"`
	To            string            `json:"to"`
	FromName      string            `json:"from_name"`
	FromEmail     string            `json:"from_email"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Subject       string            `json:"subject"`
	HTMLContent   string            `json:"html_content"`
	TextContent   string            `json:"text_content"`
	MessageID     string            `json:"message_id"`
	Headers       map[string]string `json:"headers,omitempty"`

	// Raw is the complete RFC 5322 message, headers and multipart body.
	Raw []byte `json:"-"`
}

// SendResult is returned by a provider after it accepted a message.
type SendResult struct {
	ProviderMessageID string       `json:"provider_message_id"`
	Provider          ProviderType `json:"provider"`
	SentAt            time.Time    `json:"sent_at"`
}
