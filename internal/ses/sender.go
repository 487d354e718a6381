package ses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
)

// SendEmailAPI is the subset of *sesv2.Client used by Sender.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// ErrEmptyMessage is returned when a message reaches the sender without a
// composed raw body.
var ErrEmptyMessage = errors.New("ses: message has no raw content")

// Sender delivers composed messages through SES v2 as raw MIME, so the
// Message-ID, References and correlation headers reach the recipient
// exactly as composed.
type Sender struct {
	api              SendEmailAPI
	configurationSet string
	now              func() time.Time
}

// NewSender creates a raw SES sender. configurationSet routes engagement
// events to the SNS topic behind the webhook; empty disables it.
func NewSender(api SendEmailAPI, configurationSet string) *Sender {
	return &Sender{api: api, configurationSet: configurationSet, now: time.Now}
}

// NewSenderFromConfig builds a Sender on a real SES v2 client.
func NewSenderFromConfig(cfg aws.Config, configurationSet string) *Sender {
	return NewSender(sesv2.NewFromConfig(cfg), configurationSet)
}

// Send submits msg.Raw. Provider rejections come back as errors; the
// dispatcher turns them into per-recipient failures.
func (s *Sender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if len(msg.Raw) == 0 {
		return nil, ErrEmptyMessage
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.FromEmail),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: msg.Raw},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("correlation_id"), Value: aws.String(tagValue(msg.CorrelationID))},
			{Name: aws.String("campaign_id"), Value: aws.String(tagValue(msg.CampaignID))},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("ses send failed", "recipient", msg.To, "correlation_id", msg.CorrelationID, "error", err)
		return nil, fmt.Errorf("ses send: %w", err)
	}

	res := &domain.SendResult{
		ProviderMessageID: aws.ToString(out.MessageId),
		Provider:          domain.ProviderSES,
		SentAt:            s.now().UTC(),
	}
	logger.Debug("ses send accepted", "recipient", msg.To, "provider_message_id", res.ProviderMessageID)
	return res, nil
}

// tagValue maps v onto the SES tag alphabet: letters, digits, '_' and '-'.
func tagValue(v string) string {
	if v == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, v)
}
