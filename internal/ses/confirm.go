package ses

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/ignite/outreach-tracker/internal/pkg/httpretry"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
)

// ConfirmSubscriptionAPI is the subset of *sns.Client used to confirm
// webhook subscriptions.
type ConfirmSubscriptionAPI interface {
	ConfirmSubscription(ctx context.Context, in *sns.ConfirmSubscriptionInput, optFns ...func(*sns.Options)) (*sns.ConfirmSubscriptionOutput, error)
}

// SubscriptionConfirmer answers SNS SubscriptionConfirmation messages.
type SubscriptionConfirmer struct {
	api  ConfirmSubscriptionAPI
	http httpretry.HTTPDoer
}

// NewSubscriptionConfirmer confirms through the SNS API when api is set,
// and falls back to visiting SubscribeURL with doer.
func NewSubscriptionConfirmer(api ConfirmSubscriptionAPI, doer httpretry.HTTPDoer) *SubscriptionConfirmer {
	return &SubscriptionConfirmer{api: api, http: doer}
}

// NewSubscriptionConfirmerFromConfig builds a confirmer on a real SNS
// client with a retrying HTTP fallback.
func NewSubscriptionConfirmerFromConfig(cfg aws.Config) *SubscriptionConfirmer {
	return NewSubscriptionConfirmer(sns.NewFromConfig(cfg), httpretry.NewRetryClient(nil, 3))
}

// Confirm completes the subscription described by env.
func (c *SubscriptionConfirmer) Confirm(ctx context.Context, env *Envelope) error {
	if c.api != nil && env.TopicArn != "" && env.Token != "" {
		out, err := c.api.ConfirmSubscription(ctx, &sns.ConfirmSubscriptionInput{
			TopicArn: aws.String(env.TopicArn),
			Token:    aws.String(env.Token),
		})
		if err != nil {
			return fmt.Errorf("sns confirm subscription: %w", err)
		}
		logger.Info("sns subscription confirmed", "topic_arn", env.TopicArn,
			"subscription_arn", aws.ToString(out.SubscriptionArn))
		return nil
	}
	return c.visit(ctx, env.SubscribeURL)
}

// visit only follows https URLs on an amazonaws.com host, so a forged
// confirmation cannot turn the webhook into an open request relay.
func (c *SubscriptionConfirmer) visit(ctx context.Context, raw string) error {
	if c.http == nil {
		return fmt.Errorf("sns confirm: no SNS client or HTTP fallback configured")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return fmt.Errorf("sns confirm: refusing SubscribeURL %q", raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("sns confirm: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sns confirm: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sns confirm: SubscribeURL returned %d", resp.StatusCode)
	}
	logger.Info("sns subscription confirmed via SubscribeURL", "host", u.Host)
	return nil
}
