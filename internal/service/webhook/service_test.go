package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/repository/memory"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/service/webhook"
	"github.com/ignite/outreach-tracker/internal/ses"
)

const topic = "arn:aws:sns:us-east-1:123456789012:outreach-events"

type fakeConfirmer struct {
	calls []*ses.Envelope
	err   error
}

func (f *fakeConfirmer) Confirm(_ context.Context, env *ses.Envelope) error {
	f.calls = append(f.calls, env)
	return f.err
}

type harness struct {
	svc        *webhook.Service
	recipients *recipient.Service
	confirmer  *fakeConfirmer
}

func newHarness(t *testing.T, allowed ...string) *harness {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	recipients := recipient.NewService(memory.NewRecipientRepo(), nil).WithMetrics(m)
	fc := &fakeConfirmer{}
	svc := webhook.NewService(webhook.Config{AllowedTopicARNs: allowed}, fc, recipients).WithMetrics(m)
	return &harness{svc: svc, recipients: recipients, confirmer: fc}
}

// sentRecord registers a recipient and marks it sent.
func (h *harness) sentRecord(t *testing.T) string {
	t.Helper()
	id := correlation.NewID()
	ctx := context.Background()
	_, err := h.recipients.Register(ctx, "seed", "lp@fund.example", id)
	require.NoError(t, err)
	_, err = h.recipients.MarkSent(ctx, id, "ses-1")
	require.NoError(t, err)
	return id
}

func event(eventType, id string, extra map[string]any) string {
	ev := map[string]any{
		"eventType": eventType,
		"mail": map[string]any{
			"messageId":   "ses-1",
			"destination": []string{"lp@fund.example"},
			"headers":     []map[string]string{{"name": "X-Campaign-Message-Id", "value": id}},
		},
	}
	for k, v := range extra {
		ev[k] = v
	}
	b, _ := json.Marshal(ev)
	return string(b)
}

func notification(message string) []byte {
	b, _ := json.Marshal(map[string]string{"Type": "Notification", "TopicArn": topic, "Message": message})
	return b
}

func TestHandle_Delivery(t *testing.T) {
	h := newHarness(t)
	id := h.sentRecord(t)

	res, err := h.svc.Handle(context.Background(), notification(event("Delivery", id, nil)))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, res.Outcome)

	rec, err := h.recipients.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientDelivered, rec.Status)
	assert.True(t, rec.Delivered)
}

func TestHandle_OpenTwiceAppliesOnce(t *testing.T) {
	h := newHarness(t)
	id := h.sentRecord(t)
	body := notification(event("Open", id, nil))

	res, err := h.svc.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, res.Outcome)

	res, err = h.svc.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeNoop, res.Outcome)
}

func TestHandle_OpenUsesProviderTimestamp(t *testing.T) {
	h := newHarness(t)
	id := h.sentRecord(t)
	openedAt := time.Now().Add(-90 * time.Minute).UTC().Truncate(time.Second)
	body := notification(event("Open", id, map[string]any{
		"open": map[string]string{"timestamp": openedAt.Format(time.RFC3339), "ipAddress": "203.0.113.9"},
	}))

	_, err := h.svc.Handle(context.Background(), body)
	require.NoError(t, err)

	rec, err := h.recipients.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec.OpenedAt)
	assert.True(t, openedAt.Equal(*rec.OpenedAt), "openedAt %v, want %v", rec.OpenedAt, openedAt)
}

func TestHandle_BounceThenDeliveryStaysBounced(t *testing.T) {
	h := newHarness(t)
	id := h.sentRecord(t)
	ctx := context.Background()

	_, err := h.svc.Handle(ctx, notification(event("Bounce", id, map[string]any{"bounce": map[string]string{"bounceType": "Permanent"}})))
	require.NoError(t, err)
	res, err := h.svc.Handle(ctx, notification(event("Delivery", id, nil)))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeNoop, res.Outcome)

	rec, _ := h.recipients.Get(ctx, id)
	assert.Equal(t, domain.RecipientBounced, rec.Status)
	assert.False(t, rec.Delivered)
}

func TestHandle_TransientBounceIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.sentRecord(t)

	res, err := h.svc.Handle(context.Background(),
		notification(event("Bounce", id, map[string]any{"bounce": map[string]string{"bounceType": "Transient"}})))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome)

	rec, _ := h.recipients.Get(context.Background(), id)
	assert.Equal(t, domain.RecipientSent, rec.Status)
}

func TestHandle_DoubleEncodedMessage(t *testing.T) {
	h := newHarness(t)
	id := h.sentRecord(t)
	inner, _ := json.Marshal(event("Delivery", id, nil))

	res, err := h.svc.Handle(context.Background(), notification(string(inner)))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, res.Outcome)
}

func TestHandle_UnknownCorrelationAcknowledged(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Handle(context.Background(), notification(event("Delivery", correlation.NewID(), nil)))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeUnknown, res.Outcome)

	res, err = h.svc.Handle(context.Background(), notification(event("Delivery", "not-a-uuid", nil)))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeUnknown, res.Outcome)
}

func TestHandle_UnsupportedEvent(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Handle(context.Background(), notification(event("DeliveryDelay", correlation.NewID(), nil)))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome)
}

func TestHandle_Malformed(t *testing.T) {
	h := newHarness(t)
	for _, body := range [][]byte{
		[]byte("garbage"),
		notification("not json at all"),
		notification(`{"mail":{}}`),
	} {
		_, err := h.svc.Handle(context.Background(), body)
		assert.ErrorIs(t, err, webhook.ErrMalformed, string(body))
	}
}

func TestHandle_SubscriptionConfirmation(t *testing.T) {
	h := newHarness(t)
	id := h.sentRecord(t)
	body, _ := json.Marshal(map[string]string{
		"Type":         "SubscriptionConfirmation",
		"TopicArn":     topic,
		"Token":        "tok-123",
		"SubscribeURL": "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription",
		"Message":      "You have chosen to subscribe to the topic",
	})

	res, err := h.svc.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeConfirmed, res.Outcome)
	require.Len(t, h.confirmer.calls, 1)
	assert.Equal(t, "tok-123", h.confirmer.calls[0].Token)

	rec, _ := h.recipients.Get(context.Background(), id)
	assert.Equal(t, domain.RecipientSent, rec.Status)
}

func TestHandle_ConfirmationFailure(t *testing.T) {
	h := newHarness(t)
	h.confirmer.err = errors.New("sns down")
	body, _ := json.Marshal(map[string]string{"Type": "SubscriptionConfirmation", "TopicArn": topic, "Token": "t"})

	_, err := h.svc.Handle(context.Background(), body)
	require.Error(t, err)
	assert.NotErrorIs(t, err, webhook.ErrMalformed)
}

func TestHandle_TopicAllowList(t *testing.T) {
	h := newHarness(t, "arn:aws:sns:us-east-1:123456789012:other")
	id := h.sentRecord(t)

	res, err := h.svc.Handle(context.Background(), notification(event("Delivery", id, nil)))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeTopicRejected, res.Outcome)

	rec, _ := h.recipients.Get(context.Background(), id)
	assert.Equal(t, domain.RecipientSent, rec.Status)
}

type slowTransitions struct{}

func (slowTransitions) ApplyAt(ctx context.Context, _ string, _ domain.Transition, _ time.Time) (*recipient.Outcome, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandle_Timeout(t *testing.T) {
	svc := webhook.NewService(webhook.Config{Timeout: 10 * time.Millisecond}, &fakeConfirmer{}, slowTransitions{}).
		WithMetrics(metrics.New(prometheus.NewRegistry()))

	_, err := svc.Handle(context.Background(), notification(event("Open", correlation.NewID(), nil)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
