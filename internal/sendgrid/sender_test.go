package sendgrid

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
)

type fakeClient struct {
	got  *mail.SGMailV3
	resp *rest.Response
	err  error
}

func (f *fakeClient) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.got = m
	return f.resp, f.err
}

func testMessage() *domain.EmailMessage {
	id := "6f1c2b9e-8d4a-4c1e-9f1a-2b3c4d5e6f70"
	mid := correlation.MessageID(id, "startup.example")
	return &domain.EmailMessage{
		CorrelationID: id,
		CampaignID:    "seed",
		To:            "lp@fund.example",
		FromName:      "Ada",
		FromEmail:     "ada@startup.example",
		ReplyTo:       "ir@startup.example",
		Subject:       "Seed round",
		HTMLContent:   "<p>hi</p>",
		TextContent:   "hi",
		MessageID:     mid,
		Headers: map[string]string{
			"Message-ID":           mid,
			"References":           mid,
			correlation.HeaderName: id,
		},
	}
}

func TestSender_Send(t *testing.T) {
	fc := &fakeClient{resp: &rest.Response{
		StatusCode: http.StatusAccepted,
		Headers:    map[string][]string{"X-Message-Id": {"sg-123"}},
	}}
	res, err := NewSender(fc).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "sg-123", res.ProviderMessageID)
	assert.Equal(t, domain.ProviderSendGrid, res.Provider)

	m := fc.got
	assert.Equal(t, "ada@startup.example", m.From.Address)
	assert.Equal(t, "ir@startup.example", m.ReplyTo.Address)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "lp@fund.example", m.Personalizations[0].To[0].Address)
	assert.Equal(t, "6f1c2b9e-8d4a-4c1e-9f1a-2b3c4d5e6f70", m.Personalizations[0].CustomArgs["correlation_id"])
	assert.Equal(t, testMessage().MessageID, m.Headers["Message-ID"])
	assert.Equal(t, "6f1c2b9e-8d4a-4c1e-9f1a-2b3c4d5e6f70", m.Headers[correlation.HeaderName])
	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.False(t, *m.TrackingSettings.ClickTracking.Enable)
	assert.False(t, *m.TrackingSettings.OpenTracking.Enable)
}

func TestSender_GeneratesIDWhenMissing(t *testing.T) {
	fc := &fakeClient{resp: &rest.Response{StatusCode: http.StatusAccepted}}
	res, err := NewSender(fc).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProviderMessageID)
}

func TestSender_ErrorStatus(t *testing.T) {
	fc := &fakeClient{resp: &rest.Response{StatusCode: http.StatusUnauthorized, Body: `{"errors":[{"message":"bad key"}]}`}}
	_, err := NewSender(fc).Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSender_TransportError(t *testing.T) {
	fc := &fakeClient{err: errors.New("dial tcp: timeout")}
	_, err := NewSender(fc).Send(context.Background(), testMessage())
	assert.Error(t, err)
}
