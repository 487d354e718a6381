package composer

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
)

const testID = "0b4c8e9a-5d1f-4f6e-9a2b-7c3d8e1f0a25"

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:            "camp-1",
		Name:          "Seed round",
		Subject:       "Intro for {{ email | email_domain }}",
		HTMLBody:      `<html><body><p>Hello,</p><p>See <a href="https://deck.example.com/view?id=7&amp;v=2">our deck</a> or <a href="mailto:founder@startup.io">write us</a>.</p></body></html>`,
		SenderAddress: "founder@startup.io",
		SenderName:    "Ada Founder",
		ReplyTo:       "replies@startup.io",
	}
}

func newTestComposer() *Composer {
	c := New(Config{TrackingBaseURL: "https://t.startup.io", MessageDomain: "mail.startup.io"})
	c.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return c
}

func parseParts(t *testing.T, raw []byte) (*mail.Message, map[string]string) {
	t.Helper()
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	parts := map[string]string{}
	mr := multipart.NewReader(m.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ct, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		parts[ct] = string(b)
	}
	return m, parts
}

func TestComposeHeaders(t *testing.T) {
	msg, err := newTestComposer().Compose(testCampaign(), "partner@fund.vc", testID)
	require.NoError(t, err)

	m, _ := parseParts(t, msg.Raw)
	assert.Equal(t, "<campaign-"+testID+"@mail.startup.io>", m.Header.Get("Message-ID"))
	assert.Equal(t, m.Header.Get("Message-ID"), m.Header.Get("References"))
	assert.Equal(t, m.Header.Get("Message-ID"), m.Header.Get("In-Reply-To"))
	assert.Equal(t, testID, m.Header.Get(correlation.HeaderName))
	assert.Equal(t, "Intro for fund.vc", m.Header.Get("Subject"))
	assert.Equal(t, `"Ada Founder" <founder@startup.io>`, m.Header.Get("From"))
	assert.Equal(t, "<replies@startup.io>", m.Header.Get("Reply-To"))
	assert.Equal(t, "1.0", m.Header.Get("MIME-Version"))
}

func TestComposeReferencesRoundTrip(t *testing.T) {
	id := correlation.NewID()
	msg, err := newTestComposer().Compose(testCampaign(), "partner@fund.vc", id)
	require.NoError(t, err)

	m, _ := parseParts(t, msg.Raw)
	got, ok := correlation.FromReferences(m.Header.Get("References"))
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestComposeRewritesLinksAndAppendsPixel(t *testing.T) {
	msg, err := newTestComposer().Compose(testCampaign(), "partner@fund.vc", testID)
	require.NoError(t, err)

	_, parts := parseParts(t, msg.Raw)
	htmlPart := parts["text/html"]
	require.NotEmpty(t, htmlPart)

	wantClick := ClickURL("https://t.startup.io", testID, "https://deck.example.com/view?id=7&v=2")
	assert.Contains(t, htmlPart, strings.ReplaceAll(wantClick, "&", "&amp;"))
	assert.NotContains(t, htmlPart, `href="https://deck.example.com`)
	assert.Contains(t, htmlPart, `href="mailto:founder@startup.io"`)

	wantPixel := PixelURL("https://t.startup.io", testID, "partner@fund.vc")
	assert.Contains(t, htmlPart, strings.ReplaceAll(wantPixel, "&", "&amp;"))
	assert.Contains(t, htmlPart, `width="1"`)

	assert.Contains(t, parts["text/plain"], "Hello,")
	assert.Contains(t, parts["text/plain"], "https://deck.example.com/view?id=7&v=2")
}

func TestComposeWithoutLinks(t *testing.T) {
	c := testCampaign()
	c.HTMLBody = "<p>No links here.</p>"
	c.TextBody = "No links here, {{ email }}."

	msg, err := newTestComposer().Compose(c, "partner@fund.vc", testID)
	require.NoError(t, err)

	_, parts := parseParts(t, msg.Raw)
	assert.NotContains(t, parts["text/html"], "/click?")
	assert.Contains(t, parts["text/html"], "/track?")
	assert.Equal(t, "No links here, partner@fund.vc.", parts["text/plain"])
}

func TestComposeValidation(t *testing.T) {
	c := newTestComposer()

	_, err := c.Compose(testCampaign(), "partner@fund.vc", "")
	assert.ErrorIs(t, err, ErrMissingCorrelationID)

	_, err = c.Compose(testCampaign(), "", testID)
	assert.ErrorIs(t, err, ErrMissingRecipient)

	noSender := testCampaign()
	noSender.SenderAddress = ""
	_, err = c.Compose(noSender, "partner@fund.vc", testID)
	assert.ErrorIs(t, err, ErrMissingSender)
}

func TestComposeSanitizesSubject(t *testing.T) {
	c := testCampaign()
	c.Subject = "Hi\r\nBcc: victim@example.com"

	msg, err := newTestComposer().Compose(c, "partner@fund.vc", testID)
	require.NoError(t, err)

	m, _ := parseParts(t, msg.Raw)
	assert.Empty(t, m.Header.Get("Bcc"))
	assert.Equal(t, "Hi Bcc: victim@example.com", m.Header.Get("Subject"))
}

func TestTrackable(t *testing.T) {
	tests := []struct {
		href string
		want bool
	}{
		{"https://example.com/a", true},
		{"http://example.com", true},
		{"mailto:a@b.com", false},
		{"tel:+15551234", false},
		{"#section", false},
		{"/relative/path", false},
		{"https://t.startup.io/click?x=1", false},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, trackable(tt.href, "https://t.startup.io"))
		})
	}
}

func TestClickURLEncodesTarget(t *testing.T) {
	raw := ClickURL("https://t.startup.io/", testID, "https://x.io/a?b=1&c=2")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/click", u.Path)
	assert.Equal(t, testID, u.Query().Get("correlationId"))
	assert.Equal(t, "https://x.io/a?b=1&c=2", u.Query().Get("url"))
}
