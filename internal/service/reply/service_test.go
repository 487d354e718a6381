package reply_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/repository/memory"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/service/reply"
)

type memArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *memArchive) Put(_ context.Context, key string, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return a.err
}

type harness struct {
	svc        *reply.Service
	recipients *recipient.Service
	campaigns  *campaign.Service
	replies    *memory.ReplyRepo
	archive    *memArchive
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	campaigns := campaign.NewService(memory.NewCampaignRepo())
	recipients := recipient.NewService(memory.NewRecipientRepo(), campaigns).WithMetrics(m)
	replies := memory.NewReplyRepo()
	archive := &memArchive{}
	svc := reply.NewService(replies, recipients, archive).WithMetrics(m)
	return &harness{svc: svc, recipients: recipients, campaigns: campaigns, replies: replies, archive: archive}
}

// seed creates a campaign and a sent recipient and returns its id.
func (h *harness) seed(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	_, err := h.campaigns.Create(ctx, campaign.CreateInput{
		ID:            "seed",
		Subject:       "Seed round",
		HTMLBody:      "<p>hi</p>",
		SenderAddress: "ada@startup.example",
	})
	require.NoError(t, err)
	id := correlation.NewID()
	_, err = h.recipients.Register(ctx, "seed", "lp@fund.example", id)
	require.NoError(t, err)
	_, err = h.recipients.MarkSent(ctx, id, "ses-1")
	require.NoError(t, err)
	return id
}

func inbound(id string) reply.Inbound {
	mid := correlation.MessageID(id, "startup.example")
	return reply.Inbound{
		MessageID: "inbound-1",
		Headers: reply.InboundHeaders{
			References: "<other@mail.example> " + mid,
			InReplyTo:  mid,
		},
		From:       "lp@fund.example",
		To:         "ada@startup.example",
		Subject:    "Re: Seed round",
		Text:       "Interested, let's talk.",
		ReceivedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestCorrelate_StoresAndApplies(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	ctx := context.Background()

	res, err := h.svc.Correlate(ctx, inbound(id))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.Duplicate)
	assert.Equal(t, id, res.Reply.CorrelationID)
	assert.Equal(t, "seed", res.Reply.CampaignID)

	rec, err := h.recipients.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Replied)
	require.NotNil(t, rec.LastReplyAt)

	c, err := h.campaigns.Get(ctx, "seed")
	require.NoError(t, err)
	assert.Equal(t, 1, c.RepliedCount)

	require.Len(t, h.archive.keys, 1)
	assert.Contains(t, h.archive.keys[0], "replies/2026/03/02/"+id+"/")
}

func TestCorrelate_DuplicateDeliveryIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	ctx := context.Background()

	_, err := h.svc.Correlate(ctx, inbound(id))
	require.NoError(t, err)
	res, err := h.svc.Correlate(ctx, inbound(id))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	replies, err := h.svc.ListByCorrelation(ctx, id)
	require.NoError(t, err)
	assert.Len(t, replies, 1)

	c, _ := h.campaigns.Get(ctx, "seed")
	assert.Equal(t, 1, c.RepliedCount)
}

func TestCorrelate_SecondReplyStoredWithoutCounter(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	ctx := context.Background()

	_, err := h.svc.Correlate(ctx, inbound(id))
	require.NoError(t, err)

	second := inbound(id)
	second.MessageID = "inbound-2"
	res, err := h.svc.Correlate(ctx, second)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Applied)

	replies, _ := h.svc.ListByCorrelation(ctx, id)
	assert.Len(t, replies, 2)
	c, _ := h.campaigns.Get(ctx, "seed")
	assert.Equal(t, 1, c.RepliedCount)
}

func TestCorrelate_InReplyToFallback(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	in := inbound(id)
	in.Headers.References = ""

	res, err := h.svc.Correlate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, id, res.Reply.CorrelationID)
}

func TestCorrelate_Unattributable(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	in := inbound(correlation.NewID())
	_, err := h.svc.Correlate(ctx, in)
	assert.ErrorIs(t, err, reply.ErrUnattributable)

	in.Headers = reply.InboundHeaders{References: "<CAF123@mail.gmail.com>"}
	_, err = h.svc.Correlate(ctx, in)
	assert.ErrorIs(t, err, reply.ErrUnattributable)

	// Same sender and subject as a real recipient must not match.
	in.Headers = reply.InboundHeaders{}
	_, err = h.svc.Correlate(ctx, in)
	assert.ErrorIs(t, err, reply.ErrUnattributable)

	assert.Empty(t, h.archive.keys)
}

func TestCorrelate_InboundIDFallbacks(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	ctx := context.Background()

	in := inbound(id)
	in.MessageID = ""
	in.Headers.MessageID = "<reply-1@fund.example>"
	res, err := h.svc.Correlate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "<reply-1@fund.example>", res.Reply.InboundMessageID)

	in.Headers.MessageID = ""
	res, err = h.svc.Correlate(ctx, in)
	require.NoError(t, err)
	assert.Contains(t, res.Reply.InboundMessageID, "sha256:")

	res, err = h.svc.Correlate(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestCorrelate_ReplyOnBouncedRecipient(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	ctx := context.Background()
	_, err := h.recipients.Apply(ctx, id, domain.TransitionBounced)
	require.NoError(t, err)

	res, err := h.svc.Correlate(ctx, inbound(id))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	rec, _ := h.recipients.Get(ctx, id)
	assert.Equal(t, domain.RecipientBounced, rec.Status)
	assert.True(t, rec.Replied)
}

func TestCorrelate_ArchiveFailureDoesNotFail(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	h.archive.err = errors.New("s3 unavailable")

	res, err := h.svc.Correlate(context.Background(), inbound(id))
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestCorrelate_Malformed(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Correlate(context.Background(), reply.Inbound{})
	assert.ErrorIs(t, err, reply.ErrMalformed)
}

type flakyRecipients struct {
	*recipient.Service
	fails int
}

func (f *flakyRecipients) ApplyAt(ctx context.Context, id string, t domain.Transition, at time.Time) (*recipient.Outcome, error) {
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("store timeout")
	}
	return f.Service.ApplyAt(ctx, id, t, at)
}

func TestCorrelate_RedeliveryHealsFailedApply(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t)
	ctx := context.Background()
	svc := reply.NewService(h.replies, &flakyRecipients{Service: h.recipients, fails: 1}, h.archive).
		WithMetrics(metrics.New(prometheus.NewRegistry()))

	_, err := svc.Correlate(ctx, inbound(id))
	require.Error(t, err)

	res, err := svc.Correlate(ctx, inbound(id))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Applied)

	replies, err := svc.ListByCorrelation(ctx, id)
	require.NoError(t, err)
	assert.Len(t, replies, 1)

	rec, err := h.recipients.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Replied)
	c, _ := h.campaigns.Get(ctx, "seed")
	assert.Equal(t, 1, c.RepliedCount)

	res, err = svc.Correlate(ctx, inbound(id))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	c, _ = h.campaigns.Get(ctx, "seed")
	assert.Equal(t, 1, c.RepliedCount)
}
