package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/distlock"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/service/sending"
)

// Result statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

const (
	errCancelled  = "cancelled"
	errLockLost   = "dispatch lock lost"
	errUnrecorded = "accepted by provider but delivery state not recorded"
)

const (
	markSentAttempts = 3
	markSentBackoff  = 100 * time.Millisecond
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Input is a dispatch trigger. CampaignID is optional; without one a new
// campaign is created from the content fields.
type Input struct {
	CampaignID    string   `json:"campaign_id" validate:"omitempty,max=128"`
	Recipients    []string `json:"recipients" validate:"required,min=1,max=10000"`
	Subject       string   `json:"subject"`
	HTMLBody      string   `json:"html_body"`
	TextBody      string   `json:"text_body"`
	SenderAddress string   `json:"sender_address"`
	SenderName    string   `json:"sender_name"`
	ReplyTo       string   `json:"reply_to"`
}

// Result is the outcome for one recipient.
type Result struct {
	Recipient         string `json:"recipient"`
	Status            string `json:"status"`
	CorrelationID     string `json:"correlation_id,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Summary is the response to a dispatch trigger.
type Summary struct {
	CampaignID   string   `json:"campaign_id"`
	SentCount    int      `json:"sent_count"`
	FailureCount int      `json:"failure_count"`
	Results      []Result `json:"results"`
}

// Config controls batching.
type Config struct {
	BatchSize   int
	BatchDelay  time.Duration
	SendTimeout time.Duration
}

// Campaigns resolves or creates the campaign being dispatched.
type Campaigns interface {
	Ensure(ctx context.Context, input campaign.CreateInput) (*domain.Campaign, bool, error)
}

// Recipients is the state store the dispatcher writes to.
type Recipients interface {
	Register(ctx context.Context, campaignID, email, correlationID string) (*domain.RecipientRecord, error)
	MarkSent(ctx context.Context, correlationID, providerMessageID string) (*recipient.Outcome, error)
}

// Composer builds the per-recipient message.
type Composer interface {
	Compose(c *domain.Campaign, recipient, correlationID string) (*domain.EmailMessage, error)
}

// Service runs dispatches.
type Service struct {
	cfg        Config
	campaigns  Campaigns
	recipients Recipients
	composer   Composer
	sender     sending.Sender
	locks      distlock.Factory
	metrics    *metrics.Metrics
	newID      func() string
}

// NewService wires a dispatcher. A zero Config gets batches of 10 with no
// delay between them and a 30s send timeout.
func NewService(cfg Config, campaigns Campaigns, recipients Recipients, composer Composer, sender sending.Sender, locks distlock.Factory) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if locks == nil {
		locks = distlock.NewFactory(nil, nil, 0)
	}
	return &Service{
		cfg:        cfg,
		campaigns:  campaigns,
		recipients: recipients,
		composer:   composer,
		sender:     sender,
		locks:      locks,
		metrics:    metrics.Default,
		newID:      correlation.NewID,
	}
}

// WithMetrics swaps the metrics sink.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Dispatch sends the campaign described by in. Per-recipient failures are
// reported in the summary; an error is returned only when nothing could be
// attempted (bad input, campaign store failure, lock held elsewhere).
func (s *Service) Dispatch(ctx context.Context, in Input) (*Summary, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}

	c, created, err := s.campaigns.Ensure(ctx, campaign.CreateInput{
		ID:            strings.TrimSpace(in.CampaignID),
		Subject:       in.Subject,
		HTMLBody:      in.HTMLBody,
		TextBody:      in.TextBody,
		SenderAddress: in.SenderAddress,
		SenderName:    in.SenderName,
		ReplyTo:       in.ReplyTo,
	})
	if err != nil {
		if errors.Is(err, campaign.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("ensure campaign: %w", err)
	}

	lock := s.locks(distlock.CampaignKey(c.ID))
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInProgress, c.ID)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("dispatch lock release failed", "campaign_id", c.ID, "error", err)
		}
	}()

	addrs, results := normalize(in.Recipients)
	for range results {
		s.metrics.RecordDispatch("invalid")
	}
	logger.Info("dispatch started", "campaign_id", c.ID, "campaign_created", created,
		"recipients", len(addrs), "rejected", len(results))

	sent := s.run(ctx, c, addrs, lock)
	results = append(results, sent...)

	sum := &Summary{CampaignID: c.ID, Results: results}
	for _, r := range results {
		if r.Status == StatusSent {
			sum.SentCount++
		} else {
			sum.FailureCount++
		}
	}
	logger.Info("dispatch finished", "campaign_id", c.ID,
		"sent", sum.SentCount, "failed", sum.FailureCount)
	return sum, nil
}

// run registers every address, then sends the registered ones in batches.
// Batches run one after another; recipients within a batch run
// concurrently. Registering first means a cancelled dispatch leaves the
// unsent recipients as pending records. The lock is refreshed before every
// batch; a dispatch that loses it stops sending.
func (s *Service) run(ctx context.Context, c *domain.Campaign, addrs []string, lock distlock.DistLock) []Result {
	results := make([]Result, len(addrs))

	var reg errgroup.Group
	reg.SetLimit(s.cfg.BatchSize)
	for i, addr := range addrs {
		reg.Go(func() error {
			results[i] = s.register(ctx, c, addr)
			return nil
		})
	}
	reg.Wait()

	ready := make([]int, 0, len(addrs))
	for i := range results {
		if results[i].Status == "" {
			ready = append(ready, i)
		}
	}

	for start := 0; start < len(ready); start += s.cfg.BatchSize {
		if (start > 0 && !sleep(ctx, s.cfg.BatchDelay)) || ctx.Err() != nil {
			s.cancelRest(c, results, ready[start:], errCancelled)
			break
		}
		if !s.refresh(ctx, c, lock) {
			s.cancelRest(c, results, ready[start:], errLockLost)
			break
		}
		end := min(start+s.cfg.BatchSize, len(ready))

		var g errgroup.Group
		for _, idx := range ready[start:end] {
			g.Go(func() error {
				s.send(ctx, c, &results[idx])
				return nil
			})
		}
		g.Wait()
	}
	return results
}

func (s *Service) cancelRest(c *domain.Campaign, results []Result, idxs []int, reason string) {
	for _, i := range idxs {
		results[i].Status = StatusFailed
		results[i].Error = reason
		s.metrics.RecordDispatch(errCancelled)
	}
	logger.Warn("dispatch stopped", "campaign_id", c.ID, "reason", reason, "remaining", len(idxs))
}

// refresh reports whether the dispatch still holds its campaign lock. A
// backend error is logged and the lock assumed held until its TTL says
// otherwise.
func (s *Service) refresh(ctx context.Context, c *domain.Campaign, lock distlock.DistLock) bool {
	ok, err := lock.Refresh(ctx)
	if err != nil {
		logger.Warn("dispatch lock refresh failed", "campaign_id", c.ID, "error", err)
		return true
	}
	if !ok {
		logger.Error("dispatch lock lost", "campaign_id", c.ID)
	}
	return ok
}

// register creates the pending record. A successful registration leaves
// Status empty for send to fill in.
func (s *Service) register(ctx context.Context, c *domain.Campaign, addr string) Result {
	res := Result{Recipient: addr}
	id := s.newID()
	if _, err := s.recipients.Register(ctx, c.ID, addr, id); err != nil {
		res.Status = StatusFailed
		s.metrics.RecordDispatch(StatusFailed)
		if errors.Is(err, recipient.ErrDuplicate) {
			res.Error = "recipient already registered for this campaign"
			return res
		}
		logger.Error("register recipient failed", "campaign_id", c.ID, "recipient", addr, "error", err)
		res.Error = "could not register recipient"
		return res
	}
	res.CorrelationID = id
	return res
}

func (s *Service) send(ctx context.Context, c *domain.Campaign, res *Result) {
	fail := func(msg string) {
		res.Status = StatusFailed
		res.Error = msg
		s.metrics.RecordDispatch(StatusFailed)
	}
	id := res.CorrelationID

	msg, err := s.composer.Compose(c, res.Recipient, id)
	if err != nil {
		logger.Warn("compose failed", "campaign_id", c.ID, "correlation_id", id, "error", err)
		fail("compose: " + err.Error())
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	sr, err := s.sender.Send(sendCtx, msg)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			fail(errCancelled)
			return
		}
		fail(err.Error())
		return
	}
	res.ProviderMessageID = sr.ProviderMessageID

	if err := s.markSent(ctx, id, sr.ProviderMessageID); err != nil {
		logger.Error("mark sent failed", "campaign_id", c.ID, "correlation_id", id,
			"provider_message_id", sr.ProviderMessageID, "error", err)
		fail(errUnrecorded)
		return
	}
	res.Status = StatusSent
	s.metrics.RecordDispatch(StatusSent)
}

// markSent records a provider acceptance, retrying transient store errors.
// The message is already out, so the caller going away does not stop it.
func (s *Service) markSent(ctx context.Context, id, providerMessageID string) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := range markSentAttempts {
		if attempt > 0 {
			time.Sleep(markSentBackoff * time.Duration(attempt))
		}
		if _, err = s.recipients.MarkSent(ctx, id, providerMessageID); err == nil {
			return nil
		}
		if errors.Is(err, recipient.ErrNotFound) {
			return err
		}
	}
	return err
}

// normalize trims, lower-cases, validates and deduplicates addresses. It
// returns the valid addresses in first-seen order and failed results for
// the rest.
func normalize(raw []string) ([]string, []Result) {
	seen := make(map[string]struct{}, len(raw))
	addrs := make([]string, 0, len(raw))
	var rejected []Result
	for _, r := range raw {
		addr := strings.ToLower(strings.TrimSpace(r))
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		if err := validate.Var(addr, "required,email"); err != nil {
			rejected = append(rejected, Result{Recipient: addr, Status: StatusFailed, Error: "invalid email address"})
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, rejected
}

// sleep waits d or until ctx is done. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
