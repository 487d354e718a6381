package recipient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
)

const aggregateTimeout = 5 * time.Second

// Outcome is the result of one transition attempt.
type Outcome struct {
	Record  *domain.RecipientRecord
	Applied bool
}

// Service drives recipient records through the state machine.
type Service struct {
	repo       Repository
	aggregates Aggregates
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a state store service. aggregates may be nil, in which
// case campaign counters are not maintained.
func NewService(repo Repository, aggregates Aggregates) *Service {
	return &Service{
		repo:       repo,
		aggregates: aggregates,
		metrics:    metrics.Default,
		now:        time.Now,
	}
}

// WithMetrics swaps the metrics sink; tests pass a private registry.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Register creates the pending record for one recipient of a campaign.
func (s *Service) Register(ctx context.Context, campaignID, email, correlationID string) (*domain.RecipientRecord, error) {
	if !correlation.Valid(correlationID) {
		return nil, fmt.Errorf("register %s: invalid correlation id %q", campaignID, correlationID)
	}
	now := s.now().UTC()
	r := &domain.RecipientRecord{
		CorrelationID: correlationID,
		CampaignID:    campaignID,
		Email:         strings.ToLower(strings.TrimSpace(email)),
		Status:        domain.RecipientPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns one record by correlation id.
func (s *Service) Get(ctx context.Context, correlationID string) (*domain.RecipientRecord, error) {
	return s.repo.Get(ctx, correlationID)
}

// ListByCampaign returns a page of a campaign's records.
func (s *Service) ListByCampaign(ctx context.Context, campaignID string, f ListFilter) ([]domain.RecipientRecord, int, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.ListByCampaign(ctx, campaignID, f)
}

// MarkSent records provider acceptance and the provider's message id.
func (s *Service) MarkSent(ctx context.Context, correlationID, providerMessageID string) (*Outcome, error) {
	return s.apply(ctx, correlationID, Update{
		Transition:        domain.TransitionSent,
		ProviderMessageID: providerMessageID,
	})
}

// Apply runs one state machine transition. Returns ErrNotFound for an
// unknown correlation id; a transition whose precondition fails is not an
// error and comes back with Applied false.
func (s *Service) Apply(ctx context.Context, correlationID string, t domain.Transition) (*Outcome, error) {
	return s.apply(ctx, correlationID, Update{Transition: t})
}

// ApplyAt is Apply for an event that happened at a known time, such as a
// queued pixel hit or a provider notification. openedAt, lastClickedAt and
// lastReplyAt take that time. A zero or future at means now.
func (s *Service) ApplyAt(ctx context.Context, correlationID string, t domain.Transition, at time.Time) (*Outcome, error) {
	return s.apply(ctx, correlationID, Update{Transition: t, At: at})
}

func (s *Service) apply(ctx context.Context, correlationID string, u Update) (*Outcome, error) {
	if !u.Transition.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransition, u.Transition)
	}
	now := s.now().UTC()
	if u.At.IsZero() || u.At.After(now) {
		u.At = now
	} else {
		u.At = u.At.UTC()
	}

	rec, applied, err := s.repo.ConditionalUpdate(ctx, correlationID, u)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.RecordTransition(string(u.Transition), "not_found")
			return nil, err
		}
		s.metrics.RecordTransition(string(u.Transition), "error")
		return nil, fmt.Errorf("apply %s to %s: %w", u.Transition, correlationID, err)
	}

	if !applied {
		s.metrics.RecordTransition(string(u.Transition), "noop")
		logger.Debug("recipient transition skipped",
			"correlation_id", correlationID, "transition", u.Transition, "status", rec.Status)
		return &Outcome{Record: rec, Applied: false}, nil
	}

	s.metrics.RecordTransition(string(u.Transition), "applied")
	s.bumpAggregate(ctx, rec.CampaignID, u.Transition.Counter())
	return &Outcome{Record: rec, Applied: true}, nil
}

// bumpAggregate detaches from the caller's cancellation so a client that
// disconnects right after its transition committed still gets counted.
func (s *Service) bumpAggregate(ctx context.Context, campaignID string, counter domain.Counter) {
	if s.aggregates == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), aggregateTimeout)
	defer cancel()
	if err := s.aggregates.IncrementCounter(ctx, campaignID, counter, 1); err != nil {
		logger.Warn("campaign aggregate increment failed",
			"campaign_id", campaignID, "counter", counter, "error", err)
	}
}
