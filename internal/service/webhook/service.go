package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/ses"
)

// Outcomes reported for one webhook request.
const (
	OutcomeConfirmed     = "confirmed"
	OutcomeApplied       = "applied"
	OutcomeNoop          = "noop"
	OutcomeIgnored       = "ignored"
	OutcomeUnknown       = "unknown_recipient"
	OutcomeTopicRejected = "topic_rejected"
	OutcomeError         = "error"
)

// Confirmer completes SNS subscription handshakes.
type Confirmer interface {
	Confirm(ctx context.Context, env *ses.Envelope) error
}

// Transitions applies state machine transitions.
type Transitions interface {
	ApplyAt(ctx context.Context, correlationID string, t domain.Transition, at time.Time) (*recipient.Outcome, error)
}

// Config for the ingestor. An empty AllowedTopicARNs accepts any topic.
type Config struct {
	Timeout          time.Duration
	AllowedTopicARNs []string
}

// Result describes what happened to one notification.
type Result struct {
	Outcome       string                   `json:"outcome"`
	EventType     domain.TrackingEventType `json:"event_type,omitempty"`
	CorrelationID string                   `json:"correlation_id,omitempty"`
}

// Service is the webhook event ingestor.
type Service struct {
	cfg         Config
	allowed     map[string]struct{}
	confirmer   Confirmer
	transitions Transitions
	metrics     *metrics.Metrics
}

// NewService creates an ingestor. A zero Timeout defaults to 10s.
func NewService(cfg Config, confirmer Confirmer, transitions Transitions) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedTopicARNs) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedTopicARNs))
		for _, arn := range cfg.AllowedTopicARNs {
			allowed[arn] = struct{}{}
		}
	}
	return &Service{
		cfg:         cfg,
		allowed:     allowed,
		confirmer:   confirmer,
		transitions: transitions,
		metrics:     metrics.Default,
	}
}

// WithMetrics swaps the metrics sink.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Handle processes one SNS POST body. Only ErrMalformed should reach the
// client; every other error is logged by the caller and acknowledged.
func (s *Service) Handle(ctx context.Context, body []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	env, err := ses.ParseEnvelope(body)
	if err != nil {
		s.metrics.RecordWebhook("unknown", "malformed")
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if s.allowed != nil {
		if _, ok := s.allowed[env.TopicArn]; !ok {
			logger.Warn("webhook from unexpected topic dropped", "topic_arn", env.TopicArn, "type", env.Type)
			return s.done(env.Type, &Result{Outcome: OutcomeTopicRejected}), nil
		}
	}

	switch env.Type {
	case ses.TypeSubscriptionConfirmation:
		if err := s.confirmer.Confirm(ctx, env); err != nil {
			s.done(env.Type, &Result{Outcome: OutcomeError})
			return nil, fmt.Errorf("confirm subscription: %w", err)
		}
		return s.done(env.Type, &Result{Outcome: OutcomeConfirmed}), nil
	case ses.TypeNotification:
		return s.notification(ctx, env)
	default:
		logger.Debug("webhook message type ignored", "type", env.Type)
		return s.done(env.Type, &Result{Outcome: OutcomeIgnored}), nil
	}
}

func (s *Service) notification(ctx context.Context, env *ses.Envelope) (*Result, error) {
	ev, err := ses.DecodeEvent(env.Message)
	if err != nil {
		s.metrics.RecordWebhook("unknown", "malformed")
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind := ev.Kind()
	res := &Result{EventType: kind}
	t, ok := kind.Transition()
	if !ok {
		logger.Debug("webhook event ignored", "event", ev.Name())
		res.Outcome = OutcomeIgnored
		return s.done(string(kind), res), nil
	}

	id, ok := ev.CorrelationID()
	if !ok {
		logger.Info("webhook event without usable correlation id dropped", "event", ev.Name(), "message_id", ev.Mail.MessageID)
		res.Outcome = OutcomeUnknown
		return s.done(string(kind), res), nil
	}
	res.CorrelationID = id

	evt := ev.TrackingEvent(id)
	out, err := s.transitions.ApplyAt(ctx, id, t, evt.Timestamp)
	switch {
	case errors.Is(err, recipient.ErrNotFound):
		logger.Info("webhook event for unknown recipient dropped", "event", kind, "correlation_id", id)
		res.Outcome = OutcomeUnknown
	case err != nil:
		res.Outcome = OutcomeError
		s.done(string(kind), res)
		return nil, err
	case out.Applied:
		res.Outcome = OutcomeApplied
	default:
		res.Outcome = OutcomeNoop
	}
	return s.done(string(kind), res), nil
}

func (s *Service) done(event string, res *Result) *Result {
	s.metrics.RecordWebhook(event, res.Outcome)
	return res
}
