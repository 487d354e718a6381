package reply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/storage"
)

const (
	archiveTimeout = 5 * time.Second
	applyTimeout   = 10 * time.Second
)

// Inbound is the notification posted by the inbound mail provider.
type Inbound struct {
	MessageID  string         `json:"messageId"`
	Headers    InboundHeaders `json:"headers"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Subject    string         `json:"subject"`
	HTML       string         `json:"html"`
	Text       string         `json:"text"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// InboundHeaders carries the threading headers of the inbound message.
type InboundHeaders struct {
	References string `json:"references"`
	InReplyTo  string `json:"in-reply-to"`
	MessageID  string `json:"message-id"`
}

// Result reports what the correlator did.
type Result struct {
	Reply     *domain.ReplyRecord `json:"reply"`
	Duplicate bool                `json:"duplicate"`
	Applied   bool                `json:"applied"`
}

// Recipients is the part of the state store the correlator needs.
type Recipients interface {
	Get(ctx context.Context, correlationID string) (*domain.RecipientRecord, error)
	ApplyAt(ctx context.Context, correlationID string, t domain.Transition, at time.Time) (*recipient.Outcome, error)
}

// Archiver keeps the raw inbound payload. Optional.
type Archiver interface {
	Put(ctx context.Context, key string, data any) error
}

// Service is the reply correlator.
type Service struct {
	repo       Repository
	recipients Recipients
	archive    Archiver
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a correlator. archive may be nil.
func NewService(repo Repository, recipients Recipients, archive Archiver) *Service {
	return &Service{
		repo:       repo,
		recipients: recipients,
		archive:    archive,
		metrics:    metrics.Default,
		now:        time.Now,
	}
}

// WithMetrics swaps the metrics sink.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Correlate attributes and stores one inbound message. A redelivered
// message is not stored again and never counts twice.
func (s *Service) Correlate(ctx context.Context, in Inbound) (*Result, error) {
	if strings.TrimSpace(in.From) == "" {
		s.metrics.RecordReply("malformed")
		return nil, fmt.Errorf("%w: from is required", ErrMalformed)
	}

	id, ok := correlation.FromReferences(in.Headers.References)
	if !ok {
		id, ok = correlation.FromReferences(in.Headers.InReplyTo)
	}
	if !ok {
		s.metrics.RecordReply("unattributable")
		logger.Info("inbound reply has no correlation token", "from", in.From)
		return nil, ErrUnattributable
	}

	rec, err := s.recipients.Get(ctx, id)
	if err != nil {
		if errors.Is(err, recipient.ErrNotFound) {
			s.metrics.RecordReply("unattributable")
			logger.Info("inbound reply references unknown recipient", "correlation_id", id)
			return nil, fmt.Errorf("%w: unknown correlation id %s", ErrUnattributable, id)
		}
		return nil, fmt.Errorf("lookup recipient %s: %w", id, err)
	}

	received := in.ReceivedAt
	if received.IsZero() {
		received = s.now()
	}
	body := in.Text
	if body == "" {
		body = in.HTML
	}
	r := &domain.ReplyRecord{
		ID:               uuid.NewString(),
		InboundMessageID: inboundID(in, body),
		CorrelationID:    id,
		CampaignID:       rec.CampaignID,
		From:             in.From,
		To:               in.To,
		Subject:          in.Subject,
		Body:             body,
		ReceivedAt:       received.UTC(),
	}

	inserted, err := s.repo.Save(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}
	if inserted {
		s.archiveRaw(ctx, r, in)
	}

	// The replied transition is idempotent, so a redelivery re-applies it.
	// That heals a first delivery whose apply failed after the save.
	out, err := s.applyReplied(ctx, id, r.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("apply replied: %w", err)
	}
	if !inserted {
		s.metrics.RecordReply("duplicate")
		if out.Applied {
			logger.Warn("duplicate inbound reply recovered replied flag",
				"inbound_message_id", r.InboundMessageID, "correlation_id", id)
		} else {
			logger.Debug("duplicate inbound reply ignored", "inbound_message_id", r.InboundMessageID)
		}
		return &Result{Reply: r, Duplicate: true, Applied: out.Applied}, nil
	}

	s.metrics.RecordReply("stored")
	logger.Info("inbound reply correlated", "correlation_id", id, "campaign_id", rec.CampaignID,
		"from", in.From, "first_reply", out.Applied)
	return &Result{Reply: r, Applied: out.Applied}, nil
}

// applyReplied outlives the caller once the reply row is stored.
func (s *Service) applyReplied(ctx context.Context, id string, at time.Time) (*recipient.Outcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
	defer cancel()
	return s.recipients.ApplyAt(ctx, id, domain.TransitionReplied, at)
}

// ListByCorrelation returns the replies stored for one recipient.
func (s *Service) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.ReplyRecord, error) {
	return s.repo.ListByCorrelation(ctx, correlationID)
}

func (s *Service) archiveRaw(ctx context.Context, r *domain.ReplyRecord, in Inbound) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	key := storage.DatedKey("replies", r.ReceivedAt, r.CorrelationID+"/"+r.ID)
	if err := s.archive.Put(ctx, key, in); err != nil {
		logger.Warn("inbound reply archive failed", "key", key, "error", err)
	}
}

// inboundID prefers the provider's id, then the message's own Message-ID,
// then a content hash so retried deliveries still collapse.
func inboundID(in Inbound, body string) string {
	if v := strings.TrimSpace(in.MessageID); v != "" {
		return v
	}
	if v := strings.TrimSpace(in.Headers.MessageID); v != "" {
		return v
	}
	sum := sha256.Sum256([]byte(in.From + "\x00" + in.Subject + "\x00" + body))
	return "sha256:" + hex.EncodeToString(sum[:])
}
