package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
)

// EventSink receives engagement events from the HTTP handlers. Publish
// must return quickly; delivery happens in the background.
type EventSink interface {
	Publish(ctx context.Context, evt domain.TrackingEvent)
}

// Transitions applies state machine transitions as of the event time.
type Transitions interface {
	ApplyAt(ctx context.Context, correlationID string, t domain.Transition, at time.Time) (*recipient.Outcome, error)
}

// Processor turns a tracking event into a recipient transition.
type Processor struct {
	transitions Transitions
}

// NewProcessor creates a processor.
func NewProcessor(t Transitions) *Processor {
	return &Processor{transitions: t}
}

// Process applies evt as of evt.Timestamp, so a hit that waited on the
// queue keeps the time it happened. Unknown recipients and events without a transition
// are dropped without error so queue consumers can delete them.
func (p *Processor) Process(ctx context.Context, evt domain.TrackingEvent) error {
	t, ok := evt.EventType.Transition()
	if !ok {
		logger.Debug("tracking event ignored", "event", evt.EventType)
		return nil
	}
	out, err := p.transitions.ApplyAt(ctx, evt.CorrelationID, t, evt.Timestamp)
	if errors.Is(err, recipient.ErrNotFound) {
		logger.Info("tracking event for unknown recipient dropped",
			"event", evt.EventType, "correlation_id", evt.CorrelationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("process %s: %w", evt.EventType, err)
	}
	logger.Debug("tracking event processed", "event", evt.EventType,
		"correlation_id", evt.CorrelationID, "applied", out.Applied)
	return nil
}

// DirectSink processes events in-process on a background goroutine, each
// bounded by a timeout and detached from the request that produced it.
type DirectSink struct {
	proc    *Processor
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDirectSink creates a direct sink. A zero timeout defaults to 2s.
func NewDirectSink(proc *Processor, timeout time.Duration) *DirectSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DirectSink{proc: proc, timeout: timeout}
}

// Publish schedules evt and returns immediately.
func (s *DirectSink) Publish(ctx context.Context, evt domain.TrackingEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.proc.Process(ctx, evt); err != nil {
			logger.Warn("tracking event failed", "event", evt.EventType,
				"correlation_id", evt.CorrelationID, "error", err)
		}
	}()
}

// Wait blocks until every published event has been handled.
func (s *DirectSink) Wait() {
	s.wg.Wait()
}
