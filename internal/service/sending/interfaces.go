// Package sending defines the contract between the dispatcher and the
// transactional mail providers.
//
// Each provider (SES, SendGrid) implements Sender. Messages arrive fully
// composed; a provider must not alter threading headers or tracking URLs.
package sending

import (
	"context"

	"github.com/ignite/outreach-tracker/internal/domain"
)

// Sender sends a single composed message. Implementations must be safe for
// concurrent use and must honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	return f(ctx, msg)
}
