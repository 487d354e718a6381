package reply

import (
	"context"

	"github.com/ignite/outreach-tracker/internal/domain"
)

// Repository stores correlated replies. Implementations must be safe for
// concurrent use.
type Repository interface {
	// Save inserts r unless a reply with the same InboundMessageID exists.
	// inserted is false for a duplicate, which is not an error.
	Save(ctx context.Context, r *domain.ReplyRecord) (inserted bool, err error)

	// ListByCorrelation returns the replies to one recipient, oldest first.
	ListByCorrelation(ctx context.Context, correlationID string) ([]domain.ReplyRecord, error)
}
