package recipient

import (
	"context"
	"time"

	"github.com/ignite/outreach-tracker/internal/domain"
)

// Repository defines the data access contract for recipient records.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a pending record. Returns ErrDuplicate when the
	// correlation id or the (campaign, email) pair already exists.
	Create(ctx context.Context, r *domain.RecipientRecord) error

	// Get returns one record. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, correlationID string) (*domain.RecipientRecord, error)

	// ConditionalUpdate applies u in one atomic step guarded by the
	// transition's precondition (domain.RecipientRecord.CanApply). It
	// returns the record after the attempt and whether the update applied.
	// Returns ErrNotFound if no record has the id.
	ConditionalUpdate(ctx context.Context, correlationID string, u Update) (*domain.RecipientRecord, bool, error)

	// ListByCampaign returns a campaign's records ordered by created_at.
	ListByCampaign(ctx context.Context, campaignID string, filter ListFilter) ([]domain.RecipientRecord, int, error)
}

// Update is one state machine step.
type Update struct {
	Transition domain.Transition
	At         time.Time
	// ProviderMessageID is stored with TransitionSent and ignored otherwise.
	ProviderMessageID string
}

// ListFilter controls pagination for record lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// Aggregates receives campaign counter increments after a transition
// commits. *campaign.Service satisfies it.
type Aggregates interface {
	IncrementCounter(ctx context.Context, campaignID string, counter domain.Counter, n int) error
}
