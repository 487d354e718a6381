package campaign

import (
	"context"

	"github.com/ignite/outreach-tracker/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign with its counters. Returns ErrNotFound
	// if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns ordered by created_at DESC and the total count.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign with zeroed counters. Returns
	// ErrAlreadyExists on an id collision.
	Create(ctx context.Context, c *domain.Campaign) error

	// IncrementCounter atomically adds n to one aggregate column.
	// Returns ErrNotFound if the campaign doesn't exist.
	IncrementCounter(ctx context.Context, id string, counter domain.Counter, n int) error
}

// ListFilter controls pagination for campaign lists.
type ListFilter struct {
	Limit  int
	Offset int
}
