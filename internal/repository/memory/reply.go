package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/outreach-tracker/internal/domain"
)

// ReplyRepo implements reply.Repository in memory.
type ReplyRepo struct {
	mu      sync.Mutex
	replies map[string]domain.ReplyRecord // keyed by inbound message id
}

// NewReplyRepo creates an empty reply repository.
func NewReplyRepo() *ReplyRepo {
	return &ReplyRepo{replies: make(map[string]domain.ReplyRecord)}
}

func (r *ReplyRepo) Save(_ context.Context, rec *domain.ReplyRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.replies[rec.InboundMessageID]; ok {
		return false, nil
	}
	r.replies[rec.InboundMessageID] = *rec
	return true, nil
}

func (r *ReplyRepo) ListByCorrelation(_ context.Context, correlationID string) ([]domain.ReplyRecord, error) {
	r.mu.Lock()
	var out []domain.ReplyRecord
	for _, rec := range r.replies {
		if rec.CorrelationID == correlationID {
			out = append(out, rec)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
