package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
)

// RecipientRepo implements recipient.Repository in memory.
type RecipientRepo struct {
	mu      sync.Mutex
	records map[string]*domain.RecipientRecord // keyed by correlation id
	byEmail map[string]string                  // campaign id + "\x00" + email -> correlation id
}

// NewRecipientRepo creates an empty recipient repository.
func NewRecipientRepo() *RecipientRepo {
	return &RecipientRepo{
		records: make(map[string]*domain.RecipientRecord),
		byEmail: make(map[string]string),
	}
}

func emailKey(campaignID, email string) string { return campaignID + "\x00" + email }

func (r *RecipientRepo) Create(_ context.Context, rec *domain.RecipientRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.CorrelationID]; ok {
		return recipient.ErrDuplicate
	}
	key := emailKey(rec.CampaignID, rec.Email)
	if _, ok := r.byEmail[key]; ok {
		return recipient.ErrDuplicate
	}
	cp := *rec
	r.records[rec.CorrelationID] = &cp
	r.byEmail[key] = rec.CorrelationID
	return nil
}

func (r *RecipientRepo) Get(_ context.Context, correlationID string) (*domain.RecipientRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[correlationID]
	if !ok {
		return nil, recipient.ErrNotFound
	}
	return clone(rec), nil
}

func (r *RecipientRepo) ConditionalUpdate(_ context.Context, correlationID string, u recipient.Update) (*domain.RecipientRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[correlationID]
	if !ok {
		return nil, false, recipient.ErrNotFound
	}
	if !rec.CanApply(u.Transition) {
		return clone(rec), false, nil
	}
	rec.Apply(u.Transition, u.At)
	if u.Transition == domain.TransitionSent && u.ProviderMessageID != "" {
		rec.ProviderMessageID = u.ProviderMessageID
	}
	return clone(rec), true, nil
}

func (r *RecipientRepo) ListByCampaign(_ context.Context, campaignID string, f recipient.ListFilter) ([]domain.RecipientRecord, int, error) {
	r.mu.Lock()
	var out []domain.RecipientRecord
	for _, rec := range r.records {
		if rec.CampaignID != campaignID {
			continue
		}
		if f.Status != "" && string(rec.Status) != f.Status {
			continue
		}
		out = append(out, *clone(rec))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

// clone copies rec including the time pointers so callers cannot mutate
// stored state.
func clone(rec *domain.RecipientRecord) *domain.RecipientRecord {
	cp := *rec
	cp.OpenedAt = copyTime(rec.OpenedAt)
	cp.LastClickedAt = copyTime(rec.LastClickedAt)
	cp.LastReplyAt = copyTime(rec.LastReplyAt)
	return &cp
}
