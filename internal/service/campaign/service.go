package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateInput holds the fields for creating a new campaign. ID is optional;
// callers that already own an identifier (the dispatch trigger) pass it.
type CreateInput struct {
	ID            string `json:"id" validate:"omitempty,max=128"`
	Name          string `json:"name" validate:"max=256"`
	Subject       string `json:"subject" validate:"required,max=998"`
	HTMLBody      string `json:"html_body" validate:"required"`
	TextBody      string `json:"text_body"`
	SenderAddress string `json:"sender_address" validate:"required,email"`
	SenderName    string `json:"sender_name" validate:"max=256"`
	ReplyTo       string `json:"reply_to" validate:"omitempty,email"`
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// Create validates and persists a new campaign.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	input.SenderAddress = strings.TrimSpace(input.SenderAddress)
	input.ReplyTo = strings.TrimSpace(input.ReplyTo)
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}

	c := &domain.Campaign{
		ID:            input.ID,
		Name:          input.Name,
		Subject:       input.Subject,
		HTMLBody:      input.HTMLBody,
		TextBody:      input.TextBody,
		SenderAddress: input.SenderAddress,
		SenderName:    input.SenderName,
		ReplyTo:       input.ReplyTo,
		CreatedAt:     s.now().UTC(),
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = c.Subject
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.Info("campaign created", "campaign_id", c.ID, "sender_email", c.SenderAddress)
	return c, nil
}

// Ensure returns the stored campaign for input.ID, creating it from input
// when it does not exist yet. Stored content always wins over input: a
// campaign is immutable once created. created reports whether a new row
// was written.
func (s *Service) Ensure(ctx context.Context, input CreateInput) (c *domain.Campaign, created bool, err error) {
	if input.ID != "" {
		c, err = s.repo.Get(ctx, input.ID)
		if err == nil {
			return c, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	c, err = s.Create(ctx, input)
	if errors.Is(err, ErrAlreadyExists) {
		// Lost a create race with a concurrent trigger.
		c, err = s.repo.Get(ctx, input.ID)
		return c, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// IncrementCounter adds n to one aggregate counter.
func (s *Service) IncrementCounter(ctx context.Context, id string, counter domain.Counter, n int) error {
	if !counter.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCounter, counter)
	}
	return s.repo.IncrementCounter(ctx, id, counter, n)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
