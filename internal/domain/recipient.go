package domain

import "time"

// RecipientStatus enumerates the delivery states of a single recipient.
// Engagement (opened, clicks, replied) is tracked with orthogonal flags.
type RecipientStatus string

const (
	RecipientPending    RecipientStatus = "pending"
	RecipientSent       RecipientStatus = "sent"
	RecipientDelivered  RecipientStatus = "delivered"
	RecipientBounced    RecipientStatus = "bounced"
	RecipientComplained RecipientStatus = "complained"
)

// RecipientRecord is one (campaign, recipient email) pair. CorrelationID is
// the primary key and the only key used to resolve inbound events.
type RecipientRecord struct {
	CorrelationID     string          `json:"correlation_id" db:"correlation_id" dynamodbav:"correlation_id"`
	CampaignID        string          `json:"campaign_id" db:"campaign_id" dynamodbav:"campaign_id"`
	Email             string          `json:"email" db:"email" dynamodbav:"email"`
	Status            RecipientStatus `json:"status" db:"status" dynamodbav:"status"`
	ProviderMessageID string          `json:"provider_message_id,omitempty" db:"provider_message_id" dynamodbav:"provider_message_id,omitempty"`

	Delivered     bool       `json:"delivered" db:"delivered" dynamodbav:"delivered"`
	Opened        bool       `json:"opened" db:"opened" dynamodbav:"opened"`
	OpenedAt      *time.Time `json:"opened_at,omitempty" db:"opened_at" dynamodbav:"opened_at,omitempty"`
	Clicks        int        `json:"clicks" db:"clicks" dynamodbav:"clicks"`
	LastClickedAt *time.Time `json:"last_clicked_at,omitempty" db:"last_clicked_at" dynamodbav:"last_clicked_at,omitempty"`
	Replied       bool       `json:"replied" db:"replied" dynamodbav:"replied"`
	LastReplyAt   *time.Time `json:"last_reply_at,omitempty" db:"last_reply_at" dynamodbav:"last_reply_at,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" dynamodbav:"updated_at"`
}

// Transition is a state-machine event applied to a RecipientRecord.
type Transition string

const (
	TransitionSent       Transition = "sent"
	TransitionDelivered  Transition = "delivered"
	TransitionBounced    Transition = "bounced"
	TransitionComplained Transition = "complained"
	TransitionOpened     Transition = "opened"
	TransitionClicked    Transition = "clicked"
	TransitionReplied    Transition = "replied"
)

// Counter returns the campaign aggregate bumped when t is applied.
func (t Transition) Counter() Counter {
	switch t {
	case TransitionSent:
		return CounterSent
	case TransitionDelivered:
		return CounterDelivered
	case TransitionBounced:
		return CounterBounced
	case TransitionComplained:
		return CounterComplained
	case TransitionOpened:
		return CounterOpened
	case TransitionClicked:
		return CounterClicked
	case TransitionReplied:
		return CounterReplied
	}
	return ""
}

// Valid reports whether t is a known transition.
func (t Transition) Valid() bool { return t.Counter() != "" }

// CanApply reports whether t would change r. Stores evaluate the same
// predicate atomically; this copy exists for in-memory stores and tests.
func (r *RecipientRecord) CanApply(t Transition) bool {
	switch t {
	case TransitionSent:
		return r.Status == RecipientPending
	case TransitionDelivered:
		return r.Status == RecipientSent
	case TransitionBounced:
		return r.Status == RecipientSent || r.Status == RecipientDelivered
	case TransitionComplained:
		return r.Status != RecipientComplained
	case TransitionOpened:
		return !r.Opened
	case TransitionClicked:
		return true
	case TransitionReplied:
		return !r.Replied
	}
	return false
}

// Apply mutates r for t at the given time. Callers must check CanApply first.
func (r *RecipientRecord) Apply(t Transition, at time.Time) {
	switch t {
	case TransitionSent:
		r.Status = RecipientSent
	case TransitionDelivered:
		r.Status = RecipientDelivered
		r.Delivered = true
	case TransitionBounced:
		r.Status = RecipientBounced
	case TransitionComplained:
		r.Status = RecipientComplained
	case TransitionOpened:
		r.Opened = true
		r.OpenedAt = &at
	case TransitionClicked:
		r.Clicks++
		r.LastClickedAt = &at
	case TransitionReplied:
		r.Replied = true
		r.LastReplyAt = &at
	}
	r.UpdatedAt = at
}

// ReplyRecord is an inbound message correlated to a RecipientRecord.
type ReplyRecord struct {
	ID               string    `json:"id" db:"id" dynamodbav:"id"`
	InboundMessageID string    `json:"inbound_message_id" db:"inbound_message_id" dynamodbav:"inbound_message_id"`
	CorrelationID    string    `json:"correlation_id" db:"correlation_id" dynamodbav:"correlation_id"`
	CampaignID       string    `json:"campaign_id" db:"campaign_id" dynamodbav:"campaign_id"`
	From             string    `json:"from" db:"from_address" dynamodbav:"from"`
	To               string    `json:"to" db:"to_address" dynamodbav:"to"`
	Subject          string    `json:"subject" db:"subject" dynamodbav:"subject"`
	Body             string    `json:"body" db:"body" dynamodbav:"body"`
	ReceivedAt       time.Time `json:"received_at" db:"received_at" dynamodbav:"received_at"`
}
