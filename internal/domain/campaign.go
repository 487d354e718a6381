package domain

import (
	"time"
)

// Campaign is an outreach batch. Content fields are immutable once the
// campaign has been dispatched; only the aggregate counters keep moving.
type Campaign struct {
	ID            string `json:"id" db:"id" dynamodbav:"id"`
	Name          string `json:"name" db:"name" dynamodbav:"name"`
	Subject       string `json:"subject" db:"subject" dynamodbav:"subject"`
	HTMLBody      string `json:"html_body" db:"html_body" dynamodbav:"html_body"`
	TextBody      string `json:"text_body" db:"text_body" dynamodbav:"text_body"`
	SenderAddress string `json:"sender_address" db:"sender_address" dynamodbav:"sender_address"`
	SenderName    string `json:"sender_name" db:"sender_name" dynamodbav:"sender_name"`
	ReplyTo       string `json:"reply_to" db:"reply_to" dynamodbav:"reply_to"`

	CampaignAggregate

	CreatedAt time.Time `json:"created_at" db:"created_at" dynamodbav:"created_at"`
}

// CampaignAggregate holds the eventually-consistent engagement counters.
type CampaignAggregate struct {
	SentCount       int `json:"sent_count" db:"sent_count" dynamodbav:"sent_count"`
	DeliveredCount  int `json:"delivered_count" db:"delivered_count" dynamodbav:"delivered_count"`
	OpenedCount     int `json:"opened_count" db:"opened_count" dynamodbav:"opened_count"`
	ClickedCount    int `json:"clicked_count" db:"clicked_count" dynamodbav:"clicked_count"`
	BouncedCount    int `json:"bounced_count" db:"bounced_count" dynamodbav:"bounced_count"`
	ComplainedCount int `json:"complained_count" db:"complained_count" dynamodbav:"complained_count"`
	RepliedCount    int `json:"replied_count" db:"replied_count" dynamodbav:"replied_count"`
}

// Counter names one aggregate column on a campaign.
type Counter string

const (
	CounterSent       Counter = "sent_count"
	CounterDelivered  Counter = "delivered_count"
	CounterOpened     Counter = "opened_count"
	CounterClicked    Counter = "clicked_count"
	CounterBounced    Counter = "bounced_count"
	CounterComplained Counter = "complained_count"
	CounterReplied    Counter = "replied_count"
)

// Valid reports whether c is one of the known counters. Repositories use
// it before interpolating the column name into a statement.
func (c Counter) Valid() bool {
	switch c {
	case CounterSent, CounterDelivered, CounterOpened, CounterClicked,
		CounterBounced, CounterComplained, CounterReplied:
		return true
	}
	return false
}

// Add applies a single increment to the matching field.
func (a *CampaignAggregate) Add(c Counter, n int) {
	switch c {
	case CounterSent:
		a.SentCount += n
	case CounterDelivered:
		a.DeliveredCount += n
	case CounterOpened:
		a.OpenedCount += n
	case CounterClicked:
		a.ClickedCount += n
	case CounterBounced:
		a.BouncedCount += n
	case CounterComplained:
		a.ComplainedCount += n
	case CounterReplied:
		a.RepliedCount += n
	}
}
