package ses

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
)

// SNS message types.
const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// maxDecodeDepth bounds how many times a JSON string holding JSON is
// unwrapped. SES-to-SNS-to-HTTP chains sometimes double-encode.
const maxDecodeDepth = 3

// ErrMalformed marks a body that is not a decodable notification.
var ErrMalformed = errors.New("ses: malformed notification")

// Envelope is the SNS HTTP delivery wrapper. Message is kept raw because
// it is normally a JSON string, but some relays inline the object.
type Envelope struct {
	Type         string          `json:"Type"`
	MessageID    string          `json:"MessageId"`
	TopicArn     string          `json:"TopicArn"`
	Subject      string          `json:"Subject,omitempty"`
	Message      json.RawMessage `json:"Message"`
	Timestamp    string          `json:"Timestamp,omitempty"`
	Token        string          `json:"Token,omitempty"`
	SubscribeURL string          `json:"SubscribeURL,omitempty"`
}

// Event is an SES event-publishing record (eventType) or a legacy
// notification (notificationType).
type Event struct {
	EventType        string     `json:"eventType"`
	NotificationType string     `json:"notificationType"`
	Mail             Mail       `json:"mail"`
	Bounce           *Bounce    `json:"bounce,omitempty"`
	Complaint        *Complaint `json:"complaint,omitempty"`
	Delivery         *Delivery  `json:"delivery,omitempty"`
	Open             *Open      `json:"open,omitempty"`
	Click            *Click     `json:"click,omitempty"`
}

// Mail is the common "mail" object.
type Mail struct {
	MessageID   string              `json:"messageId"`
	Timestamp   time.Time           `json:"timestamp"`
	Source      string              `json:"source"`
	Destination []string            `json:"destination"`
	Headers     []Header            `json:"headers"`
	Tags        map[string][]string `json:"tags"`
}

// Header is one original message header echoed back by SES.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Bounce details. BounceType is Permanent, Transient or Undetermined.
type Bounce struct {
	BounceType    string    `json:"bounceType"`
	BounceSubType string    `json:"bounceSubType"`
	Timestamp     time.Time `json:"timestamp"`
}

// Complaint details.
type Complaint struct {
	ComplaintFeedbackType string    `json:"complaintFeedbackType"`
	Timestamp             time.Time `json:"timestamp"`
}

// Delivery details.
type Delivery struct {
	Timestamp time.Time `json:"timestamp"`
}

// Open details.
type Open struct {
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
}

// Click details.
type Click struct {
	Link      string    `json:"link"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseEnvelope decodes an SNS body. A bare SES event (no SNS wrapper) is
// returned as a Notification whose Message is the body itself.
func ParseEnvelope(body []byte) (*Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		env.Type = TypeNotification
		env.Message = json.RawMessage(body)
	}
	return &env, nil
}

// DecodeEvent unwraps the envelope's Message into an Event.
func DecodeEvent(message json.RawMessage) (*Event, error) {
	raw := bytes.TrimSpace(message)
	for depth := 0; depth <= maxDecodeDepth; depth++ {
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: empty message", ErrMalformed)
		}
		switch raw[0] {
		case '"':
			if depth == maxDecodeDepth {
				return nil, fmt.Errorf("%w: message nested deeper than %d levels", ErrMalformed, maxDecodeDepth)
			}
			var inner string
			if err := json.Unmarshal(raw, &inner); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			raw = bytes.TrimSpace([]byte(inner))
		case '{':
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if ev.Name() == "" {
				return nil, fmt.Errorf("%w: missing eventType", ErrMalformed)
			}
			return &ev, nil
		default:
			return nil, fmt.Errorf("%w: message is neither object nor string", ErrMalformed)
		}
	}
	return nil, fmt.Errorf("%w: message nested deeper than %d levels", ErrMalformed, maxDecodeDepth)
}

// Name is the provider's event name, preferring eventType.
func (e *Event) Name() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.NotificationType
}

// Kind maps the provider event onto the tracking vocabulary. Transient
// bounces are soft failures that SES retries, so they do not count.
func (e *Event) Kind() domain.TrackingEventType {
	switch strings.ToLower(e.Name()) {
	case "send":
		return domain.EventSend
	case "delivery":
		return domain.EventDelivery
	case "bounce":
		if e.Bounce != nil && strings.EqualFold(e.Bounce.BounceType, "Transient") {
			return domain.EventUnsupported
		}
		return domain.EventBounce
	case "complaint":
		return domain.EventComplaint
	case "open":
		return domain.EventOpen
	case "click":
		return domain.EventClick
	}
	return domain.EventUnsupported
}

// CorrelationID reads the correlation header echoed in mail.headers, then
// the correlation_id message tag. The header name matches
// case-insensitively.
func (e *Event) CorrelationID() (string, bool) {
	for _, h := range e.Mail.Headers {
		if strings.EqualFold(h.Name, correlation.HeaderName) {
			return normalizeID(h.Value)
		}
	}
	for name, values := range e.Mail.Tags {
		if (strings.EqualFold(name, "correlation_id") || strings.EqualFold(name, correlation.HeaderName)) && len(values) > 0 {
			return normalizeID(values[0])
		}
	}
	return "", false
}

func normalizeID(v string) (string, bool) {
	v = strings.ToLower(strings.Trim(strings.TrimSpace(v), "<>"))
	if !correlation.Valid(v) {
		return v, false
	}
	return v, true
}

// TrackingEvent converts e into the pipeline's event shape.
func (e *Event) TrackingEvent(correlationID string) domain.TrackingEvent {
	te := domain.TrackingEvent{
		EventType:     e.Kind(),
		CorrelationID: correlationID,
		Timestamp:     e.Mail.Timestamp,
	}
	if len(e.Mail.Destination) > 0 {
		te.Recipient = e.Mail.Destination[0]
	}
	switch {
	case e.Open != nil:
		te.IPAddress, te.UserAgent, te.Timestamp = e.Open.IPAddress, e.Open.UserAgent, e.Open.Timestamp
	case e.Click != nil:
		te.URL, te.IPAddress, te.UserAgent, te.Timestamp = e.Click.Link, e.Click.IPAddress, e.Click.UserAgent, e.Click.Timestamp
	case e.Delivery != nil:
		te.Timestamp = e.Delivery.Timestamp
	case e.Bounce != nil:
		te.Timestamp = e.Bounce.Timestamp
	case e.Complaint != nil:
		te.Timestamp = e.Complaint.Timestamp
	}
	return te
}
