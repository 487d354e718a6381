package domain

import "time"

// TrackingEventType enumerates the engagement signals carried through the
// tracking pipeline (pixel, redirect, provider webhook).
type TrackingEventType string

const (
	EventSend        TrackingEventType = "send"
	EventDelivery    TrackingEventType = "delivery"
	EventBounce      TrackingEventType = "bounce"
	EventComplaint   TrackingEventType = "complaint"
	EventOpen        TrackingEventType = "open"
	EventClick       TrackingEventType = "click"
	EventReply       TrackingEventType = "reply"
	EventUnsupported TrackingEventType = "unsupported"
)

// Transition maps an event onto the recipient state machine. The second
// return is false for events that do not touch recipient state.
func (e TrackingEventType) Transition() (Transition, bool) {
	switch e {
	case EventSend:
		return TransitionSent, true
	case EventDelivery:
		return TransitionDelivered, true
	case EventBounce:
		return TransitionBounced, true
	case EventComplaint:
		return TransitionComplained, true
	case EventOpen:
		return TransitionOpened, true
	case EventClick:
		return TransitionClicked, true
	case EventReply:
		return TransitionReplied, true
	}
	return "", false
}

// TrackingEvent is a single engagement signal keyed by correlation id.
type TrackingEvent struct {
	EventType     TrackingEventType `json:"event_type"`
	CorrelationID string            `json:"correlation_id"`
	Recipient     string            `json:"recipient,omitempty"`
	URL           string            `json:"url,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
