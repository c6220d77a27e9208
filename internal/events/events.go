package events

import (
	"context"

	"github.com/google/uuid"
)

// StreamPayments is the channel payment outcomes are published on. The API
// process forwards them to the buyer's websocket.
const StreamPayments = "events:payments"

// Event types
const (
	EventPaymentConfirmed = "payment_confirmed"
	EventPaymentRejected  = "payment_rejected"
	EventAccessGranted    = "access_granted"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// UserID returns the recipient user of the event, if the payload names one.
func (e Event) UserID() (uuid.UUID, bool) {
	s, ok := e.Payload["user_id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PaymentEvent builds an event about signature for userID's purchase of collectionID.
func PaymentEvent(eventType string, userID uuid.UUID, collectionID int64, signature string, extra map[string]any) Event {
	payload := map[string]any{
		"user_id":       userID.String(),
		"collection_id": collectionID,
		"signature":     signature,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{Type: eventType, Payload: payload}
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops events. Used by processes without Redis pub/sub consumers.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
