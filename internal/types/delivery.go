package types

import "time"

// WebhookDelivery is the archived record of one inbound payment notification.
// Body holds the raw request bytes exactly as received.
type WebhookDelivery struct {
	ID              string
	ProviderEventID string
	EventType       string
	Kind            string
	SessionID       string
	SignatureValid  bool
	Scheme          string
	Outcome         string
	Body            []byte
	ReceivedAt      time.Time
}
