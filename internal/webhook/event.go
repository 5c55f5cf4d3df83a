package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of event variants the service understands. Provider
// type strings outside the set decode to KindUnhandled.
type Kind string

const (
	KindPaymentCompleted Kind = "payment_completed"
	KindPaymentExpired   Kind = "payment_expired"
	KindPaymentCancelled Kind = "payment_cancelled"
	KindPayoutCompleted  Kind = "payout_completed"
	KindPayoutFailed     Kind = "payout_failed"
	KindUnhandled        Kind = "unhandled"
)

// Provider event type strings.
const (
	TypeCheckoutCompleted          = "checkout.session.completed"
	TypeCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	TypeCheckoutExpired            = "checkout.session.expired"
	TypeCheckoutCanceled           = "checkout.session.canceled"
	TypeCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
	TypePayoutPaid                 = "payout.paid"
	TypePayoutFailed               = "payout.failed"
)

var kindsByType = map[string]Kind{
	TypeCheckoutCompleted:          KindPaymentCompleted,
	TypeCheckoutAsyncSucceeded:     KindPaymentCompleted,
	TypeCheckoutExpired:            KindPaymentExpired,
	TypeCheckoutCanceled:           KindPaymentCancelled,
	TypeCheckoutAsyncPaymentFailed: KindPaymentCancelled,
	TypePayoutPaid:                 KindPayoutCompleted,
	TypePayoutFailed:               KindPayoutFailed,
}

// KindOf maps a provider type string to its Kind.
func KindOf(eventType string) Kind {
	if k, ok := kindsByType[eventType]; ok {
		return k
	}
	return KindUnhandled
}

var (
	// ErrMalformedPayload is returned when the body is not a JSON object.
	ErrMalformedPayload = errors.New("webhook: malformed payload")
	// ErrMissingCorrelationID is returned when an event of any type has no
	// data.id (or data.object.id).
	ErrMissingCorrelationID = errors.New("webhook: missing correlation id")
)

// Event is a decoded notification.
type Event struct {
	ID      string
	Type    string
	Kind    Kind
	Created time.Time
	Data    Data
}

// Data is the typed payload shared by all known variants. SessionID holds
// the checkout session id for payment kinds and the payout id for payout
// kinds.
type Data struct {
	SessionID     string
	AmountTotal   *int64
	Currency      string
	PaymentStatus string
	CustomerEmail string
	Metadata      map[string]string
}

type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type dataObject struct {
	ID              string            `json:"id"`
	AmountTotal     *int64            `json:"amount_total"`
	Currency        string            `json:"currency"`
	PaymentStatus   string            `json:"payment_status"`
	CustomerEmail   string            `json:"customer_email"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Object *dataObject `json:"object"`
}

// Parse decodes body into an Event. The correlation id is read from data.id,
// falling back to the provider envelope's data.object.id.
func Parse(body []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := &Event{
		ID:   env.ID,
		Type: env.Type,
		Kind: KindOf(env.Type),
	}
	if env.Created > 0 {
		ev.Created = time.Unix(env.Created, 0).UTC()
	}

	var obj dataObject
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &obj); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
		}
	}
	ev.Data = flatten(&obj)

	if ev.Data.SessionID == "" {
		return nil, ErrMissingCorrelationID
	}
	return ev, nil
}

func flatten(obj *dataObject) Data {
	src := obj
	if strings.TrimSpace(obj.ID) == "" && obj.Object != nil {
		src = obj.Object
	}
	d := Data{
		SessionID:     strings.TrimSpace(src.ID),
		AmountTotal:   src.AmountTotal,
		Currency:      strings.ToLower(src.Currency),
		PaymentStatus: src.PaymentStatus,
		CustomerEmail: src.CustomerEmail,
		Metadata:      src.Metadata,
	}
	if d.CustomerEmail == "" && src.CustomerDetails != nil {
		d.CustomerEmail = src.CustomerDetails.Email
	}
	return d
}
