package external

import (
	"context"

	"github.com/shopspring/decimal"

	"ticketing/internal/types"
)

// CheckoutProvider creates hosted checkout sessions with the payment
// provider.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// LineItem is the single priced item of a ticket checkout.
type LineItem struct {
	Name       string
	UnitAmount decimal.Decimal
	Currency   string
	Quantity   int64
}

// CheckoutMetadata is echoed back by the provider on every session event.
type CheckoutMetadata struct {
	TicketID string
	UserID   string
	EventID  string
}

// CheckoutRequest describes a session to create.
type CheckoutRequest struct {
	LineItem   LineItem
	SuccessURL string
	CancelURL  string
	Metadata   CheckoutMetadata
	// CustomerEmail prefills the payment form.
	CustomerEmail string
	// IdempotencyKey makes provider-side retries return the same session.
	IdempotencyKey string
}

// CheckoutSession is the provider's handle on a created session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// EmailProvider transmits pre-rendered email content and returns the
// provider's message id.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
