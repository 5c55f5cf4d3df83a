package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketUnpaid    TicketStatus = "unpaid"
	TicketApproved  TicketStatus = "approved"
	TicketExpired   TicketStatus = "expired"
	TicketCancelled TicketStatus = "cancelled"
	// Rejected and pending are owned by the organizer approval workflow.
	// Payment events never move a ticket into or out of them.
	TicketRejected TicketStatus = "rejected"
	TicketPending  TicketStatus = "pending"
)

// PaymentStatus flags the outcome of the most recent checkout attempt.
// It is independent from TicketStatus: a cancelled checkout leaves the
// ticket unpaid with PaymentStatus cancelled.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPaid      PaymentStatus = "paid"
	PaymentExpired   PaymentStatus = "expired"
	PaymentCancelled PaymentStatus = "cancelled"
)

// FeeBearer identifies which party absorbs platform and processor fees.
type FeeBearer string

const (
	FeeBearerBuyer     FeeBearer = "buyer"
	FeeBearerOrganizer FeeBearer = "organizer"
)

// Valid reports whether b is a known fee bearer.
func (b FeeBearer) Valid() bool {
	return b == FeeBearerBuyer || b == FeeBearerOrganizer
}

// FeeSnapshot is the financial record captured when a ticket is paid.
// It is written once on approval and never mutated afterwards.
type FeeSnapshot struct {
	BasePrice       decimal.Decimal `json:"base_price"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	ProcessorFee    decimal.Decimal `json:"processor_fee"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	OrganizerAmount decimal.Decimal `json:"organizer_amount"`
	FeeBearer       FeeBearer       `json:"fee_bearer"`
}

// TicketPricing is the price information a ticket inherits from its event.
type TicketPricing struct {
	BasePrice decimal.Decimal
	Currency  string
	FeeBearer FeeBearer
}

// Ticket represents one attendee's claim on one event.
type Ticket struct {
	ID                int64         `json:"id"`
	EventID           string        `json:"event_id"`
	UserID            string        `json:"user_id"`
	Status            TicketStatus  `json:"status"`
	PaymentStatus     PaymentStatus `json:"payment_status,omitempty"`
	CheckoutSessionID *string       `json:"checkout_session_id,omitempty"`
	Pricing           TicketPricing `json:"-"`
	Snapshot          *FeeSnapshot  `json:"snapshot,omitempty"`
	ScanTokenHash     []byte        `json:"-"`
	ScanTokenPrefix   string        `json:"scan_token_prefix,omitempty"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	CheckedInAt       *time.Time    `json:"checked_in_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Approval is the set of columns written by the single winning completion.
type Approval struct {
	SessionID       string
	Snapshot        FeeSnapshot
	ScanTokenHash   []byte
	ScanTokenPrefix string
	PaidAt          time.Time
}

// TicketDetails is the ticket, event, and attendee profile join needed to
// render a confirmation email.
type TicketDetails struct {
	TicketID        int64
	EventID         string
	EventTitle      string
	VenueName       string
	EventStartsAt   time.Time
	AttendeeName    string
	AttendeeEmail   string
	Currency        string
	Snapshot        FeeSnapshot
	ScanTokenPrefix string
}
