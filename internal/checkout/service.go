// Package checkout starts payment for an unpaid ticket by creating a hosted
// checkout session at the payment provider and attaching its id to the
// ticket. The webhook reconciler later finds the ticket by that id.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticketing/internal/external"
	"ticketing/internal/types"
)

// TicketStore is the ticket persistence used by Begin.
type TicketStore interface {
	GetByID(ctx context.Context, ticketID int64) (*types.Ticket, error)
	ClearCheckoutSession(ctx context.Context, ticketID int64) error
	AttachCheckoutSession(ctx context.Context, ticketID int64, sessionID string) (bool, error)
}

// DetailFetcher loads the event title and attendee email.
type DetailFetcher interface {
	GetDetails(ctx context.Context, ticketID int64) (*types.TicketDetails, error)
}

// FeeCalculator computes the amount the buyer is charged.
type FeeCalculator interface {
	Compute(basePrice decimal.Decimal, bearer types.FeeBearer) (types.FeeSnapshot, error)
}

// Config holds the Service's collaborators and redirect targets.
type Config struct {
	Store      TicketStore
	Details    DetailFetcher
	Fees       FeeCalculator
	Provider   external.CheckoutProvider
	SuccessURL string
	CancelURL  string
	// Currency is used when the event does not set one.
	Currency string
	Logger   *slog.Logger
}

// Service begins checkouts.
type Service struct {
	store      TicketStore
	details    DetailFetcher
	fees       FeeCalculator
	provider   external.CheckoutProvider
	successURL string
	cancelURL  string
	currency   string
	logger     *slog.Logger
	newKey     func() string
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      cfg.Store,
		details:    cfg.Details,
		fees:       cfg.Fees,
		provider:   cfg.Provider,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		currency:   cfg.Currency,
		logger:     logger,
		newKey:     uuid.NewString,
	}
}

// Begin creates a checkout session for ticketID on behalf of userID and
// stores the session id on the ticket. Any earlier session id is dropped
// first, so only the newest session can complete the ticket.
func (s *Service) Begin(ctx context.Context, ticketID int64, userID string) (*external.CheckoutSession, error) {
	ticket, err := s.store.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.UserID != userID {
		return nil, types.NewAppError(types.ErrCodePermissionTicketOwner, "ticket belongs to another user", nil)
	}
	if ticket.Status != types.TicketUnpaid {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictTicketState,
			"ticket is not awaiting payment", nil,
			map[string]any{"status": string(ticket.Status)})
	}

	snap, err := s.fees.Compute(ticket.Pricing.BasePrice, ticket.Pricing.FeeBearer)
	if err != nil {
		return nil, err
	}
	details, err := s.details.GetDetails(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.CheckoutSessionID != nil {
		if err := s.store.ClearCheckoutSession(ctx, ticketID); err != nil {
			return nil, err
		}
	}

	currency := ticket.Pricing.Currency
	if currency == "" {
		currency = details.Currency
	}
	if currency == "" {
		currency = s.currency
	}

	id := strconv.FormatInt(ticketID, 10)
	session, err := s.provider.CreateSession(ctx, external.CheckoutRequest{
		LineItem: external.LineItem{
			Name:       lineItemName(details),
			UnitAmount: snap.AmountPaid,
			Currency:   currency,
			Quantity:   1,
		},
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		Metadata:       external.CheckoutMetadata{TicketID: id, UserID: userID, EventID: ticket.EventID},
		CustomerEmail:  details.AttendeeEmail,
		IdempotencyKey: fmt.Sprintf("checkout-%s-%s", id, s.newKey()),
	})
	if err != nil {
		return nil, err
	}

	attached, err := s.store.AttachCheckoutSession(ctx, ticketID, session.ID)
	if err != nil {
		return nil, err
	}
	if !attached {
		s.logger.WarnContext(ctx, "checkout session lost attach race",
			"ticket_id", ticketID,
			"session_id", session.ID,
		)
		return nil, types.NewAppError(types.ErrCodeConflictConcurrent,
			"ticket changed while the checkout was being created", nil)
	}

	s.logger.InfoContext(ctx, "checkout started",
		"ticket_id", ticketID,
		"session_id", session.ID,
		"amount", snap.AmountPaid.String(),
		"fee_bearer", string(snap.FeeBearer),
	)
	return session, nil
}

func lineItemName(d *types.TicketDetails) string {
	if d.EventTitle != "" {
		return "Ticket: " + d.EventTitle
	}
	return "Ticket " + d.EventID
}
