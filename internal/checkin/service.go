// Package checkin redeems scan tokens at the venue entrance.
package checkin

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ticketing/internal/reconciler"
	"ticketing/internal/types"
)

// TicketStore is the ticket persistence used by Redeem.
type TicketStore interface {
	GetByID(ctx context.Context, ticketID int64) (*types.Ticket, error)
	MarkCheckedIn(ctx context.Context, ticketID int64, at time.Time) (bool, error)
}

// Service redeems scan tokens.
type Service struct {
	store  TicketStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(store TicketStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Redeem checks token against the ticket's stored hash and records the
// check-in. A token can be redeemed once.
func (s *Service) Redeem(ctx context.Context, ticketID int64, token string) (*types.Ticket, error) {
	ticket, err := s.store.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != types.TicketApproved {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictTicketState,
			"ticket is not approved", nil,
			map[string]any{"status": string(ticket.Status)})
	}

	if !strings.HasPrefix(token, ticket.ScanTokenPrefix) ||
		!reconciler.CompareScanToken(ticket.ScanTokenHash, token) {
		s.logger.WarnContext(ctx, "scan token rejected", "ticket_id", ticketID)
		return nil, types.NewAppError(types.ErrCodeAuthScanTokenInvalid, "scan token is invalid", nil)
	}
	if ticket.CheckedInAt != nil {
		return nil, alreadyCheckedIn(*ticket.CheckedInAt)
	}

	at := s.now().UTC()
	ok, err := s.store.MarkCheckedIn(ctx, ticketID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, alreadyCheckedIn(time.Time{})
	}

	ticket.CheckedInAt = &at
	s.logger.InfoContext(ctx, "ticket checked in", "ticket_id", ticketID)
	return ticket, nil
}

func alreadyCheckedIn(at time.Time) error {
	err := types.NewAppError(types.ErrCodeConflictAlreadyCheckedIn, "ticket was already checked in", nil)
	if !at.IsZero() {
		return err.WithDetails(map[string]any{"checked_in_at": at.Format(time.RFC3339)})
	}
	return err
}
