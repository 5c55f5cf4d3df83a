package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ticketing/internal/types"
)

// TicketRepo reads tickets and applies conditional state transitions.
type TicketRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewTicketRepo creates a TicketRepo backed by db (pool or transaction).
func NewTicketRepo(db DBTX, logger *slog.Logger) *TicketRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketRepo{db: db, logger: logger}
}

const ticketSelect = `SELECT t.id, t.event_id, t.user_id, t.status, t.payment_status, t.checkout_session_id,
       e.price, e.currency, e.fee_bearer,
       t.base_price, t.platform_fee, t.processor_fee, t.amount_paid, t.organizer_amount, t.fee_bearer,
       t.scan_token_hash, t.scan_token_prefix, t.paid_at, t.checked_in_at, t.created_at
  FROM tickets t
  JOIN events e ON e.id = t.event_id`

func scanTicket(row pgx.Row) (*types.Ticket, error) {
	var (
		t           types.Ticket
		status      string
		payment     string
		price       decimal.Decimal
		currency    string
		eventBearer string
		base        decimal.NullDecimal
		platform    decimal.NullDecimal
		processor   decimal.NullDecimal
		paid        decimal.NullDecimal
		organizer   decimal.NullDecimal
		paidBearer  *string
		tokenPrefix *string
	)
	err := row.Scan(
		&t.ID, &t.EventID, &t.UserID, &status, &payment, &t.CheckoutSessionID,
		&price, &currency, &eventBearer,
		&base, &platform, &processor, &paid, &organizer, &paidBearer,
		&t.ScanTokenHash, &tokenPrefix, &t.PaidAt, &t.CheckedInAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = types.TicketStatus(status)
	t.PaymentStatus = types.PaymentStatus(payment)
	t.Pricing = types.TicketPricing{
		BasePrice: price,
		Currency:  currency,
		FeeBearer: types.FeeBearer(eventBearer),
	}
	if base.Valid && paid.Valid {
		snap := &types.FeeSnapshot{
			BasePrice:       base.Decimal,
			PlatformFee:     platform.Decimal,
			ProcessorFee:    processor.Decimal,
			AmountPaid:      paid.Decimal,
			OrganizerAmount: organizer.Decimal,
		}
		if paidBearer != nil {
			snap.FeeBearer = types.FeeBearer(*paidBearer)
		}
		t.Snapshot = snap
	}
	if tokenPrefix != nil {
		t.ScanTokenPrefix = *tokenPrefix
	}
	return &t, nil
}

// GetBySession returns the ticket holding sessionID as its checkout session.
func (r *TicketRepo) GetBySession(ctx context.Context, sessionID string) (*types.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, ticketSelect+` WHERE t.checkout_session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTicket, "no ticket for checkout session", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up ticket by session", err)
	}
	return t, nil
}

// GetByID returns the ticket with the given id.
func (r *TicketRepo) GetByID(ctx context.Context, ticketID int64) (*types.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, ticketSelect+` WHERE t.id = $1`, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTicket, "ticket not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve ticket", err)
	}
	return t, nil
}

// Approve moves the ticket to approved and writes the fee snapshot and scan
// token hash in one statement. It reports false when the ticket was already
// approved or no longer holds a.SessionID; in that case nothing is written.
func (r *TicketRepo) Approve(ctx context.Context, ticketID int64, a types.Approval) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tickets
		    SET status = 'approved',
		        payment_status = 'paid',
		        base_price = $3,
		        platform_fee = $4,
		        processor_fee = $5,
		        amount_paid = $6,
		        organizer_amount = $7,
		        fee_bearer = $8,
		        scan_token_hash = $9,
		        scan_token_prefix = $10,
		        paid_at = $11,
		        updated_at = NOW()
		  WHERE id = $1
		    AND checkout_session_id = $2
		    AND status <> 'approved'`,
		ticketID,
		a.SessionID,
		a.Snapshot.BasePrice,
		a.Snapshot.PlatformFee,
		a.Snapshot.ProcessorFee,
		a.Snapshot.AmountPaid,
		a.Snapshot.OrganizerAmount,
		string(a.Snapshot.FeeBearer),
		a.ScanTokenHash,
		a.ScanTokenPrefix,
		a.PaidAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to approve ticket", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpired moves an unpaid ticket to expired. It reports false when the
// ticket is not unpaid or no longer holds sessionID.
func (r *TicketRepo) MarkExpired(ctx context.Context, ticketID int64, sessionID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tickets
		    SET status = 'expired',
		        payment_status = 'expired',
		        updated_at = NOW()
		  WHERE id = $1
		    AND checkout_session_id = $2
		    AND status = 'unpaid'`,
		ticketID, sessionID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to expire ticket", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelled flags the checkout as cancelled and leaves the ticket
// unpaid. A repeat call reports false.
func (r *TicketRepo) MarkCancelled(ctx context.Context, ticketID int64, sessionID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tickets
		    SET payment_status = 'cancelled',
		        updated_at = NOW()
		  WHERE id = $1
		    AND checkout_session_id = $2
		    AND status = 'unpaid'
		    AND payment_status <> 'cancelled'`,
		ticketID, sessionID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel ticket payment", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearCheckoutSession drops the session id of an unpaid ticket so a new
// checkout can be attached.
func (r *TicketRepo) ClearCheckoutSession(ctx context.Context, ticketID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE tickets
		    SET checkout_session_id = NULL,
		        payment_status = '',
		        updated_at = NOW()
		  WHERE id = $1
		    AND status = 'unpaid'`,
		ticketID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear checkout session", err)
	}
	return nil
}

// AttachCheckoutSession stores sessionID on an unpaid ticket whose session
// slot is empty. It reports false when another attempt got there first.
func (r *TicketRepo) AttachCheckoutSession(ctx context.Context, ticketID int64, sessionID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tickets
		    SET checkout_session_id = $2,
		        updated_at = NOW()
		  WHERE id = $1
		    AND status = 'unpaid'
		    AND checkout_session_id IS NULL`,
		ticketID, sessionID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to attach checkout session", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCheckedIn records the first redemption of an approved ticket's scan
// token. It reports false if the ticket was already checked in.
func (r *TicketRepo) MarkCheckedIn(ctx context.Context, ticketID int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tickets
		    SET checked_in_at = $2,
		        updated_at = NOW()
		  WHERE id = $1
		    AND status = 'approved'
		    AND checked_in_at IS NULL`,
		ticketID, at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record check-in", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetDetails returns the ticket, event and attendee join used by the
// confirmation email.
func (r *TicketRepo) GetDetails(ctx context.Context, ticketID int64) (*types.TicketDetails, error) {
	var (
		d         types.TicketDetails
		venue     *string
		name      *string
		base      decimal.NullDecimal
		platform  decimal.NullDecimal
		processor decimal.NullDecimal
		paid      decimal.NullDecimal
		organizer decimal.NullDecimal
		bearer    *string
		prefix    *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT t.id, e.id, e.title, e.venue_name, e.starts_at,
		        p.full_name, p.email, e.currency,
		        t.base_price, t.platform_fee, t.processor_fee, t.amount_paid, t.organizer_amount, t.fee_bearer,
		        t.scan_token_prefix
		   FROM tickets t
		   JOIN events e ON e.id = t.event_id
		   JOIN profiles p ON p.user_id = t.user_id
		  WHERE t.id = $1`,
		ticketID,
	).Scan(
		&d.TicketID, &d.EventID, &d.EventTitle, &venue, &d.EventStartsAt,
		&name, &d.AttendeeEmail, &d.Currency,
		&base, &platform, &processor, &paid, &organizer, &bearer,
		&prefix,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTicket, "ticket not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load ticket details", err)
	}

	if venue != nil {
		d.VenueName = *venue
	}
	if name != nil {
		d.AttendeeName = *name
	}
	if prefix != nil {
		d.ScanTokenPrefix = *prefix
	}
	d.Snapshot = types.FeeSnapshot{
		BasePrice:       base.Decimal,
		PlatformFee:     platform.Decimal,
		ProcessorFee:    processor.Decimal,
		AmountPaid:      paid.Decimal,
		OrganizerAmount: organizer.Decimal,
	}
	if bearer != nil {
		d.Snapshot.FeeBearer = types.FeeBearer(*bearer)
	}
	return &d, nil
}
