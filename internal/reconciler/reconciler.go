// Package reconciler applies verified payment events to ticket records.
//
// Every transition is one conditional write. The reconciler never decides
// that it won from a prior read; the store reports whether its UPDATE
// matched a row. Only the winner of a completion mints the scan token and
// sends the confirmation email, so retried and concurrent deliveries of the
// same event produce exactly one approval.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ticketing/internal/types"
)

// DefaultNotifyTimeout bounds the confirmation email after a winning approval.
const DefaultNotifyTimeout = 5 * time.Second

// Outcome describes what a reconciliation did.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	OutcomeIgnored           Outcome = "ignored"
)

// TicketStore is the persistence the reconciler writes through.
type TicketStore interface {
	GetBySession(ctx context.Context, sessionID string) (*types.Ticket, error)
	Approve(ctx context.Context, ticketID int64, a types.Approval) (bool, error)
	MarkExpired(ctx context.Context, ticketID int64, sessionID string) (bool, error)
	MarkCancelled(ctx context.Context, ticketID int64, sessionID string) (bool, error)
}

// DetailFetcher loads what the confirmation email needs.
type DetailFetcher interface {
	GetDetails(ctx context.Context, ticketID int64) (*types.TicketDetails, error)
}

// FeeCalculator computes the financial snapshot for a sale.
type FeeCalculator interface {
	Compute(basePrice decimal.Decimal, bearer types.FeeBearer) (types.FeeSnapshot, error)
	ToMinorUnits(amount decimal.Decimal) int64
}

// Renderer turns ticket details into a confirmation email.
type Renderer interface {
	RenderTicketEmail(d *types.TicketDetails, scanToken string) (string, types.EmailContent, error)
}

// Notifier delivers a rendered ticket email. Delivery is fire-and-forget
// from the reconciler's point of view: errors are logged only.
type Notifier interface {
	SendTicketEmail(ctx context.Context, ticketID int64, to, subject string, content types.EmailContent) error
}

// CompletionInput carries the fields of a completion event the reconciler
// uses.
type CompletionInput struct {
	SessionID       string
	ProviderEventID string
	// AmountTotal is the provider's charged total in minor units, if sent.
	AmountTotal *int64
	Currency    string
}

// Config holds the reconciler's collaborators.
type Config struct {
	Store         TicketStore
	Details       DetailFetcher
	Fees          FeeCalculator
	Renderer      Renderer
	Notifier      Notifier
	Tokens        *TokenMinter
	NotifyTimeout time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Reconciler moves tickets through the payment state machine.
type Reconciler struct {
	store         TicketStore
	details       DetailFetcher
	fees          FeeCalculator
	renderer      Renderer
	notifier      Notifier
	tokens        *TokenMinter
	notifyTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a Reconciler. Store and Fees are required; a nil Notifier
// disables confirmation emails.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		store:         cfg.Store,
		details:       cfg.Details,
		fees:          cfg.Fees,
		renderer:      cfg.Renderer,
		notifier:      cfg.Notifier,
		tokens:        cfg.Tokens,
		notifyTimeout: cfg.NotifyTimeout,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
	if r.tokens == nil {
		r.tokens = NewTokenMinter(0)
	}
	if r.notifyTimeout <= 0 {
		r.notifyTimeout = DefaultNotifyTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Complete approves the ticket holding in.SessionID. A lookup or write
// failure is returned so the provider retries; everything after the winning
// write is best effort.
func (r *Reconciler) Complete(ctx context.Context, in CompletionInput) (Outcome, error) {
	log := r.logger.With("session_id", in.SessionID, "provider_event_id", in.ProviderEventID)

	ticket, err := r.store.GetBySession(ctx, in.SessionID)
	if err != nil {
		if isNotFound(err) {
			log.WarnContext(ctx, "completion for unknown checkout session")
			return OutcomeNotFound, nil
		}
		log.ErrorContext(ctx, "failed to look up ticket for completion", "error", err)
		return OutcomeIgnored, err
	}
	log = log.With("ticket_id", ticket.ID)

	if ticket.Status == types.TicketApproved {
		log.InfoContext(ctx, "ticket already approved")
		return OutcomeAlreadyReconciled, nil
	}

	snap, err := r.fees.Compute(ticket.Pricing.BasePrice, ticket.Pricing.FeeBearer)
	if err != nil {
		log.ErrorContext(ctx, "failed to compute fees", "error", err)
		return OutcomeIgnored, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compute ticket fees", err)
	}
	r.crossCheckAmount(ctx, log, in, snap)

	// The hash must go into the same conditional write, so concurrent
	// deliveries that passed the status check above each pay one bcrypt;
	// only the winner's token is persisted.
	token, err := r.tokens.Mint()
	if err != nil {
		log.ErrorContext(ctx, "failed to mint scan token", "error", err)
		return OutcomeIgnored, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to mint scan token", err)
	}

	won, err := r.store.Approve(ctx, ticket.ID, types.Approval{
		SessionID:       in.SessionID,
		Snapshot:        snap,
		ScanTokenHash:   token.Hash,
		ScanTokenPrefix: token.Prefix,
		PaidAt:          r.now().UTC(),
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to persist approval", "error", err)
		return OutcomeIgnored, err
	}
	if !won {
		log.InfoContext(ctx, "approval lost to a concurrent delivery")
		return OutcomeAlreadyReconciled, nil
	}

	log.InfoContext(ctx, "ticket approved",
		"amount_paid", snap.AmountPaid.String(),
		"organizer_amount", snap.OrganizerAmount.String(),
		"fee_bearer", string(snap.FeeBearer),
	)
	r.notifyApproved(ctx, ticket.ID, token.Plaintext)
	return OutcomeApplied, nil
}

// Expire marks an unpaid ticket's checkout as expired. Write failures are
// logged and acknowledged.
func (r *Reconciler) Expire(ctx context.Context, sessionID string) (Outcome, error) {
	return r.release(ctx, sessionID, "expire", r.store.MarkExpired)
}

// Cancel flags an unpaid ticket's checkout as cancelled. The ticket stays
// unpaid so the attendee can start a new checkout.
func (r *Reconciler) Cancel(ctx context.Context, sessionID string) (Outcome, error) {
	return r.release(ctx, sessionID, "cancel", r.store.MarkCancelled)
}

func (r *Reconciler) release(
	ctx context.Context,
	sessionID, action string,
	apply func(context.Context, int64, string) (bool, error),
) (Outcome, error) {
	log := r.logger.With("session_id", sessionID, "action", action)

	ticket, err := r.store.GetBySession(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			log.WarnContext(ctx, "checkout event for unknown session")
			return OutcomeNotFound, nil
		}
		log.ErrorContext(ctx, "failed to look up ticket", "error", err)
		return OutcomeIgnored, nil
	}
	log = log.With("ticket_id", ticket.ID, "status", string(ticket.Status))

	if ticket.Status != types.TicketUnpaid {
		log.InfoContext(ctx, "ticket is not unpaid, nothing to release")
		return OutcomeAlreadyReconciled, nil
	}

	applied, err := apply(ctx, ticket.ID, sessionID)
	if err != nil {
		log.ErrorContext(ctx, "failed to persist checkout release", "error", err)
		return OutcomeIgnored, nil
	}
	if !applied {
		log.InfoContext(ctx, "checkout release already applied")
		return OutcomeAlreadyReconciled, nil
	}
	log.InfoContext(ctx, "checkout released")
	return OutcomeApplied, nil
}

// Payout acknowledges a payout notification. Payouts carry no ticket state.
func (r *Reconciler) Payout(ctx context.Context, kind, payoutID string) Outcome {
	r.logger.InfoContext(ctx, "payout notification acknowledged",
		"kind", kind,
		"payout_id", payoutID,
	)
	return OutcomeIgnored
}

// Resend renders and sends the confirmation email of an approved ticket
// again. The plaintext token is not recoverable, so the email carries the
// stored prefix only.
func (r *Reconciler) Resend(ctx context.Context, ticketID int64) error {
	if r.details == nil || r.renderer == nil || r.notifier == nil {
		return errors.New("resend requires details, renderer and notifier")
	}
	d, err := r.details.GetDetails(ctx, ticketID)
	if err != nil {
		return err
	}
	subject, content, err := r.renderer.RenderTicketEmail(d, "")
	if err != nil {
		return err
	}
	return r.notifier.SendTicketEmail(ctx, ticketID, d.AttendeeEmail, subject, content)
}

// notifyApproved runs on a context detached from the request so a client
// disconnect after the winning write does not drop the email.
func (r *Reconciler) notifyApproved(ctx context.Context, ticketID int64, scanToken string) {
	if r.notifier == nil || r.details == nil || r.renderer == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
	defer cancel()

	log := r.logger.With("ticket_id", ticketID)

	d, err := r.details.GetDetails(nctx, ticketID)
	if err != nil {
		log.ErrorContext(nctx, "failed to load ticket details for email", "error", err)
		return
	}
	subject, content, err := r.renderer.RenderTicketEmail(d, scanToken)
	if err != nil {
		log.ErrorContext(nctx, "failed to render ticket email", "error", err)
		return
	}
	if err := r.notifier.SendTicketEmail(nctx, ticketID, d.AttendeeEmail, subject, content); err != nil {
		log.ErrorContext(nctx, "failed to send ticket email", "error", err)
		return
	}
	log.InfoContext(nctx, "ticket email sent")
}

func (r *Reconciler) crossCheckAmount(ctx context.Context, log *slog.Logger, in CompletionInput, snap types.FeeSnapshot) {
	if in.AmountTotal == nil {
		return
	}
	expected := r.fees.ToMinorUnits(snap.AmountPaid)
	if expected != *in.AmountTotal {
		log.WarnContext(ctx, "provider amount differs from computed total",
			"provider_amount_total", *in.AmountTotal,
			"computed_amount_total", expected,
			"currency", in.Currency,
		)
	}
}

func isNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundTicket
}
