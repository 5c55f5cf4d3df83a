package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ticketing/internal/reconciler"
	"ticketing/internal/types"
	"ticketing/internal/webhook"
)

// DeliverySource reads archived webhook deliveries. *db.DeliveryRepo
// implements it.
type DeliverySource interface {
	ListBySession(ctx context.Context, sessionID string, verifiedOnly bool) ([]types.WebhookDelivery, error)
	ListPendingCompletions(ctx context.Context, since time.Time) ([]string, error)
}

// EventApplier applies decoded payment events to tickets.
// *reconciler.Reconciler implements it.
type EventApplier interface {
	Complete(ctx context.Context, in reconciler.CompletionInput) (reconciler.Outcome, error)
	Expire(ctx context.Context, sessionID string) (reconciler.Outcome, error)
	Cancel(ctx context.Context, sessionID string) (reconciler.Outcome, error)
	Resend(ctx context.Context, ticketID int64) error
}

// Summary counts what a replay did, keyed by reconciler outcome.
type Summary struct {
	mu       sync.Mutex
	Outcomes map[reconciler.Outcome]int
	Skipped  int
	Failed   int
}

func newSummary() *Summary {
	return &Summary{Outcomes: make(map[reconciler.Outcome]int)}
}

func (s *Summary) add(o reconciler.Outcome) {
	s.mu.Lock()
	s.Outcomes[o]++
	s.mu.Unlock()
}

func (s *Summary) skip() {
	s.mu.Lock()
	s.Skipped++
	s.mu.Unlock()
}

func (s *Summary) fail() {
	s.mu.Lock()
	s.Failed++
	s.mu.Unlock()
}

// Replayer re-runs archived deliveries through the reconciler. Every
// reconciler operation is idempotent, so replaying a delivery that was
// already applied is a no-op.
type Replayer struct {
	source       DeliverySource
	applier      EventApplier
	verifiedOnly bool
	concurrency  int
	logger       *slog.Logger
}

// NewReplayer creates a Replayer. A concurrency below one is treated as one.
func NewReplayer(source DeliverySource, applier EventApplier, verifiedOnly bool, concurrency int, logger *slog.Logger) *Replayer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{
		source:       source,
		applier:      applier,
		verifiedOnly: verifiedOnly,
		concurrency:  concurrency,
		logger:       logger,
	}
}

// ReplaySession applies every archived delivery of sessionID in the order
// received.
func (r *Replayer) ReplaySession(ctx context.Context, sessionID string, sum *Summary) error {
	deliveries, err := r.source.ListBySession(ctx, sessionID, r.verifiedOnly)
	if err != nil {
		return fmt.Errorf("list deliveries for %s: %w", sessionID, err)
	}
	if len(deliveries) == 0 {
		r.logger.WarnContext(ctx, "no archived deliveries for session", "session_id", sessionID)
		return nil
	}

	for _, d := range deliveries {
		log := r.logger.With("delivery_id", d.ID, "session_id", sessionID)
		if len(d.Body) == 0 {
			log.WarnContext(ctx, "delivery was archived without a body")
			sum.skip()
			continue
		}
		event, err := webhook.Parse(d.Body)
		if err != nil {
			log.WarnContext(ctx, "archived delivery does not parse", "error", err)
			sum.skip()
			continue
		}

		outcome, err := r.apply(ctx, event)
		if err != nil {
			sum.fail()
			return fmt.Errorf("replay %s: %w", d.ID, err)
		}
		if outcome == "" {
			sum.skip()
			continue
		}
		log.InfoContext(ctx, "delivery replayed", "kind", string(event.Kind), "outcome", string(outcome))
		sum.add(outcome)
	}
	return nil
}

func (r *Replayer) apply(ctx context.Context, event *webhook.Event) (reconciler.Outcome, error) {
	switch event.Kind {
	case webhook.KindPaymentCompleted:
		return r.applier.Complete(ctx, reconciler.CompletionInput{
			SessionID:       event.Data.SessionID,
			ProviderEventID: event.ID,
			AmountTotal:     event.Data.AmountTotal,
			Currency:        event.Data.Currency,
		})
	case webhook.KindPaymentExpired:
		return r.applier.Expire(ctx, event.Data.SessionID)
	case webhook.KindPaymentCancelled:
		return r.applier.Cancel(ctx, event.Data.SessionID)
	default:
		return "", nil
	}
}

// Sweep replays every session with a verified completion received since
// that still has no approved ticket. A failing session does not stop the
// others; all failures are returned together.
func (r *Replayer) Sweep(ctx context.Context, since time.Time, sum *Summary) error {
	sessions, err := r.source.ListPendingCompletions(ctx, since)
	if err != nil {
		return fmt.Errorf("list pending completions: %w", err)
	}
	r.logger.InfoContext(ctx, "sweeping pending completions",
		"sessions", len(sessions),
		"since", since.Format(time.RFC3339),
		"concurrency", r.concurrency,
	)

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, sessionID := range sessions {
		sessionID := sessionID
		g.Go(func() error {
			if err := r.ReplaySession(gCtx, sessionID, sum); err != nil {
				r.logger.ErrorContext(gCtx, "session replay failed", "session_id", sessionID, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Resend sends the confirmation email of each ticket again.
func (r *Replayer) Resend(ctx context.Context, ticketIDs []int64) error {
	var errs []error
	for _, id := range ticketIDs {
		if err := r.applier.Resend(ctx, id); err != nil {
			r.logger.ErrorContext(ctx, "resend failed", "ticket_id", id, "error", err)
			errs = append(errs, fmt.Errorf("ticket %d: %w", id, err))
			continue
		}
		r.logger.InfoContext(ctx, "ticket email resent", "ticket_id", id)
	}
	return errors.Join(errs...)
}
