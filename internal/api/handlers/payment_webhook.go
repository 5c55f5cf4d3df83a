// Package handlers contains the HTTP handlers of the ticketing API.
//
// The payment webhook is mounted outside /v1: the provider authenticates
// with an HMAC signature rather than a user identity.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketing/internal/core"
	"ticketing/internal/dedupe"
	"ticketing/internal/reconciler"
	"ticketing/internal/types"
	"ticketing/internal/webhook"
)

// maxWebhookBodySize caps payment webhook payloads (64 KB).
const maxWebhookBodySize = 64 * 1024

// Unverified delivery policies.
const (
	PolicyReject  = "reject"
	PolicyProcess = "process"
)

// Outcomes recorded for deliveries that never reach the reconciler.
const (
	outcomeRejected  = "rejected"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

// SignatureVerifier checks the provider signature over the raw body.
type SignatureVerifier interface {
	Verify(rawBody []byte, header, secret string, now time.Time) webhook.Result
}

// PaymentReconciler applies payment events to tickets.
type PaymentReconciler interface {
	Complete(ctx context.Context, in reconciler.CompletionInput) (reconciler.Outcome, error)
	Expire(ctx context.Context, sessionID string) (reconciler.Outcome, error)
	Cancel(ctx context.Context, sessionID string) (reconciler.Outcome, error)
	Payout(ctx context.Context, kind, payoutID string) reconciler.Outcome
}

// DeliveryArchiver stores a copy of every parsed delivery.
type DeliveryArchiver interface {
	Record(ctx context.Context, d *types.WebhookDelivery) error
}

// WebhookMetrics counts signature checks and dispatch outcomes.
type WebhookMetrics interface {
	RecordSignature(scheme string, valid bool)
	RecordWebhookEvent(kind, outcome string)
}

// PaymentWebhookConfig holds the handler's dependencies. Dedupe, Archive
// and Metrics are optional.
type PaymentWebhookConfig struct {
	Verifier        SignatureVerifier
	Reconciler      PaymentReconciler
	Dedupe          dedupe.Cache
	Archive         DeliveryArchiver
	Metrics         WebhookMetrics
	Secret          string
	SignatureHeader string
	// UnverifiedPolicy is PolicyReject (default) or PolicyProcess.
	UnverifiedPolicy string
	// ArchiveBodies stores the raw body alongside the delivery metadata.
	ArchiveBodies bool
	Logger        *slog.Logger
	Now           func() time.Time
}

// PaymentWebhookHandler receives payment provider notifications.
type PaymentWebhookHandler struct {
	verifier      SignatureVerifier
	reconciler    PaymentReconciler
	dedupe        dedupe.Cache
	archive       DeliveryArchiver
	metrics       WebhookMetrics
	secret        string
	sigHeader     string
	processAll    bool
	archiveBodies bool
	logger        *slog.Logger
	now           func() time.Time
}

// NewPaymentWebhookHandler creates a PaymentWebhookHandler.
func NewPaymentWebhookHandler(cfg PaymentWebhookConfig) *PaymentWebhookHandler {
	h := &PaymentWebhookHandler{
		verifier:      cfg.Verifier,
		reconciler:    cfg.Reconciler,
		dedupe:        cfg.Dedupe,
		archive:       cfg.Archive,
		metrics:       cfg.Metrics,
		secret:        cfg.Secret,
		sigHeader:     cfg.SignatureHeader,
		processAll:    cfg.UnverifiedPolicy == PolicyProcess,
		archiveBodies: cfg.ArchiveBodies,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
	if h.verifier == nil {
		h.verifier = webhook.NewVerifier(webhook.DefaultTolerance)
	}
	if h.dedupe == nil {
		h.dedupe = dedupe.Nop{}
	}
	if h.sigHeader == "" {
		h.sigHeader = "X-Signature"
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// RegisterRoutes mounts the webhook endpoint. It belongs on the root router.
func (h *PaymentWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payment", h.Handle)
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// Handle processes one delivery:
//  1. Reads the body once and verifies the signature over it.
//  2. Logs unverified deliveries before any policy decision.
//  3. Parses the event; a malformed body is a 400 whatever the signature.
//  4. Applies the unverified policy (reject answers 401).
//  5. Skips event ids already processed, then dispatches by kind.
//  6. Archives the delivery and acknowledges with {"received": true}.
//
// Only a failed completion write answers 5xx, so the provider retries it.
func (h *PaymentWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMalformedPayload,
			"failed to read request body",
			err,
		))
		return
	}

	res := h.verifier.Verify(body, r.Header.Get(h.sigHeader), h.secret, h.now())
	if h.metrics != nil {
		h.metrics.RecordSignature(string(res.Scheme), res.Valid)
	}
	if !res.Valid {
		h.logger.WarnContext(ctx, "unauthenticated webhook",
			"reason", res.Reason,
			"scheme", string(res.Scheme),
			"policy", h.policy(),
		)
	}

	event, err := webhook.Parse(body)
	if err != nil {
		h.logger.WarnContext(ctx, "rejecting unparsable webhook", "error", err)
		core.Error(w, r, parseError(err))
		return
	}

	log := h.logger.With(
		"provider_event_id", event.ID,
		"event_type", event.Type,
		"session_id", event.Data.SessionID,
	)
	delivery := &types.WebhookDelivery{
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Kind:            string(event.Kind),
		SessionID:       event.Data.SessionID,
		SignatureValid:  res.Valid,
		Scheme:          string(res.Scheme),
	}
	if h.archiveBodies {
		delivery.Body = body
	}

	if !res.Valid && !h.processAll {
		h.finish(ctx, log, delivery, outcomeRejected)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			nil,
		))
		return
	}

	if h.seen(ctx, log, event.ID) {
		log.InfoContext(ctx, "duplicate webhook delivery acknowledged")
		h.finish(ctx, log, delivery, outcomeDuplicate)
		core.JSON(w, r, http.StatusOK, receivedResponse{Received: true})
		return
	}

	outcome, err := h.dispatch(ctx, event)
	if err != nil {
		log.ErrorContext(ctx, "webhook processing failed", "error", err)
		h.finish(ctx, log, delivery, outcomeFailed)
		core.Error(w, r, persistenceError(err))
		return
	}

	if event.ID != "" {
		if err := h.dedupe.Mark(ctx, event.ID); err != nil {
			log.WarnContext(ctx, "failed to mark webhook processed", "error", err)
		}
	}
	log.InfoContext(ctx, "webhook processed", "kind", string(event.Kind), "outcome", string(outcome))
	h.finish(ctx, log, delivery, string(outcome))
	core.JSON(w, r, http.StatusOK, receivedResponse{Received: true})
}

// dispatch routes event to the reconciler by kind. Unhandled kinds are
// acknowledged without side effects.
func (h *PaymentWebhookHandler) dispatch(ctx context.Context, event *webhook.Event) (reconciler.Outcome, error) {
	switch event.Kind {
	case webhook.KindPaymentCompleted:
		return h.reconciler.Complete(ctx, reconciler.CompletionInput{
			SessionID:       event.Data.SessionID,
			ProviderEventID: event.ID,
			AmountTotal:     event.Data.AmountTotal,
			Currency:        event.Data.Currency,
		})
	case webhook.KindPaymentExpired:
		return h.reconciler.Expire(ctx, event.Data.SessionID)
	case webhook.KindPaymentCancelled:
		return h.reconciler.Cancel(ctx, event.Data.SessionID)
	case webhook.KindPayoutCompleted, webhook.KindPayoutFailed:
		return h.reconciler.Payout(ctx, string(event.Kind), event.Data.SessionID), nil
	default:
		h.logger.InfoContext(ctx, "unhandled webhook event type", "event_type", event.Type)
		return reconciler.OutcomeIgnored, nil
	}
}

// seen consults the dedupe cache. Cache errors let the delivery through.
func (h *PaymentWebhookHandler) seen(ctx context.Context, log *slog.Logger, eventID string) bool {
	if eventID == "" {
		return false
	}
	seen, err := h.dedupe.Seen(ctx, eventID)
	if err != nil {
		log.WarnContext(ctx, "dedupe lookup failed", "error", err)
		return false
	}
	return seen
}

// finish records the outcome metric and archives the delivery. Archive
// failures are logged only.
func (h *PaymentWebhookHandler) finish(ctx context.Context, log *slog.Logger, d *types.WebhookDelivery, outcome string) {
	d.Outcome = outcome
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(d.Kind, outcome)
	}
	if h.archive == nil {
		return
	}
	if err := h.archive.Record(context.WithoutCancel(ctx), d); err != nil {
		log.ErrorContext(ctx, "failed to archive webhook delivery", "error", err)
	}
}

func (h *PaymentWebhookHandler) policy() string {
	if h.processAll {
		return PolicyProcess
	}
	return PolicyReject
}

func parseError(err error) *types.AppError {
	if errors.Is(err, webhook.ErrMissingCorrelationID) {
		return types.NewAppError(
			types.ErrCodeValidationMissingCorrID,
			"webhook event is missing data.id",
			err,
		)
	}
	return types.NewAppError(
		types.ErrCodeValidationMalformedPayload,
		"webhook payload is not valid JSON",
		err,
	)
}

// persistenceError keeps AppErrors from the reconciler and classifies
// anything else as a database failure.
func persistenceError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeInternalDB, "failed to record payment", err)
}
