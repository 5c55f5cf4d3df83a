package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"ticketing/internal/types"
)

// DeliveryRepo archives inbound webhook deliveries. Bodies are stored zstd
// compressed; the archive feeds the manual reconciliation tool.
type DeliveryRepo struct {
	db      DBTX
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	now     func() time.Time
	logger  *slog.Logger
}

// NewDeliveryRepo creates a DeliveryRepo. The zstd encoder and decoder are
// shared and safe for concurrent EncodeAll/DecodeAll use.
func NewDeliveryRepo(db DBTX, logger *slog.Logger) (*DeliveryRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &DeliveryRepo{
		db:      db,
		encoder: enc,
		decoder: dec,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Close releases the decoder's background resources.
func (r *DeliveryRepo) Close() {
	r.decoder.Close()
}

// Record inserts d. A missing ID or ReceivedAt is filled in and written back
// to d.
func (r *DeliveryRepo) Record(ctx context.Context, d *types.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = r.now().UTC()
	}
	compressed := r.encoder.EncodeAll(d.Body, nil)

	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_deliveries
		        (id, provider_event_id, event_type, kind, session_id,
		         signature_valid, scheme, outcome, body_zstd, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID,
		d.ProviderEventID,
		d.EventType,
		d.Kind,
		d.SessionID,
		d.SignatureValid,
		d.Scheme,
		d.Outcome,
		compressed,
		d.ReceivedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to archive webhook delivery", err)
	}
	return nil
}

// ListBySession returns archived deliveries for sessionID, oldest first.
// With verifiedOnly, deliveries whose signature did not verify are skipped.
func (r *DeliveryRepo) ListBySession(ctx context.Context, sessionID string, verifiedOnly bool) ([]types.WebhookDelivery, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, provider_event_id, event_type, kind, session_id,
		        signature_valid, scheme, outcome, body_zstd, received_at
		   FROM webhook_deliveries
		  WHERE session_id = $1
		    AND (signature_valid OR NOT $2)
		  ORDER BY received_at ASC`,
		sessionID, verifiedOnly,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list webhook deliveries", err)
	}
	defer rows.Close()

	var out []types.WebhookDelivery
	for rows.Next() {
		var (
			d          types.WebhookDelivery
			compressed []byte
		)
		if err := rows.Scan(
			&d.ID, &d.ProviderEventID, &d.EventType, &d.Kind, &d.SessionID,
			&d.SignatureValid, &d.Scheme, &d.Outcome, &compressed, &d.ReceivedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan webhook delivery", err)
		}
		body, err := r.decoder.DecodeAll(compressed, nil)
		if err != nil {
			r.logger.WarnContext(ctx, "archived webhook body is corrupt",
				"delivery_id", d.ID,
				"error", err,
			)
			continue
		}
		d.Body = body
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate webhook deliveries", err)
	}
	return out, nil
}

// ListPendingCompletions returns checkout sessions that have a verified
// completion delivery since the given time while their ticket is still not
// approved. These are tickets a lost or failed webhook left behind.
func (r *DeliveryRepo) ListPendingCompletions(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT d.session_id
		   FROM webhook_deliveries d
		   JOIN tickets t ON t.checkout_session_id = d.session_id
		  WHERE d.kind = 'payment_completed'
		    AND d.signature_valid
		    AND d.received_at >= $1
		    AND t.status <> 'approved'
		  ORDER BY d.session_id`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending completions", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan session id", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate pending completions", err)
	}
	return sessions, nil
}
