package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"ticketing/internal/external"
	"ticketing/internal/types"
)

// Worker drains the ticket email queue. It is the Lambda SQS handler of
// cmd/email-worker.
type Worker struct {
	provider     external.EmailProvider
	providerName string
	from         types.SenderIdentity
	metrics      DeliveryMetrics
	logger       *slog.Logger
	now          func() time.Time
}

// WorkerConfig holds the Worker's collaborators.
type WorkerConfig struct {
	Provider     external.EmailProvider
	ProviderName string
	From         types.SenderIdentity
	Metrics      DeliveryMetrics
	Logger       *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		from:         cfg.From,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          time.Now,
	}
	if w.metrics == nil {
		w.metrics = NopMetrics{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Handle processes a batch. Messages whose send failed transiently are
// reported in BatchItemFailures so SQS redelivers only those.
func (w *Worker) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range event.Records {
		if err := w.processMessage(ctx, record); err != nil {
			w.logger.ErrorContext(ctx, "failed to process ticket email",
				"message_id", record.MessageId,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

func (w *Worker) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.TicketEmailMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Permanent: redelivery cannot fix the body.
		w.logger.ErrorContext(ctx, "failed to unmarshal ticket email message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}
	if msg.RequestID != "" {
		ctx = types.WithRequestID(ctx, msg.RequestID)
	}
	log := w.logger.With("ticket_id", msg.TicketID, "message_id", record.MessageId)

	if msg.EnqueuedAt > 0 {
		w.metrics.RecordQueueLag(ctx, w.now().Sub(time.UnixMilli(msg.EnqueuedAt)))
	}

	start := w.now()
	providerID, err := w.provider.Send(ctx, SendInputFor(w.from, msg.TicketID, msg.To, msg.Subject,
		types.EmailContent{HTML: msg.BodyHTML, Text: msg.BodyText}))
	w.metrics.RecordLatency(ctx, w.providerName, w.now().Sub(start))

	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeEmailBlocked {
			w.metrics.RecordDelivery(ctx, w.providerName, ResultBlocked)
			log.WarnContext(ctx, "ticket email blocked by provider", "error", err)
			return nil
		}
		w.metrics.RecordDelivery(ctx, w.providerName, ResultFailed)
		return err
	}

	w.metrics.RecordDelivery(ctx, w.providerName, ResultSuccess)
	log.InfoContext(ctx, "ticket email sent", "provider_message_id", providerID)
	return nil
}
