package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"ticketing/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueNotifier publishes rendered ticket emails to SQS. The email worker
// consumes the queue and calls the provider.
type QueueNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueueNotifier creates a QueueNotifier targeting queueURL.
func NewQueueNotifier(client SQSSender, queueURL string, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{client: client, queueURL: queueURL, logger: logger, now: time.Now}
}

// SendTicketEmail enqueues one email. The request id travels in the body
// and as a message attribute.
func (q *QueueNotifier) SendTicketEmail(ctx context.Context, ticketID int64, to, subject string, content types.EmailContent) error {
	msg := types.TicketEmailMessage{
		TicketID:   ticketID,
		To:         to,
		Subject:    subject,
		BodyHTML:   content.HTML,
		BodyText:   content.Text,
		RequestID:  types.GetRequestID(ctx),
		EnqueuedAt: q.now().UnixMilli(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue notifier: failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"ticket_id": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(ticketID, 10)),
			},
		},
	}
	out, err := q.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue notifier: failed to send message to %s: %w", q.queueURL, err)
	}

	q.logger.InfoContext(ctx, "ticket email queued",
		"ticket_id", ticketID,
		"sqs_message_id", aws.ToString(out.MessageId),
	)
	return nil
}
