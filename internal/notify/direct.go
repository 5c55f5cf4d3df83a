package notify

import (
	"context"
	"log/slog"
	"strconv"

	"ticketing/internal/external"
	"ticketing/internal/types"
)

// DirectNotifier sends ticket emails through an email provider from the
// calling process.
type DirectNotifier struct {
	provider external.EmailProvider
	from     types.SenderIdentity
	logger   *slog.Logger
}

// NewDirectNotifier creates a DirectNotifier sending as from.
func NewDirectNotifier(provider external.EmailProvider, from types.SenderIdentity, logger *slog.Logger) *DirectNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectNotifier{provider: provider, from: from, logger: logger}
}

// SendTicketEmail sends one rendered email. The ticket id is attached as the
// provider reference so bounces can be traced.
func (n *DirectNotifier) SendTicketEmail(ctx context.Context, ticketID int64, to, subject string, content types.EmailContent) error {
	msgID, err := n.provider.Send(ctx, SendInputFor(n.from, ticketID, to, subject, content))
	if err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "ticket email accepted by provider",
		"ticket_id", ticketID,
		"provider_message_id", msgID,
	)
	return nil
}

// SendInputFor builds the provider input for a ticket email.
func SendInputFor(from types.SenderIdentity, ticketID int64, to, subject string, content types.EmailContent) types.SendInput {
	return types.SendInput{
		To:          to,
		From:        from,
		Subject:     subject,
		BodyHTML:    content.HTML,
		BodyText:    content.Text,
		ReferenceID: strconv.FormatInt(ticketID, 10),
	}
}
