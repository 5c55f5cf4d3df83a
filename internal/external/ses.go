package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"ticketing/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient sends ticket emails through AWS SES v2. The SDK retries
// throttled calls itself, so it does not go through BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, configSetName string, logger *slog.Logger) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), configSetName, logger)
}

// NewSESClientWithAPI creates an SESClient over an existing API value.
func NewSESClientWithAPI(api SESAPI, configSetName string, logger *slog.Logger) *SESClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, configSetName: configSetName, logger: logger}
}

// Send transmits simple (non-templated) content. ReferenceID is attached as
// the ticket_id message tag so bounces can be matched to tickets.
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	req := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatSender(input.From)),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8Content(input.Subject),
				Body:    body,
			},
		},
	}
	if s.configSetName != "" {
		req.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		req.EmailTags = []sestypes.MessageTag{{
			Name:  aws.String("ticket_id"),
			Value: aws.String(input.ReferenceID),
		}}
	}

	out, err := s.api.SendEmail(ctx, req)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// formatSender renders "Name <address>", Q-encoding non-ASCII names.
func formatSender(from types.SenderIdentity) string {
	if from.Name == "" {
		return from.Address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", from.Name), from.Address)
}

func mapSESError(err error) error {
	var (
		rejected *sestypes.MessageRejected
		throttle *sestypes.TooManyRequestsException
		paused   *sestypes.SendingPausedException
		limit    *sestypes.LimitExceededException
	)
	switch {
	case errors.As(err, &rejected):
		return types.NewAppError(types.ErrCodeEmailBlocked, "SES rejected message", err)
	case errors.As(err, &throttle), errors.As(err, &limit):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	case errors.As(err, &paused):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES sending paused", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SES send failed", err)
	}
}

var _ EmailProvider = (*SESClient)(nil)
