package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"ticketing/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClient sends ticket emails through the SendGrid v3 Mail Send API.
type SendGridClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient creates a client over base. A nil base gets the default
// breaker and retry policy; an empty baseURL uses the public API.
func NewSendGridClient(base *BaseClient, apiKey types.SecretString, baseURL string, logger *slog.Logger) *SendGridClient {
	if base == nil {
		base = NewBaseClient(nil, "sendgrid", DefaultRetryPolicy(), "ticketing/1.0")
	}
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	CustomArgs       map[string]string   `json:"custom_args,omitempty"`
}

// buildMail orders content text first, as the API requires.
func buildMail(input types.SendInput) sgMail {
	m := sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: input.To}}}},
		From:             sgAddress{Email: input.From.Address, Name: input.From.Name},
		Subject:          input.Subject,
	}
	if input.BodyText != "" {
		m.Content = append(m.Content, sgContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		m.Content = append(m.Content, sgContent{Type: "text/html", Value: input.BodyHTML})
	}
	if input.ReferenceID != "" {
		m.CustomArgs = map[string]string{"ticket_id": input.ReferenceID}
	}
	return m
}

// Send posts the mail and returns the X-Message-Id header. SendGrid answers
// 202 on acceptance; 403 means the recipient is suppressed.
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	payload, err := json.Marshal(buildMail(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal SendGrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey.Unmask())

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", sendGridError(resp)
}

type sgErrorBody struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func sendGridError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var body sgErrorBody
	if json.Unmarshal(raw, &body) == nil && len(body.Errors) > 0 {
		msg = body.Errors[0].Message
	}

	if resp.StatusCode == http.StatusForbidden {
		return types.NewAppError(types.ErrCodeEmailBlocked, "SendGrid blocked delivery: "+msg, nil)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, msg), nil)
}

var _ EmailProvider = (*SendGridClient)(nil)
