package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"ticketing/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeConfig configures a StripeCheckoutClient.
type StripeConfig struct {
	SecretKey types.SecretString
	// BaseURL overrides the API host, for tests and local mocks.
	BaseURL string
	// CurrencyPlaces converts decimal prices to minor units. Defaults to 2.
	CurrencyPlaces int32
	Logger         *slog.Logger
}

// StripeCheckoutClient creates Checkout Sessions through the Stripe REST
// API. Requests are form encoded and pinned to the API version of the
// stripe-go release in go.mod.
type StripeCheckoutClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	places    int32
	logger    *slog.Logger
}

// NewStripeCheckoutClient creates a client over base. A nil base gets the
// default breaker and retry policy.
func NewStripeCheckoutClient(base *BaseClient, cfg StripeConfig) *StripeCheckoutClient {
	if base == nil {
		base = NewBaseClient(nil, "stripe", DefaultRetryPolicy(), "ticketing/1.0")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	places := cfg.CurrencyPlaces
	if places == 0 {
		places = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeCheckoutClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		places:    places,
		logger:    logger,
	}
}

// CreateSession creates a one-off payment session for a single ticket. The
// ticket id is stored as client_reference_id and in metadata so webhook
// events can be traced back without a lookup.
func (s *StripeCheckoutClient) CreateSession(ctx context.Context, in CheckoutRequest) (*CheckoutSession, error) {
	if in.LineItem.UnitAmount.IsNegative() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidAmount, "unit amount must be non-negative", nil)
	}
	qty := in.LineItem.Quantity
	if qty <= 0 {
		qty = 1
	}
	unit := in.LineItem.UnitAmount.Shift(s.places).Round(0).IntPart()

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	form.Set("client_reference_id", in.Metadata.TicketID)
	form.Set("line_items[0][quantity]", strconv.FormatInt(qty, 10))
	form.Set("line_items[0][price_data][currency]", strings.ToLower(in.LineItem.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(unit, 10))
	form.Set("line_items[0][price_data][product_data][name]", in.LineItem.Name)
	form.Set("metadata[ticket_id]", in.Metadata.TicketID)
	form.Set("metadata[user_id]", in.Metadata.UserID)
	form.Set("metadata[event_id]", in.Metadata.EventID)
	form.Set("payment_intent_data[metadata][ticket_id]", in.Metadata.TicketID)
	if in.CustomerEmail != "" {
		form.Set("customer_email", in.CustomerEmail)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build checkout request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	if in.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", in.IdempotencyKey)
	}

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, stripeErrorFromResponse(resp)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode checkout session", err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "checkout session response missing id or url", nil)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"session_id", session.ID,
		"ticket_id", in.Metadata.TicketID,
		"unit_amount", unit,
	)
	return &session, nil
}

type stripeErrorBody struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
		Param       string `json:"param"`
	} `json:"error"`
}

func stripeErrorFromResponse(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("stripe returned %d with unreadable body", resp.StatusCode), err)
	}
	var body stripeErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("stripe returned %d with non-JSON body", resp.StatusCode), err)
	}

	e := body.Error
	if e.Code == "card_declined" || e.DeclineCode != "" {
		return types.NewAppErrorWithDetails(types.ErrCodePaymentDeclined, "payment declined: "+e.Message, nil,
			map[string]any{"decline_code": e.DeclineCode, "stripe_code": e.Code})
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("stripe error (%d): %s", resp.StatusCode, e.Message), nil,
		map[string]any{"stripe_type": e.Type, "stripe_code": e.Code, "param": e.Param})
}

func wrapStripeError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, "stripe request failed", err)
}

var _ CheckoutProvider = (*StripeCheckoutClient)(nil)
