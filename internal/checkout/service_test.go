package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticketing/internal/external"
	"ticketing/internal/fees"
	"ticketing/internal/types"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) GetByID(ctx context.Context, ticketID int64) (*types.Ticket, error) {
	args := m.Called(ctx, ticketID)
	t, _ := args.Get(0).(*types.Ticket)
	return t, args.Error(1)
}

func (m *mockStore) ClearCheckoutSession(ctx context.Context, ticketID int64) error {
	return m.Called(ctx, ticketID).Error(0)
}

func (m *mockStore) AttachCheckoutSession(ctx context.Context, ticketID int64, sessionID string) (bool, error) {
	args := m.Called(ctx, ticketID, sessionID)
	return args.Bool(0), args.Error(1)
}

type mockDetails struct{ mock.Mock }

func (m *mockDetails) GetDetails(ctx context.Context, ticketID int64) (*types.TicketDetails, error) {
	args := m.Called(ctx, ticketID)
	d, _ := args.Get(0).(*types.TicketDetails)
	return d, args.Error(1)
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) CreateSession(ctx context.Context, req external.CheckoutRequest) (*external.CheckoutSession, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*external.CheckoutSession)
	return s, args.Error(1)
}

func newCalculator(t *testing.T) *fees.Calculator {
	t.Helper()
	calc, err := fees.NewCalculator(fees.Schedule{
		PlatformRate:      decimal.RequireFromString("0.05"),
		ProcessorRate:     decimal.RequireFromString("0.029"),
		ProcessorFixedFee: decimal.RequireFromString("0.30"),
		Places:            2,
	})
	require.NoError(t, err)
	return calc
}

func unpaid(id int64, owner string, session *string) *types.Ticket {
	return &types.Ticket{
		ID:                id,
		EventID:           "evt_1",
		UserID:            owner,
		Status:            types.TicketUnpaid,
		CheckoutSessionID: session,
		Pricing: types.TicketPricing{
			BasePrice: decimal.RequireFromString("100.00"),
			Currency:  "usd",
			FeeBearer: types.FeeBearerBuyer,
		},
	}
}

func details() *types.TicketDetails {
	return &types.TicketDetails{TicketID: 7, EventID: "evt_1", EventTitle: "Summer Gala", AttendeeEmail: "ana@example.com", Currency: "usd"}
}

type fixture struct {
	store    *mockStore
	details  *mockDetails
	provider *mockProvider
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{store: &mockStore{}, details: &mockDetails{}, provider: &mockProvider{}}
	f.svc = NewService(Config{
		Store:      f.store,
		Details:    f.details,
		Fees:       newCalculator(t),
		Provider:   f.provider,
		SuccessURL: "https://tickets.example.com/ok",
		CancelURL:  "https://tickets.example.com/cancel",
		Currency:   "eur",
	})
	f.svc.newKey = func() string { return "k1" }
	t.Cleanup(func() {
		f.store.AssertExpectations(t)
		f.details.AssertExpectations(t)
		f.provider.AssertExpectations(t)
	})
	return f
}

func appCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestBegin_CreatesAndAttachesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.On("GetByID", ctx, int64(7)).Return(unpaid(7, "user_1", nil), nil)
	f.details.On("GetDetails", ctx, int64(7)).Return(details(), nil)
	f.provider.On("CreateSession", ctx, mock.MatchedBy(func(req external.CheckoutRequest) bool {
		return req.LineItem.UnitAmount.Equal(decimal.RequireFromString("108.20")) &&
			req.LineItem.Currency == "usd" &&
			req.LineItem.Name == "Ticket: Summer Gala" &&
			req.Metadata == external.CheckoutMetadata{TicketID: "7", UserID: "user_1", EventID: "evt_1"} &&
			req.CustomerEmail == "ana@example.com" &&
			req.SuccessURL == "https://tickets.example.com/ok" &&
			req.IdempotencyKey == "checkout-7-k1"
	})).Return(&external.CheckoutSession{ID: "cs_new", URL: "https://pay.example.com/cs_new"}, nil)
	f.store.On("AttachCheckoutSession", ctx, int64(7), "cs_new").Return(true, nil)

	session, err := f.svc.Begin(ctx, 7, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cs_new", session.ID)
	assert.Equal(t, "https://pay.example.com/cs_new", session.URL)
	f.store.AssertNotCalled(t, "ClearCheckoutSession", mock.Anything, mock.Anything)
}

func TestBegin_ClearsPreviousSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := "cs_old"

	f.store.On("GetByID", ctx, int64(7)).Return(unpaid(7, "user_1", &old), nil)
	f.details.On("GetDetails", ctx, int64(7)).Return(details(), nil)
	f.store.On("ClearCheckoutSession", ctx, int64(7)).Return(nil).Once()
	f.provider.On("CreateSession", ctx, mock.Anything).Return(&external.CheckoutSession{ID: "cs_new", URL: "u"}, nil)
	f.store.On("AttachCheckoutSession", ctx, int64(7), "cs_new").Return(true, nil)

	_, err := f.svc.Begin(ctx, 7, "user_1")
	require.NoError(t, err)
}

func TestBegin_OrganizerBearerChargesBase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := unpaid(7, "user_1", nil)
	ticket.Pricing.FeeBearer = types.FeeBearerOrganizer
	ticket.Pricing.Currency = ""

	d := details()
	d.Currency = ""
	f.store.On("GetByID", ctx, int64(7)).Return(ticket, nil)
	f.details.On("GetDetails", ctx, int64(7)).Return(d, nil)
	f.provider.On("CreateSession", ctx, mock.MatchedBy(func(req external.CheckoutRequest) bool {
		return req.LineItem.UnitAmount.Equal(decimal.RequireFromString("100")) && req.LineItem.Currency == "eur"
	})).Return(&external.CheckoutSession{ID: "cs_1", URL: "u"}, nil)
	f.store.On("AttachCheckoutSession", ctx, int64(7), "cs_1").Return(true, nil)

	_, err := f.svc.Begin(ctx, 7, "user_1")
	require.NoError(t, err)
}

func TestBegin_Rejections(t *testing.T) {
	approved := unpaid(7, "user_1", nil)
	approved.Status = types.TicketApproved

	tests := []struct {
		name   string
		ticket *types.Ticket
		err    error
		user   string
		want   types.ErrorCode
	}{
		{"not found", nil, types.NewAppError(types.ErrCodeNotFoundTicket, "ticket not found", nil), "user_1", types.ErrCodeNotFoundTicket},
		{"other owner", unpaid(7, "user_2", nil), nil, "user_1", types.ErrCodePermissionTicketOwner},
		{"already approved", approved, nil, "user_1", types.ErrCodeConflictTicketState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.store.On("GetByID", ctx, int64(7)).Return(tt.ticket, tt.err)

			_, err := f.svc.Begin(ctx, 7, tt.user)
			assert.Equal(t, tt.want, appCode(t, err))
			f.provider.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
		})
	}
}

func TestBegin_LostAttachRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.On("GetByID", ctx, int64(7)).Return(unpaid(7, "user_1", nil), nil)
	f.details.On("GetDetails", ctx, int64(7)).Return(details(), nil)
	f.provider.On("CreateSession", ctx, mock.Anything).Return(&external.CheckoutSession{ID: "cs_new", URL: "u"}, nil)
	f.store.On("AttachCheckoutSession", ctx, int64(7), "cs_new").Return(false, nil)

	_, err := f.svc.Begin(ctx, 7, "user_1")
	assert.Equal(t, types.ErrCodeConflictConcurrent, appCode(t, err))
}

func TestBegin_ProviderFailureLeavesTicketUnattached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	declined := types.NewAppError(types.ErrCodeUpstreamStripe, "stripe down", errors.New("503"))

	f.store.On("GetByID", ctx, int64(7)).Return(unpaid(7, "user_1", nil), nil)
	f.details.On("GetDetails", ctx, int64(7)).Return(details(), nil)
	f.provider.On("CreateSession", ctx, mock.Anything).Return(nil, declined)

	_, err := f.svc.Begin(ctx, 7, "user_1")
	assert.ErrorIs(t, err, declined)
	f.store.AssertNotCalled(t, "AttachCheckoutSession", mock.Anything, mock.Anything, mock.Anything)
}
