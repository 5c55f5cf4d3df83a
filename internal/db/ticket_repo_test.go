package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticketing/internal/types"
)

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

// unpaidTicketRow returns the 20 columns of ticketSelect for an unpaid ticket.
func unpaidTicketRow(id int64, session string) []any {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []any{
		id, "evt_1", "user_1", "unpaid", "", strPtr(session),
		dec("100.00"), "usd", "buyer",
		decimal.NullDecimal{}, decimal.NullDecimal{}, decimal.NullDecimal{}, decimal.NullDecimal{}, decimal.NullDecimal{}, nil,
		nil, nil, nil, nil, created,
	}
}

func approvedTicketRow(id int64, session string) []any {
	paidAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	row := unpaidTicketRow(id, session)
	row[3] = "approved"
	row[4] = "paid"
	row[9] = nullDec("100.00")
	row[10] = nullDec("5.00")
	row[11] = nullDec("3.20")
	row[12] = nullDec("108.20")
	row[13] = nullDec("100.00")
	row[14] = strPtr("buyer")
	row[15] = []byte("hash")
	row[16] = strPtr("tk_ab12")
	row[17] = &paidAt
	return row
}

func sqlContains(fragment string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}

func TestTicketRepo_GetBySession_Unpaid(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTicketRepo(db, nil)

	db.On("QueryRow", mock.Anything, sqlContains("WHERE t.checkout_session_id = $1"), []any{"cs_1"}).
		Return(rowOf(unpaidTicketRow(7, "cs_1")...))

	ticket, err := repo.GetBySession(context.Background(), "cs_1")
	require.NoError(t, err)

	assert.Equal(t, int64(7), ticket.ID)
	assert.Equal(t, types.TicketUnpaid, ticket.Status)
	assert.Equal(t, types.PaymentNone, ticket.PaymentStatus)
	require.NotNil(t, ticket.CheckoutSessionID)
	assert.Equal(t, "cs_1", *ticket.CheckoutSessionID)
	assert.Equal(t, "100.00", ticket.Pricing.BasePrice.StringFixed(2))
	assert.Equal(t, types.FeeBearerBuyer, ticket.Pricing.FeeBearer)
	assert.Nil(t, ticket.Snapshot)
	assert.Empty(t, ticket.ScanTokenPrefix)
	db.AssertExpectations(t)
}

func TestTicketRepo_GetBySession_ApprovedCarriesSnapshot(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTicketRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(rowOf(approvedTicketRow(7, "cs_1")...))

	ticket, err := repo.GetBySession(context.Background(), "cs_1")
	require.NoError(t, err)

	require.NotNil(t, ticket.Snapshot)
	assert.Equal(t, "108.20", ticket.Snapshot.AmountPaid.StringFixed(2))
	assert.Equal(t, types.FeeBearerBuyer, ticket.Snapshot.FeeBearer)
	assert.Equal(t, "tk_ab12", ticket.ScanTokenPrefix)
	assert.NotNil(t, ticket.PaidAt)
}

func TestTicketRepo_GetBySession_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTicketRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetBySession(context.Background(), "cs_missing")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundTicket, appErr.Code)
}

func TestTicketRepo_GetByID_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTicketRepo(db, nil)

	db.On("QueryRow", mock.Anything, sqlContains("WHERE t.id = $1"), []any{int64(9)}).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, err := repo.GetByID(context.Background(), 9)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTicketRepo_Approve(t *testing.T) {
	approval := types.Approval{
		SessionID: "cs_1",
		Snapshot: types.FeeSnapshot{
			BasePrice:       dec("100.00"),
			PlatformFee:     dec("5.00"),
			ProcessorFee:    dec("3.20"),
			AmountPaid:      dec("108.20"),
			OrganizerAmount: dec("100.00"),
			FeeBearer:       types.FeeBearerBuyer,
		},
		ScanTokenHash:   []byte("hash"),
		ScanTokenPrefix: "tk_ab12",
		PaidAt:          time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}

	tests := []struct {
		name    string
		tag     string
		execErr error
		want    bool
		wantErr bool
	}{
		{"winner", "UPDATE 1", nil, true, false},
		{"already approved", "UPDATE 0", nil, false, false},
		{"write failure", "", errors.New("deadlock detected"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewTicketRepo(db, nil)

			db.On("Exec", mock.Anything, sqlContains("AND status <> 'approved'"),
				mock.MatchedBy(func(args []any) bool {
					return len(args) == 11 &&
						args[0] == int64(7) &&
						args[1] == "cs_1" &&
						args[7] == "buyer" &&
						args[9] == "tk_ab12"
				}),
			).Return(pgconn.NewCommandTag(tt.tag), tt.execErr)

			won, err := repo.Approve(context.Background(), 7, approval)
			assert.Equal(t, tt.want, won)
			if tt.wantErr {
				var appErr *types.AppError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
			} else {
				require.NoError(t, err)
			}
			db.AssertExpectations(t)
		})
	}
}

func TestTicketRepo_ConditionalTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		fragment string
		call     func(r *TicketRepo) (bool, error)
	}{
		{"expire", "AND status = 'unpaid'", func(r *TicketRepo) (bool, error) {
			return r.MarkExpired(ctx, 7, "cs_1")
		}},
		{"cancel", "AND payment_status <> 'cancelled'", func(r *TicketRepo) (bool, error) {
			return r.MarkCancelled(ctx, 7, "cs_1")
		}},
		{"attach", "AND checkout_session_id IS NULL", func(r *TicketRepo) (bool, error) {
			return r.AttachCheckoutSession(ctx, 7, "cs_2")
		}},
		{"check in", "AND checked_in_at IS NULL", func(r *TicketRepo) (bool, error) {
			return r.MarkCheckedIn(ctx, 7, time.Now())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/applied", func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Exec", mock.Anything, sqlContains(tt.fragment), mock.Anything).
				Return(pgconn.NewCommandTag("UPDATE 1"), nil)
			won, err := tt.call(NewTicketRepo(db, nil))
			require.NoError(t, err)
			assert.True(t, won)
		})
		t.Run(tt.name+"/no-op", func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Exec", mock.Anything, sqlContains(tt.fragment), mock.Anything).
				Return(pgconn.NewCommandTag("UPDATE 0"), nil)
			won, err := tt.call(NewTicketRepo(db, nil))
			require.NoError(t, err)
			assert.False(t, won)
		})
		t.Run(tt.name+"/error", func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
				Return(pgconn.CommandTag{}, errors.New("timeout"))
			_, err := tt.call(NewTicketRepo(db, nil))
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
		})
	}
}

func TestTicketRepo_ClearCheckoutSession(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTicketRepo(db, nil)

	db.On("Exec", mock.Anything, sqlContains("SET checkout_session_id = NULL"), []any{int64(7)}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.ClearCheckoutSession(context.Background(), 7))
	db.AssertExpectations(t)
}

func TestTicketRepo_GetDetails(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTicketRepo(db, nil)

	starts := time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, sqlContains("JOIN profiles p"), []any{int64(7)}).
		Return(rowOf(
			int64(7), "evt_1", "Summer Gala", strPtr("Hall A"), starts,
			strPtr("Ana Souza"), "ana@example.com", "usd",
			nullDec("100.00"), nullDec("5.00"), nullDec("3.20"), nullDec("108.20"), nullDec("100.00"), strPtr("buyer"),
			strPtr("tk_ab12"),
		))

	d, err := repo.GetDetails(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Summer Gala", d.EventTitle)
	assert.Equal(t, "Hall A", d.VenueName)
	assert.Equal(t, "Ana Souza", d.AttendeeName)
	assert.Equal(t, "ana@example.com", d.AttendeeEmail)
	assert.Equal(t, "108.20", d.Snapshot.AmountPaid.StringFixed(2))
	assert.Equal(t, "tk_ab12", d.ScanTokenPrefix)
}

func TestTicketRepo_GetDetails_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTicketRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetDetails(context.Background(), 99)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundTicket, appErr.Code)
}
