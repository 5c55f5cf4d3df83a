// Package fees computes the platform and processor fees charged on a ticket
// and splits the result between buyer and organizer.
//
// All arithmetic uses shopspring/decimal. Each fee is rounded half-up to the
// currency's minor unit before it is summed, so the totals always reconcile
// to the cent:
//
//	buyer:     amountPaid - organizerAmount == platformFee + processorFee
//	organizer: basePrice  - organizerAmount == platformFee + processorFee
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ticketing/internal/types"
)

// DefaultPlaces is the number of decimal places for two-decimal currencies.
const DefaultPlaces int32 = 2

// Schedule is the set of financial terms applied to every ticket sale.
// It is loaded from configuration so the terms can change without a deploy.
type Schedule struct {
	PlatformRate      decimal.Decimal
	ProcessorRate     decimal.Decimal
	ProcessorFixedFee decimal.Decimal
	// Places is the rounding precision (minor-unit digits) for the currency.
	Places int32
}

// Validate rejects schedules that would produce nonsensical fees.
func (s Schedule) Validate() error {
	if s.PlatformRate.IsNegative() || s.ProcessorRate.IsNegative() || s.ProcessorFixedFee.IsNegative() {
		return fmt.Errorf("fees: rates and fixed fee must be non-negative")
	}
	if s.PlatformRate.GreaterThanOrEqual(decimal.NewFromInt(1)) || s.ProcessorRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fees: rates must be below 1.0")
	}
	if s.Places < 0 {
		return fmt.Errorf("fees: places must be non-negative, got %d", s.Places)
	}
	return nil
}

// Calculator applies a Schedule to base prices. It is stateless and safe for
// concurrent use.
type Calculator struct {
	schedule Schedule
}

// NewCalculator validates the schedule and returns a Calculator.
func NewCalculator(s Schedule) (*Calculator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{schedule: s}, nil
}

// Schedule returns the terms this calculator applies.
func (c *Calculator) Schedule() Schedule {
	return c.schedule
}

// Compute returns the fee snapshot for basePrice under the given bearer
// policy. basePrice is rounded to the schedule's precision first.
//
// A negative base price or an unknown bearer is an error. An organizer net
// below zero (tiny prices with a fixed fee) is reported as-is.
func (c *Calculator) Compute(basePrice decimal.Decimal, bearer types.FeeBearer) (types.FeeSnapshot, error) {
	if basePrice.IsNegative() {
		return types.FeeSnapshot{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidAmount,
			"base price must be non-negative",
			nil,
			map[string]any{"base_price": basePrice.String()},
		)
	}
	if !bearer.Valid() {
		return types.FeeSnapshot{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationFeeBearer,
			fmt.Sprintf("unknown fee bearer %q", bearer),
			nil,
			map[string]any{"fee_bearer": string(bearer)},
		)
	}

	places := c.schedule.Places
	base := basePrice.Round(places)

	platformFee := base.Mul(c.schedule.PlatformRate).Round(places)
	processorFee := base.Mul(c.schedule.ProcessorRate).Add(c.schedule.ProcessorFixedFee).Round(places)
	totalFees := platformFee.Add(processorFee)

	snap := types.FeeSnapshot{
		BasePrice:    base,
		PlatformFee:  platformFee,
		ProcessorFee: processorFee,
		FeeBearer:    bearer,
	}

	switch bearer {
	case types.FeeBearerBuyer:
		snap.AmountPaid = base.Add(totalFees)
		snap.OrganizerAmount = base
	case types.FeeBearerOrganizer:
		snap.AmountPaid = base
		snap.OrganizerAmount = base.Sub(totalFees)
	}

	return snap, nil
}

// ToMinorUnits converts an amount to integer minor units (cents) at the
// schedule's precision, as payment providers expect.
func (c *Calculator) ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(c.schedule.Places).Round(0).IntPart()
}

// FromMinorUnits converts integer minor units back to a decimal amount.
func (c *Calculator) FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -c.schedule.Places)
}
