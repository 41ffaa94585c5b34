package main

import (
	"time"

	"github.com/shopspring/decimal"
)

const minutesPerDay = 60 * 24

// openEndedValidTo stands in for a missing valid_to.
var openEndedValidTo = time.Date(2999, 12, 31, 0, 0, 0, 0, time.UTC)

// resolveRate returns the value of the first direct debit period containing t.
// Overlapping periods are not ranked; list order decides.
func resolveRate(periods []RatePeriod, t time.Time) (decimal.Decimal, bool) {
	for _, p := range periods {
		if p.PaymentMethod != PaymentMethodDirectDebit {
			continue
		}

		validTo := openEndedValidTo
		if p.ValidTo != nil {
			validTo = *p.ValidTo
		}

		if !t.Before(p.ValidFrom) && t.Before(validTo) {
			return p.ValueIncVat, true
		}
	}
	return decimal.Zero, false
}

// resolveRateOr is resolveRate with a fallback for when nothing matches.
func resolveRateOr(periods []RatePeriod, t time.Time, def decimal.Decimal) decimal.Decimal {
	if v, ok := resolveRate(periods, t); ok {
		return v
	}
	return def
}

// prorateStandingCharge apportions a daily charge to the interval between start and end.
// Partial minutes are always rounded up.
func prorateStandingCharge(daily decimal.Decimal, start, end time.Time) decimal.Decimal {
	d := end.Sub(start)
	if d < 0 {
		d = -d
	}

	minutes := int64(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}

	return daily.Mul(decimal.NewFromInt(minutes)).Div(decimal.NewFromInt(minutesPerDay))
}
