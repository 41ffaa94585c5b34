package main

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethodDirectDebit is the only payment method honoured when matching rates.
const PaymentMethodDirectDebit = "DIRECT_DEBIT"

// ConsumptionReading is one metered interval as reported by the Octopus API.
type ConsumptionReading struct {
	IntervalStart time.Time
	IntervalEnd   time.Time
	Consumption   decimal.Decimal
}

// RatePeriod is one tariff segment. A nil ValidTo means the period is open-ended.
type RatePeriod struct {
	ValidFrom     time.Time
	ValidTo       *time.Time
	PaymentMethod string
	ValueIncVat   decimal.Decimal
}

// PricedObservation is a single measurement bound for the time-series store.
type PricedObservation struct {
	Measurement string
	Fields      map[string]float64
	Time        time.Time
}

// MeterInfo identifies a meter on the Octopus API.
type MeterInfo struct {
	SerialNumber string
	Mpan         string // used for both mpan/mprn
}
