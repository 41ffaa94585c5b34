package main

import (
	"github.com/shopspring/decimal"
)

const (
	measurementElectricity = "electricity"
	measurementGas         = "gas"
	measurementGasKWh      = "gaskwh"
	measurementGasCost     = "gas_cost"
)

var hundred = decimal.NewFromInt(100)

// penceToPounds converts a minor currency amount to major units.
func penceToPounds(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// GasConstants holds the physical constants and the fixed unit rate used to cost gas.
type GasConstants struct {
	VolumeCorrection decimal.Decimal
	CalorificValue   decimal.Decimal
	JoulesConversion decimal.Decimal
	UnitCostPence    decimal.Decimal
}

// GasUsage is a volumetric reading converted into energy and cost.
type GasUsage struct {
	EnergyKWh decimal.Decimal
	Cost      decimal.Decimal
}

// convertGas turns a raw gas volume into kWh and then into a cost in pounds.
func convertGas(volume decimal.Decimal, c GasConstants) GasUsage {
	kwh := volume.Mul(c.VolumeCorrection).Mul(c.CalorificValue).Div(c.JoulesConversion)
	return GasUsage{
		EnergyKWh: kwh,
		Cost:      kwh.Mul(c.UnitCostPence).Div(hundred),
	}
}

// gasObservations returns the consumption, energy and cost points for one gas reading.
func gasObservations(r ConsumptionReading, c GasConstants) []PricedObservation {
	usage := convertGas(r.Consumption, c)
	return []PricedObservation{
		{
			Measurement: measurementGas,
			Fields:      map[string]float64{"consumption": r.Consumption.InexactFloat64()},
			Time:        r.IntervalEnd,
		},
		{
			Measurement: measurementGasKWh,
			Fields:      map[string]float64{"consumption_kwh": usage.EnergyKWh.InexactFloat64()},
			Time:        r.IntervalEnd,
		},
		{
			Measurement: measurementGasCost,
			Fields:      map[string]float64{"price": usage.Cost.InexactFloat64()},
			Time:        r.IntervalEnd,
		},
	}
}

// ElectricityPrice is a reading priced against the tariff in force at its interval end.
type ElectricityPrice struct {
	Reading             ConsumptionReading
	DailyStandingCharge decimal.Decimal
	UnitPrice           decimal.Decimal
	StandingCharge      decimal.Decimal
	UsagePrice          decimal.Decimal
	TotalPrice          decimal.Decimal
}

// priceElectricity prices one reading. Rates are looked up at the interval end and
// fall back to the defaults, which are already in pounds.
func priceElectricity(r ConsumptionReading, standing, unit []RatePeriod, defaultUnitPrice, defaultDailyStandingCharge decimal.Decimal) ElectricityPrice {
	daily := resolveRateOr(standing, r.IntervalEnd, defaultDailyStandingCharge)
	unitPrice := resolveRateOr(unit, r.IntervalEnd, defaultUnitPrice)

	standingCharge := prorateStandingCharge(daily, r.IntervalStart, r.IntervalEnd)
	usage := r.Consumption.Mul(unitPrice)

	return ElectricityPrice{
		Reading:             r,
		DailyStandingCharge: daily,
		UnitPrice:           unitPrice,
		StandingCharge:      standingCharge,
		UsagePrice:          usage,
		TotalPrice:          usage.Add(standingCharge),
	}
}

// Observation converts the price into an electricity point. The emitted total
// is the sum of the emitted usage and standing charge values.
func (p ElectricityPrice) Observation() PricedObservation {
	usage := p.UsagePrice.InexactFloat64()
	standing := p.StandingCharge.InexactFloat64()

	return PricedObservation{
		Measurement: measurementElectricity,
		Fields: map[string]float64{
			"consumption":           p.Reading.Consumption.InexactFloat64(),
			"daily_standing_charge": p.DailyStandingCharge.InexactFloat64(),
			"usageprice":            usage,
			"standing_change":       standing,
			"unitprice":             p.UnitPrice.InexactFloat64(),
			"totalprice":            usage + standing,
		},
		Time: p.Reading.IntervalEnd,
	}
}
