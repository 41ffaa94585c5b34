package main

import (
	"context"
	"log"
	"time"
)

// State is a step of the poll loop.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateTransforming
	StateEmitting
	StateSleeping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateTransforming:
		return "transforming"
	case StateEmitting:
		return "emitting"
	case StateSleeping:
		return "sleeping"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

const (
	commodityElectricity = "electricity"
	commodityGas         = "gas"

	sourceElectricity    = "electricity_consumption"
	sourceStandingCharge = "electricity_standing_charge"
	sourceUnitRate       = "electricity_unit_rate"
	sourceGas            = "gas_consumption"
)

// MeterDataSource is where consumption readings and rate schedules come from.
type MeterDataSource interface {
	ElectricityConsumption(ctx context.Context, meter MeterInfo, pageSize int64) ([]ConsumptionReading, error)
	GasConsumption(ctx context.Context, meter MeterInfo, pageSize int64) ([]ConsumptionReading, error)
	RatePeriods(ctx context.Context, rawURL string) ([]RatePeriod, error)
}

// CommodityResult reports what happened to one commodity during a cycle.
type CommodityResult struct {
	Enabled      bool
	Fetched      bool
	Readings     int
	Observations int
	// Errors holds every fetch failure, including rate schedule failures that
	// only caused a fallback to the default rate.
	Errors []error
}

// CycleResult is the outcome of a single poll cycle.
type CycleResult struct {
	Electricity CommodityResult
	Gas         CommodityResult
	WriteErr    error
}

// Observations is the total number of observations handed to the sink.
func (r CycleResult) Observations() int {
	return r.Electricity.Observations + r.Gas.Observations
}

// Poller runs the fetch, transform, emit and sleep loop.
type Poller struct {
	Config  *Config
	Source  MeterDataSource
	Sink    Sink
	Metrics *Metrics

	// Sleep pauses between cycles. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// Now defaults to time.Now.
	Now func() time.Time

	state State
}

// State returns the step the poller is currently in.
func (p *Poller) State() State {
	return p.state
}

func (p *Poller) transition(s State) {
	p.state = s
}

// Run polls until the loop interval says to stop. A non-positive interval runs
// exactly one cycle. Cancelling ctx stops the loop between cycles only.
func (p *Poller) Run(ctx context.Context) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for {
		p.RunCycle(ctx)

		if p.Config.LoopInterval <= 0 {
			p.transition(StateTerminated)
			return nil
		}

		p.transition(StateSleeping)
		log.Printf("Sleeping for: %s", p.Config.LoopInterval)
		sleep(p.Config.LoopInterval)

		if err := ctx.Err(); err != nil {
			p.transition(StateTerminated)
			return err
		}
	}
}

type cycleData struct {
	electricity []ConsumptionReading
	standing    []RatePeriod
	unit        []RatePeriod
	gas         []ConsumptionReading
}

// RunCycle performs one fetch, transform and emit pass. Failures are logged and
// reported in the result; none of them escape the cycle.
func (p *Poller) RunCycle(ctx context.Context) CycleResult {
	var result CycleResult
	batch := p.Sink.NewBatch()

	p.transition(StateFetching)
	log.Println("Polling data from octopus API")
	data := p.fetch(ctx, &result)

	p.transition(StateTransforming)
	if result.Electricity.Fetched {
		for _, r := range data.electricity {
			batch.Add(priceElectricity(r, data.standing, data.unit,
				p.Config.Electricity.DefaultUnitPrice(), p.Config.Electricity.DefaultDailyStandingCharge()).Observation())
			result.Electricity.Observations++
		}
		p.Metrics.observed(commodityElectricity, result.Electricity.Observations)
	}
	if result.Gas.Fetched {
		for _, r := range data.gas {
			obs := gasObservations(r, p.Config.Gas.Constants)
			batch.Add(obs...)
			result.Gas.Observations += len(obs)
		}
		p.Metrics.observed(commodityGas, result.Gas.Observations)
	}

	p.transition(StateEmitting)
	if err := batch.Close(ctx); err != nil {
		result.WriteErr = err
		p.Metrics.writeFailed()
		log.Printf("Error submitting data to InfluxDB: %v", err)
	} else {
		log.Printf("Octopus API response submitted to InfluxDB successfully (%d points)", result.Observations())
	}

	p.Metrics.cycleDone(p.now())
	return result
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// fetch pulls every configured source in turn. Each source fails on its own.
func (p *Poller) fetch(ctx context.Context, result *CycleResult) cycleData {
	var data cycleData
	cfg := p.Config

	if e := cfg.Electricity; e != nil {
		result.Electricity.Enabled = true

		readings, err := p.Source.ElectricityConsumption(ctx, e.Meter, cfg.PageSize)
		if err != nil {
			p.fetchFailed(&result.Electricity, sourceElectricity, err)
		} else {
			data.electricity = readings
			result.Electricity.Fetched = true
			result.Electricity.Readings = len(readings)
			log.Printf("Fetched %d electricity readings", len(readings))

			// schedules are only worth fetching when there is something to price
			if e.StandingChargeURL != "" {
				data.standing, err = p.Source.RatePeriods(ctx, e.StandingChargeURL)
				if err != nil {
					p.fetchFailed(&result.Electricity, sourceStandingCharge, err)
				}
			}
			if e.UnitRateURL != "" {
				data.unit, err = p.Source.RatePeriods(ctx, e.UnitRateURL)
				if err != nil {
					p.fetchFailed(&result.Electricity, sourceUnitRate, err)
				}
			}
		}
	}

	if g := cfg.Gas; g != nil {
		result.Gas.Enabled = true

		readings, err := p.Source.GasConsumption(ctx, g.Meter, cfg.PageSize)
		if err != nil {
			p.fetchFailed(&result.Gas, sourceGas, err)
		} else {
			data.gas = readings
			result.Gas.Fetched = true
			result.Gas.Readings = len(readings)
			log.Printf("Fetched %d gas readings", len(readings))
		}
	}

	return data
}

func (p *Poller) fetchFailed(r *CommodityResult, source string, err error) {
	r.Errors = append(r.Errors, err)
	p.Metrics.fetchFailed(source)
	log.Printf("Error retrieving %s from octopus API: %v", source, err)
}
