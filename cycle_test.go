package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	electricity    func() ([]ConsumptionReading, error)
	gas            func() ([]ConsumptionReading, error)
	rates          map[string][]RatePeriod
	rateErrs       map[string]error
	calls          []string
	gotPageSize    int64
	gotElectricity MeterInfo
	gotGas         MeterInfo
}

func (f *fakeSource) ElectricityConsumption(_ context.Context, meter MeterInfo, pageSize int64) ([]ConsumptionReading, error) {
	f.calls = append(f.calls, "electricity")
	f.gotElectricity = meter
	f.gotPageSize = pageSize
	return f.electricity()
}

func (f *fakeSource) GasConsumption(_ context.Context, meter MeterInfo, pageSize int64) ([]ConsumptionReading, error) {
	f.calls = append(f.calls, "gas")
	f.gotGas = meter
	return f.gas()
}

func (f *fakeSource) RatePeriods(_ context.Context, rawURL string) ([]RatePeriod, error) {
	f.calls = append(f.calls, rawURL)
	if err := f.rateErrs[rawURL]; err != nil {
		return nil, err
	}
	return f.rates[rawURL], nil
}

type recordingSink struct {
	batches  []*recordingBatch
	closeErr error
}

func (s *recordingSink) NewBatch() Batch {
	b := &recordingBatch{err: s.closeErr}
	s.batches = append(s.batches, b)
	return b
}

type recordingBatch struct {
	obs    []PricedObservation
	closed int
	err    error
}

func (b *recordingBatch) Add(obs ...PricedObservation) { b.obs = append(b.obs, obs...) }

func (b *recordingBatch) Close(context.Context) error {
	b.closed++
	return b.err
}

var t0 = time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)

func halfHour(consumption string) []ConsumptionReading {
	return []ConsumptionReading{{IntervalStart: t0, IntervalEnd: t0.Add(30 * time.Minute), Consumption: dec(consumption)}}
}

func testConfig() *Config {
	return &Config{
		PageSize: 48,
		Electricity: &ElectricityConfig{
			Meter:               MeterInfo{Mpan: "1200000000000", SerialNumber: "21L000000"},
			UnitCostPence:       dec("15"),
			StandingChargePence: dec("45"),
		},
		Gas: &GasConfig{
			Meter:     MeterInfo{Mpan: "9100000000", SerialNumber: "E6S000000"},
			Constants: testGasConstants,
		},
	}
}

func okSource() *fakeSource {
	return &fakeSource{
		electricity: func() ([]ConsumptionReading, error) { return halfHour("0.5"), nil },
		gas:         func() ([]ConsumptionReading, error) { return halfHour("10"), nil },
	}
}

func TestRunCycleElectricityDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Gas = nil
	src := okSource()
	sink := &recordingSink{}
	p := &Poller{Config: cfg, Source: src, Sink: sink}

	result := p.RunCycle(context.Background())

	require.True(t, result.Electricity.Enabled)
	require.True(t, result.Electricity.Fetched)
	require.False(t, result.Gas.Enabled)
	require.Equal(t, []string{"electricity"}, src.calls, "no schedules are configured")
	require.Equal(t, int64(48), src.gotPageSize)
	require.Equal(t, cfg.Electricity.Meter, src.gotElectricity)

	require.Len(t, sink.batches, 1)
	b := sink.batches[0]
	require.Equal(t, 1, b.closed)
	require.Equal(t, []PricedObservation{{
		Measurement: "electricity",
		Fields: map[string]float64{
			"consumption":           0.5,
			"daily_standing_charge": 0.45,
			"unitprice":             0.15,
			"standing_change":       0.009375,
			"usageprice":            0.075,
			"totalprice":            floatSum(0.075, 0.009375),
		},
		Time: t0.Add(30 * time.Minute),
	}}, b.obs)
	require.Equal(t, StateEmitting, p.State())
}

func TestRunCycleUsesSchedules(t *testing.T) {
	cfg := testConfig()
	cfg.Gas = nil
	cfg.Electricity.StandingChargeURL = "https://example.test/standing-charges/"
	cfg.Electricity.UnitRateURL = "https://example.test/standard-unit-rates/"

	src := okSource()
	src.rates = map[string][]RatePeriod{
		cfg.Electricity.StandingChargeURL: {{ValueIncVat: dec("0.60"), PaymentMethod: PaymentMethodDirectDebit, ValidFrom: day(2024, 1, 1)}},
		cfg.Electricity.UnitRateURL:       {{ValueIncVat: dec("0.30"), PaymentMethod: PaymentMethodDirectDebit, ValidFrom: day(2024, 1, 1)}},
	}
	sink := &recordingSink{}
	p := &Poller{Config: cfg, Source: src, Sink: sink}

	result := p.RunCycle(context.Background())
	require.Empty(t, result.Electricity.Errors)
	require.Equal(t, []string{"electricity", cfg.Electricity.StandingChargeURL, cfg.Electricity.UnitRateURL}, src.calls)

	fields := sink.batches[0].obs[0].Fields
	require.Equal(t, 0.60, fields["daily_standing_charge"])
	require.Equal(t, 0.30, fields["unitprice"])
	require.Equal(t, 0.15, fields["usageprice"])
	require.Equal(t, 0.0125, fields["standing_change"])
}

func TestRunCycleScheduleFailureFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Gas = nil
	cfg.Electricity.UnitRateURL = "https://example.test/standard-unit-rates/"

	src := okSource()
	src.rateErrs = map[string]error{cfg.Electricity.UnitRateURL: errors.New("503")}
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()
	p := &Poller{Config: cfg, Source: src, Sink: sink, Metrics: NewMetrics(reg)}

	result := p.RunCycle(context.Background())
	require.True(t, result.Electricity.Fetched)
	require.Len(t, result.Electricity.Errors, 1)
	require.Equal(t, 1, result.Electricity.Observations)
	require.Equal(t, 0.15, sink.batches[0].obs[0].Fields["unitprice"], "default unit price is used")
	require.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.fetchErrors.WithLabelValues(sourceUnitRate)))
}

func TestRunCycleGasFailureKeepsElectricity(t *testing.T) {
	src := okSource()
	src.gas = func() ([]ConsumptionReading, error) { return nil, errors.New("connection reset") }
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()
	p := &Poller{Config: testConfig(), Source: src, Sink: sink, Metrics: NewMetrics(reg)}

	result := p.RunCycle(context.Background())

	require.True(t, result.Electricity.Fetched)
	require.Equal(t, 1, result.Electricity.Observations)
	require.True(t, result.Gas.Enabled)
	require.False(t, result.Gas.Fetched)
	require.Equal(t, 0, result.Gas.Observations)
	require.Len(t, result.Gas.Errors, 1)
	require.NoError(t, result.WriteErr)

	require.Len(t, sink.batches[0].obs, 1)
	require.Equal(t, "electricity", sink.batches[0].obs[0].Measurement)
	require.Equal(t, 1, sink.batches[0].closed)

	require.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.fetchErrors.WithLabelValues(sourceGas)))
	require.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.observations.WithLabelValues(commodityElectricity)))
	require.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.cycles))
}

func TestRunCycleElectricityFailureKeepsGas(t *testing.T) {
	cfg := testConfig()
	cfg.Electricity.StandingChargeURL = "https://example.test/standing-charges/"
	src := okSource()
	src.electricity = func() ([]ConsumptionReading, error) { return nil, errors.New("401") }
	sink := &recordingSink{}
	p := &Poller{Config: cfg, Source: src, Sink: sink}

	result := p.RunCycle(context.Background())

	require.False(t, result.Electricity.Fetched)
	require.Equal(t, []string{"electricity", "gas"}, src.calls, "schedules are skipped without readings")
	require.True(t, result.Gas.Fetched)
	require.Equal(t, 3, result.Gas.Observations)
	require.Equal(t, cfg.Gas.Meter, src.gotGas)

	obs := sink.batches[0].obs
	require.Len(t, obs, 3)
	require.Equal(t, "gas", obs[0].Measurement)
	require.Equal(t, "gaskwh", obs[1].Measurement)
	require.Equal(t, "gas_cost", obs[2].Measurement)
}

func TestRunCycleWriteFailure(t *testing.T) {
	sink := &recordingSink{closeErr: errors.New("influx unavailable")}
	reg := prometheus.NewRegistry()
	p := &Poller{Config: testConfig(), Source: okSource(), Sink: sink, Metrics: NewMetrics(reg)}

	result := p.RunCycle(context.Background())
	require.Error(t, result.WriteErr)
	require.Equal(t, 4, result.Observations())
	require.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.writeErrors))
}

func TestRunCycleNothingEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Electricity = nil
	cfg.Gas = nil
	src := okSource()
	sink := &recordingSink{}
	p := &Poller{Config: cfg, Source: src, Sink: sink}

	result := p.RunCycle(context.Background())
	require.Empty(t, src.calls)
	require.Equal(t, 0, result.Observations())
	require.Equal(t, 1, sink.batches[0].closed, "the batch is always closed")
}

func TestRunSingleCycle(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		cfg := testConfig()
		cfg.LoopInterval = interval
		sink := &recordingSink{}
		sleeps := 0
		p := &Poller{Config: cfg, Source: okSource(), Sink: sink, Sleep: func(time.Duration) { sleeps++ }}

		require.NoError(t, p.Run(context.Background()))
		require.Len(t, sink.batches, 1, "exactly one cycle for interval %s", interval)
		require.Equal(t, 0, sleeps)
		require.Equal(t, StateTerminated, p.State())
	}
}

func TestRunRepeats(t *testing.T) {
	cfg := testConfig()
	cfg.LoopInterval = 5 * time.Minute
	sink := &recordingSink{closeErr: errors.New("flaky")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var slept []time.Duration
	var p *Poller
	p = &Poller{Config: cfg, Source: okSource(), Sink: sink, Sleep: func(d time.Duration) {
		require.Equal(t, StateSleeping, p.State())
		slept = append(slept, d)
		if len(slept) == 3 {
			cancel()
		}
	}}

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, sink.batches, 3, "write failures do not stop the loop")
	require.Equal(t, []time.Duration{5 * time.Minute, 5 * time.Minute, 5 * time.Minute}, slept)
	for _, b := range sink.batches {
		require.Equal(t, 1, b.closed, "every batch is closed before sleeping")
	}
	require.Equal(t, StateTerminated, p.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "fetching", StateFetching.String())
	require.Equal(t, "terminated", StateTerminated.String())
	require.Equal(t, "unknown", State(99).String())
	require.Equal(t, StateIdle, (&Poller{}).State())
}
