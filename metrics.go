package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "octopus_metrics_"

// Metrics tracks poll cycle outcomes. A nil *Metrics records nothing.
type Metrics struct {
	cycles       prometheus.Counter
	fetchErrors  *prometheus.CounterVec
	observations *prometheus.CounterVec
	writeErrors  prometheus.Counter
	lastCycle    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "poll_cycles_total",
			Help: "Total poll cycles run",
		}),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_errors_total",
				Help: "Total failed fetches from the Octopus API by source",
			},
			[]string{"source"},
		),
		observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "observations_total",
				Help: "Total observations handed to the sink by commodity",
			},
			[]string{"commodity"},
		),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "write_errors_total",
			Help: "Total failed batch writes to the sink",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_cycle_timestamp_seconds",
			Help: "Unix time the last poll cycle finished",
		}),
	}
	reg.MustRegister(m.cycles, m.fetchErrors, m.observations, m.writeErrors, m.lastCycle)
	return m
}

func (m *Metrics) fetchFailed(source string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) observed(commodity string, n int) {
	if m == nil {
		return
	}
	m.observations.WithLabelValues(commodity).Add(float64(n))
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

func (m *Metrics) cycleDone(at time.Time) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.lastCycle.Set(float64(at.Unix()))
}

// serveMetrics exposes gatherer on addr until the process exits.
func serveMetrics(addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
}
