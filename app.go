// app.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// App manages application dependencies and logic.
type App struct {
	Config  *Config
	Octopus *OctopusService
	Influx  *InfluxSink
	Poller  *Poller
}

func NewApp(config *Config) (*App, error) {
	rt := http.DefaultTransport

	if config.CacheDirectory != "disable" {
		cacheDir := config.CacheDirectory
		if cacheDir == "" {
			cacheDir = os.TempDir()
		}
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}

		rt = &CachingRoundTripper{
			UnderlyingTransport: http.DefaultTransport,
			CacheDir:            path.Clean(cacheDir),
			TTL:                 config.CacheTTL,
		}

		log.Printf("HTTP caching enabled in directory: %s (ttl %s)", cacheDir, config.CacheTTL)
	} else {
		log.Println("HTTP caching disabled")
	}

	octopusService := NewOctopusService(rt, config.APIKey)
	influx := NewInfluxSink(config.InfluxURL, config.InfluxToken, config.InfluxOrg, config.InfluxBucket,
		map[string]string{"app": defaultAppTag})

	var sink Sink = influx
	if config.OutputCSV != "" {
		sink = multiSink{influx, &CSVSink{Filename: config.OutputCSV}}
		log.Printf("Mirroring observations to CSV %s", config.OutputCSV)
	}

	var metrics *Metrics
	if config.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = NewMetrics(reg)
		serveMetrics(config.MetricsAddr, reg)
	}

	return &App{
		Config:  config,
		Octopus: octopusService,
		Influx:  influx,
		Poller: &Poller{
			Config:  config,
			Source:  octopusService,
			Sink:    sink,
			Metrics: metrics,
		},
	}, nil
}

func (app *App) Run(ctx context.Context) error {
	defer app.Influx.Close()

	log.Println("Starting Octopus Energy Consumption Metrics")
	logSettings(app.Config)

	return app.Poller.Run(ctx)
}

func logSettings(c *Config) {
	log.Println("Current Settings are:")
	log.Printf("  INFLUXDB_URL = %s", c.InfluxURL)
	log.Printf("  INFLUXDB_ORG = %s", c.InfluxOrg)
	log.Printf("  INFLUXDB_BUCKET = %s", c.InfluxBucket)
	log.Printf("  INFLUXDB_TOKEN = %s", mask(c.InfluxToken))
	log.Printf("  OCTO_API_KEY = %s", mask(c.APIKey))
	log.Printf("  PAGE_SIZE = %d", c.PageSize)
	log.Printf("  LOOP_TIME = %s", c.LoopInterval)

	if e := c.Electricity; e != nil {
		log.Printf("  OCTO_ELECTRIC_MPAN = %s", e.Meter.Mpan)
		log.Printf("  OCTO_ELECTRIC_SN = %s", e.Meter.SerialNumber)
		log.Printf("  OCTO_ELECTRIC_COST = %s", e.UnitCostPence)
		log.Printf("  OCTO_ELECTRIC_STANDING_CHARGE = %s", e.StandingChargePence)
		if e.StandingChargeURL != "" {
			log.Printf("  OCTO_ELECTRIC_STANDING_CHARGE_URL = %s", e.StandingChargeURL)
		}
		if e.UnitRateURL != "" {
			log.Printf("  OCTO_ELECTRIC_UNIT_RATE_URL = %s", e.UnitRateURL)
		}
	} else {
		log.Println("Skipping processing electric, must set all variables: OCTO_ELECTRIC_MPAN, OCTO_ELECTRIC_SN, OCTO_ELECTRIC_COST, OCTO_ELECTRIC_STANDING_CHARGE")
	}

	if g := c.Gas; g != nil {
		log.Printf("  OCTO_GAS_MPRN = %s", g.Meter.Mpan)
		log.Printf("  OCTO_GAS_SN = %s", g.Meter.SerialNumber)
		log.Printf("  OCTO_GAS_COST = %s", g.Constants.UnitCostPence)
		log.Printf("  VOLUME_CORRECTION = %s", g.Constants.VolumeCorrection)
		log.Printf("  CALORIFIC_VALUE = %s", g.Constants.CalorificValue)
		log.Printf("  JOULES_CONVERSION = %s", g.Constants.JoulesConversion)
	} else {
		log.Println("Skipping processing gas, must set all variables: OCTO_GAS_SN, OCTO_GAS_MPRN, OCTO_GAS_COST, VOLUME_CORRECTION, CALORIFIC_VALUE, JOULES_CONVERSION")
	}
}

// mask hides all but the last four characters of a secret.
func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
