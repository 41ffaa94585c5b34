package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config contains configuration for the application.
type Config struct {
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	APIKey       string
	PageSize     int64
	LoopInterval time.Duration

	CacheDirectory string
	CacheTTL       time.Duration
	OutputCSV      string
	MetricsAddr    string

	// Electricity and Gas are nil when the commodity is not fully configured.
	Electricity *ElectricityConfig
	Gas         *GasConfig
}

type ElectricityConfig struct {
	Meter               MeterInfo
	UnitCostPence       decimal.Decimal
	StandingChargePence decimal.Decimal
	StandingChargeURL   string
	UnitRateURL         string
}

func (e *ElectricityConfig) DefaultUnitPrice() decimal.Decimal {
	return penceToPounds(e.UnitCostPence)
}

func (e *ElectricityConfig) DefaultDailyStandingCharge() decimal.Decimal {
	return penceToPounds(e.StandingChargePence)
}

type GasConfig struct {
	Meter     MeterInfo
	Constants GasConstants
}

type setting struct {
	env      string
	flag     string
	usage    string
	def      string
	required bool
	secret   bool
}

var settings = []setting{
	{env: "INFLUXDB_URL", flag: "influxURL", usage: "InfluxDB server URL", required: true},
	{env: "INFLUXDB_TOKEN", flag: "influxToken", usage: "InfluxDB API token", required: true, secret: true},
	{env: "INFLUXDB_ORG", flag: "influxOrg", usage: "InfluxDB organisation", required: true},
	{env: "INFLUXDB_BUCKET", flag: "influxBucket", usage: "InfluxDB bucket", required: true},
	{env: "OCTO_API_KEY", flag: "apikey", usage: "Octopus API key", required: true, secret: true},
	{env: "PAGE_SIZE", flag: "pageSize", usage: "Readings requested per poll", required: true},
	{env: "LOOP_TIME", flag: "loopTime", usage: "Seconds between polls, 0 or less to run once", required: true},

	{env: "OCTO_ELECTRIC_MPAN", flag: "electricMpan", usage: "Electricity meter MPAN"},
	{env: "OCTO_ELECTRIC_SN", flag: "electricSerial", usage: "Electricity meter serial number"},
	{env: "OCTO_ELECTRIC_COST", flag: "electricCost", usage: "Default electricity unit rate in pence"},
	{env: "OCTO_ELECTRIC_STANDING_CHARGE", flag: "electricStandingCharge", usage: "Default daily standing charge in pence"},
	{env: "OCTO_ELECTRIC_STANDING_CHARGE_URL", flag: "electricStandingChargeURL", usage: "Standing charge schedule URL (optional)"},
	{env: "OCTO_ELECTRIC_UNIT_RATE_URL", flag: "electricUnitRateURL", usage: "Unit rate schedule URL (optional)"},

	{env: "OCTO_GAS_MPRN", flag: "gasMprn", usage: "Gas meter MPRN"},
	{env: "OCTO_GAS_SN", flag: "gasSerial", usage: "Gas meter serial number"},
	{env: "OCTO_GAS_COST", flag: "gasCost", usage: "Gas unit rate in pence per kWh"},
	{env: "VOLUME_CORRECTION", flag: "volumeCorrection", usage: "Gas volume correction factor"},
	{env: "CALORIFIC_VALUE", flag: "calorificValue", usage: "Gas calorific value"},
	{env: "JOULES_CONVERSION", flag: "joulesConversion", usage: "Joules to kWh conversion factor"},

	{env: "CACHE_DIR", flag: "cache", usage: "Directory for HTTP cache ('disable' to disable, empty for temporary directory)", def: "disable"},
	{env: "CACHE_TTL", flag: "cacheTTL", usage: "How long cached API responses are reused, required when the cache is enabled", def: "0"},
	{env: "OUTPUT_CSV", flag: "out", usage: "Also append observations to this CSV file (optional)"},
	{env: "METRICS_ADDR", flag: "metricsAddr", usage: "Address to serve Prometheus metrics on (optional)"},
}

// loadConfig resolves every setting from, in order of precedence, the command
// line, the environment and the YAML file named by -config or CONFIG_FILE.
func loadConfig(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	fs := flag.NewFlagSet("octopus-metrics", flag.ContinueOnError)
	flags := make(map[string]*string, len(settings))
	for _, s := range settings {
		flags[s.env] = fs.String(s.flag, "", fmt.Sprintf("%s ($%s)", s.usage, s.env))
	}
	configFile := fs.String("config", "", "YAML file of settings ($CONFIG_FILE)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	given := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })

	file := *configFile
	if file == "" {
		file, _ = lookupEnv("CONFIG_FILE")
	}
	fileValues := map[string]string{}
	if file != "" {
		var err error
		if fileValues, err = readConfigFile(file); err != nil {
			return nil, err
		}
	}

	values := make(map[string]string, len(settings))
	var missing []string
	for _, s := range settings {
		v, ok := *flags[s.env], given[s.flag]
		if !ok {
			v, ok = lookupEnv(s.env)
		}
		if !ok {
			v, ok = fileValues[s.env]
		}
		if !ok {
			v = s.def
		}
		v = strings.TrimSpace(v)
		if s.required && v == "" {
			missing = append(missing, s.env)
		}
		values[s.env] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required settings missing: %s", strings.Join(missing, ", "))
	}

	return buildConfig(values)
}

// readConfigFile reads a flat YAML mapping of setting name to value.
func readConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

func buildConfig(v map[string]string) (*Config, error) {
	var errs []error

	pageSize, err := strconv.ParseInt(v["PAGE_SIZE"], 10, 64)
	if err != nil || pageSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be a positive integer, got %q", v["PAGE_SIZE"]))
	}

	loopSeconds, err := strconv.ParseFloat(v["LOOP_TIME"], 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("LOOP_TIME must be a number of seconds, got %q", v["LOOP_TIME"]))
	}

	cacheTTL, err := time.ParseDuration(v["CACHE_TTL"])
	if err != nil {
		errs = append(errs, fmt.Errorf("CACHE_TTL: %w", err))
	} else if v["CACHE_DIR"] != "disable" && cacheTTL <= 0 {
		// entries that never expire would replay the first poll forever
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive when CACHE_DIR is set, got %q", v["CACHE_TTL"]))
	}

	parseDecimal := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(v[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s must be a number, got %q", key, v[key]))
		}
		return d
	}

	cfg := &Config{
		InfluxURL:      v["INFLUXDB_URL"],
		InfluxToken:    v["INFLUXDB_TOKEN"],
		InfluxOrg:      v["INFLUXDB_ORG"],
		InfluxBucket:   v["INFLUXDB_BUCKET"],
		APIKey:         v["OCTO_API_KEY"],
		PageSize:       pageSize,
		LoopInterval:   time.Duration(loopSeconds * float64(time.Second)),
		CacheDirectory: v["CACHE_DIR"],
		CacheTTL:       cacheTTL,
		OutputCSV:      v["OUTPUT_CSV"],
		MetricsAddr:    v["METRICS_ADDR"],
	}

	if allSet(v, "OCTO_ELECTRIC_MPAN", "OCTO_ELECTRIC_SN", "OCTO_ELECTRIC_COST", "OCTO_ELECTRIC_STANDING_CHARGE") {
		cfg.Electricity = &ElectricityConfig{
			Meter:               MeterInfo{Mpan: v["OCTO_ELECTRIC_MPAN"], SerialNumber: v["OCTO_ELECTRIC_SN"]},
			UnitCostPence:       parseDecimal("OCTO_ELECTRIC_COST"),
			StandingChargePence: parseDecimal("OCTO_ELECTRIC_STANDING_CHARGE"),
			StandingChargeURL:   v["OCTO_ELECTRIC_STANDING_CHARGE_URL"],
			UnitRateURL:         v["OCTO_ELECTRIC_UNIT_RATE_URL"],
		}
	}

	if allSet(v, "OCTO_GAS_MPRN", "OCTO_GAS_SN", "OCTO_GAS_COST", "VOLUME_CORRECTION", "CALORIFIC_VALUE", "JOULES_CONVERSION") {
		cfg.Gas = &GasConfig{
			Meter:     MeterInfo{Mpan: v["OCTO_GAS_MPRN"], SerialNumber: v["OCTO_GAS_SN"]}, // Mpan holds the MPRN
			Constants: GasConstants{
				VolumeCorrection: parseDecimal("VOLUME_CORRECTION"),
				CalorificValue:   parseDecimal("CALORIFIC_VALUE"),
				JoulesConversion: parseDecimal("JOULES_CONVERSION"),
				UnitCostPence:    parseDecimal("OCTO_GAS_COST"),
			},
		}
		if cfg.Gas.Constants.JoulesConversion.IsZero() {
			// a parse failure has already been reported
			if _, err := decimal.NewFromString(v["JOULES_CONVERSION"]); err == nil {
				errs = append(errs, errors.New("JOULES_CONVERSION must not be zero"))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func allSet(v map[string]string, keys ...string) bool {
	for _, k := range keys {
		if v[k] == "" {
			return false
		}
	}
	return true
}
