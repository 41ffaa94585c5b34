package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-openapi/runtime"
	httptransport "github.com/go-openapi/runtime/client"
	"github.com/go-openapi/strfmt"
	octopus "github.com/mgazza/go-octopus-energy/client"
	"github.com/mgazza/go-octopus-energy/client/electricity_meter_points"
	"github.com/mgazza/go-octopus-energy/client/gas_meter_points"
	"github.com/mgazza/go-octopus-energy/models"
	"github.com/shopspring/decimal"
)

// OctopusService handles interactions with the Octopus Energy API.
type OctopusService struct {
	Client *octopus.OctopusEnergyRESTAPI

	rt   http.RoundTripper
	auth runtime.ClientAuthInfoWriter
}

// NewOctopusService creates a new OctopusService with pre-configured authentication.
func NewOctopusService(rt http.RoundTripper, apiKey string) *OctopusService {
	auth := httptransport.BasicAuth(apiKey, "")

	cfg := octopus.DefaultTransportConfig()
	transport := httptransport.New(cfg.Host, cfg.BasePath, cfg.Schemes)
	transport.Transport = rt
	transport.DefaultAuthentication = auth

	return &OctopusService{
		Client: octopus.New(transport, strfmt.Default),
		rt:     rt,
		auth:   auth,
	}
}

// ratePeriodRecord is the wire shape of a standing charge or unit rate result.
type ratePeriodRecord struct {
	ValidFrom     *strfmt.DateTime `json:"valid_from"`
	ValidTo       *strfmt.DateTime `json:"valid_to"`
	PaymentMethod string           `json:"payment_method"`
	ValueIncVat   decimal.Decimal  `json:"value_inc_vat"`
}

type ratePeriodPage struct {
	Next    *string            `json:"next"`
	Results []ratePeriodRecord `json:"results"`
}

// toReadings converts a consumption page, rejecting results without interval bounds.
func toReadings(page *models.PaginatedConsumptionList) ([]ConsumptionReading, error) {
	if page == nil {
		return nil, nil
	}

	readings := make([]ConsumptionReading, 0, len(page.Results))
	for i, r := range page.Results {
		if r.IntervalStart == nil || r.IntervalEnd == nil {
			return nil, fmt.Errorf("result %d is missing its interval bounds", i)
		}
		readings = append(readings, ConsumptionReading{
			IntervalStart: time.Time(*r.IntervalStart),
			IntervalEnd:   time.Time(*r.IntervalEnd),
			Consumption:   decimal.NewFromFloat(r.Consumption),
		})
	}
	return readings, nil
}

// ElectricityConsumption reads the latest page of half-hourly electricity consumption.
func (s *OctopusService) ElectricityConsumption(ctx context.Context, meter MeterInfo, pageSize int64) ([]ConsumptionReading, error) {
	params := electricity_meter_points.NewListConsumptionForAnElectricityMeterParams().
		WithContext(ctx).
		WithMpan(meter.Mpan).
		WithSerialNumber(meter.SerialNumber).
		WithPageSize(&pageSize)

	response, err := s.Client.ElectricityMeterPoints.ListConsumptionForAnElectricityMeter(params, nil)
	if err != nil {
		return nil, fmt.Errorf("error querying electricity consumption: %w", err)
	}
	if !response.IsSuccess() {
		return nil, fmt.Errorf("error querying electricity consumption: %v", response.Error())
	}

	readings, err := toReadings(response.Payload)
	if err != nil {
		return nil, fmt.Errorf("electricity consumption: %w", err)
	}
	return readings, nil
}

// GasConsumption reads the latest page of gas consumption, in the meter's volumetric unit.
func (s *OctopusService) GasConsumption(ctx context.Context, meter MeterInfo, pageSize int64) ([]ConsumptionReading, error) {
	params := gas_meter_points.NewListConsumptionForaGasMeterParams().
		WithContext(ctx).
		WithMprn(meter.Mpan).
		WithSerialNumber(meter.SerialNumber).
		WithPageSize(&pageSize)

	response, err := s.Client.GasMeterPoints.ListConsumptionForaGasMeter(params, nil)
	if err != nil {
		return nil, fmt.Errorf("error querying gas consumption: %w", err)
	}
	if !response.IsSuccess() {
		return nil, fmt.Errorf("error querying gas consumption: %v", response.Error())
	}

	readings, err := toReadings(response.Payload)
	if err != nil {
		return nil, fmt.Errorf("gas consumption: %w", err)
	}
	return readings, nil
}

// RatePeriods fetches a standing charge or unit rate schedule from a configured URL.
func (s *OctopusService) RatePeriods(ctx context.Context, rawURL string) ([]RatePeriod, error) {
	var page ratePeriodPage
	if err := s.listResults(ctx, "listRatePeriods", rawURL, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch rate periods: %w", err)
	}

	periods := make([]RatePeriod, 0, len(page.Results))
	for i, r := range page.Results {
		if r.ValidFrom == nil {
			return nil, fmt.Errorf("rate period %d is missing valid_from", i)
		}
		periods = append(periods, RatePeriod{
			ValidFrom:     time.Time(*r.ValidFrom),
			ValidTo:       (*time.Time)(r.ValidTo),
			PaymentMethod: r.PaymentMethod,
			ValueIncVat:   r.ValueIncVat,
		})
	}

	return periods, nil
}

// listResults issues a GET against rawURL, keeping its query string, and decodes
// the JSON body into out.
func (s *OctopusService) listResults(ctx context.Context, opID, rawURL string, out interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q: scheme and host are required", rawURL)
	}

	query := u.Query()

	transport := httptransport.New(u.Host, "/", []string{u.Scheme})
	transport.Transport = s.rt
	transport.DefaultAuthentication = s.auth

	_, err = transport.Submit(&runtime.ClientOperation{
		ID:                 opID,
		Method:             http.MethodGet,
		PathPattern:        u.Path,
		ProducesMediaTypes: []string{"application/json"},
		ConsumesMediaTypes: []string{"application/json"},
		Schemes:            []string{u.Scheme},
		Params: runtime.ClientRequestWriterFunc(func(r runtime.ClientRequest, _ strfmt.Registry) error {
			for k, v := range query {
				if err := r.SetQueryParam(k, v...); err != nil {
					return err
				}
			}
			return nil
		}),
		Reader: runtime.ClientResponseReaderFunc(func(response runtime.ClientResponse, consumer runtime.Consumer) (interface{}, error) {
			if response.Code()/100 != 2 {
				return nil, runtime.NewAPIError(opID, response.Message(), response.Code())
			}
			if err := consumer.Consume(response.Body(), out); err != nil {
				return nil, fmt.Errorf("decoding %s response: %w", opID, err)
			}
			return out, nil
		}),
		Context: ctx,
	})
	return err
}
