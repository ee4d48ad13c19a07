package tools

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/trailtag/trailtag/pkg/config"
	"github.com/trailtag/trailtag/pkg/metrics"
)

const geocodeAPIBase = "https://maps.googleapis.com/maps/api/geocode/json"

// Geocoder resolves place names to WGS84 coordinates through the Google
// Geocoding API. Requests pass a token bucket before they leave the process;
// construct one Geocoder per process so the bucket actually bounds the
// outbound rate.
type Geocoder struct {
	client  *resty.Client
	limiter *rate.Limiter
	cfg     *config.GeocodeConfig
	apiBase string
	logger  *slog.Logger
}

// NewGeocoder builds a geocoder from the given config.
func NewGeocoder(cfg *config.GeocodeConfig) *Geocoder {
	if cfg == nil {
		panic("NewGeocoder: cfg must not be nil")
	}
	return &Geocoder{
		client:  resty.New().SetTimeout(cfg.Timeout.Duration),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		cfg:     cfg,
		apiBase: geocodeAPIBase,
		logger:  slog.Default().With("component", "geocoder"),
	}
}

// geocodeResponse is the Geocoding API shape, reduced to the fields used.
type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves "{place}, {city}, {country}" to [lon, lat], matching the
// RouteItem coordinate order. Every failure returns nil without retrying;
// the pipeline tolerates routes without coordinates.
func (g *Geocoder) Geocode(ctx context.Context, country, city, place string) []float64 {
	if !g.limiter.Allow() {
		g.logger.Warn("Geocoding request dropped by rate limiter", "place", place)
		metrics.RecordGeocodeRequest("rate_limited")
		return nil
	}

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		g.logger.Error("GOOGLE_API_KEY is not set, geocoding disabled")
		metrics.RecordGeocodeRequest("error")
		return nil
	}

	address := place + ", " + city + ", " + country
	var out geocodeResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"address":  address,
			"key":      apiKey,
			"language": g.cfg.Language,
		}).
		SetResult(&out).
		Get(g.apiBase)
	if err != nil {
		g.logger.Error("Geocoding request failed", "address", address, "error", err)
		metrics.RecordGeocodeRequest("error")
		return nil
	}
	if resp.IsError() {
		g.logger.Error("Geocoding returned HTTP error", "address", address, "status", resp.StatusCode())
		metrics.RecordGeocodeRequest("error")
		return nil
	}

	switch out.Status {
	case "OK":
		if len(out.Results) == 0 {
			g.logger.Warn("Geocoding OK with no results", "address", address)
			metrics.RecordGeocodeRequest("zero_results")
			return nil
		}
		loc := out.Results[0].Geometry.Location
		g.logger.Info("Geocoding resolved", "address", address, "lat", loc.Lat, "lng", loc.Lng)
		metrics.RecordGeocodeRequest("ok")
		return []float64{loc.Lng, loc.Lat}
	case "ZERO_RESULTS":
		g.logger.Warn("Geocoding found no match", "address", address)
		metrics.RecordGeocodeRequest("zero_results")
		return nil
	case "REQUEST_DENIED":
		g.logger.Warn("Geocoding request denied", "address", address, "message", out.ErrorMessage)
		metrics.RecordGeocodeRequest("denied")
		return nil
	default:
		g.logger.Warn("Geocoding failed", "address", address, "api_status", out.Status, "message", out.ErrorMessage)
		metrics.RecordGeocodeRequest("error")
		return nil
	}
}
