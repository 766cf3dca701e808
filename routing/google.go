// Package routing implements castrilha.Router over hosted routing services.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/castrilha/castrilha"
)

// DefaultGoogleURL is the Directions API endpoint.
const DefaultGoogleURL = "https://maps.googleapis.com/maps/api/directions/json"

const defaultTimeout = 15 * time.Second

// Google requests routes from the Google Directions API.
type Google struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a routing client.
type Option func(*options)

type options struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// WithBaseURL overrides the service endpoint.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(defaultURL string, opts []Option) options {
	o := options{
		baseURL: defaultURL,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewGoogle creates a Directions client.
func NewGoogle(apiKey string, opts ...Option) *Google {
	o := buildOptions(DefaultGoogleURL, opts)
	return &Google{
		apiKey:  apiKey,
		baseURL: o.baseURL,
		client:  o.client,
		logger:  o.logger,
	}
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p googleLatLng) latLng() castrilha.LatLng {
	return castrilha.LatLng{Lat: p.Lat, Lng: p.Lng}
}

type googleText struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
}

type googleStep struct {
	HTMLInstructions string       `json:"html_instructions"`
	Distance         googleText   `json:"distance"`
	Duration         googleText   `json:"duration"`
	StartLocation    googleLatLng `json:"start_location"`
	EndLocation      googleLatLng `json:"end_location"`
	Maneuver         string       `json:"maneuver"`
}

type googleLeg struct {
	StartAddress string       `json:"start_address"`
	EndAddress   string       `json:"end_address"`
	Distance     googleText   `json:"distance"`
	Duration     googleText   `json:"duration"`
	Steps        []googleStep `json:"steps"`
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		Legs []googleLeg `json:"legs"`
	} `json:"routes"`
}

// Route requests a route and converts the first result.
func (g *Google) Route(ctx context.Context, req castrilha.RouteRequest) (*castrilha.Route, error) {
	req = req.WithDefaults()
	if req.Origin.IsZero() || req.Destination.IsZero() {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureRejected, errors.New("origin and destination are required"))
	}

	q := url.Values{}
	q.Set("origin", req.Origin.String())
	q.Set("destination", req.Destination.String())
	q.Set("mode", string(req.TravelMode))
	q.Set("language", req.Language)
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureRejected, err)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureNetwork, err)
	}
	defer resp.Body.Close()

	if err := httpFailure(resp); err != nil {
		return nil, err
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureNetwork, fmt.Errorf("decode directions: %w", err))
	}

	if err := googleStatus(body.Status, body.ErrorMessage); err != nil {
		return nil, err
	}
	if len(body.Routes) == 0 || len(body.Routes[0].Legs) == 0 {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureNotFound, errors.New("no routes returned"))
	}

	legs := body.Routes[0].Legs
	route := &castrilha.Route{
		Origin:      legs[0].StartAddress,
		Destination: legs[len(legs)-1].EndAddress,
		Legs:        make([]castrilha.Leg, 0, len(legs)),
	}
	for _, l := range legs {
		leg := castrilha.Leg{
			StartAddress: l.StartAddress,
			EndAddress:   l.EndAddress,
			DistanceText: l.Distance.Text,
			DurationText: l.Duration.Text,
			Steps:        make([]castrilha.Step, 0, len(l.Steps)),
		}
		for _, s := range l.Steps {
			leg.Steps = append(leg.Steps, castrilha.Step{
				Instruction:  s.HTMLInstructions,
				DistanceText: s.Distance.Text,
				DurationText: s.Duration.Text,
				Maneuver:     s.Maneuver,
				Start:        s.StartLocation.latLng(),
				End:          s.EndLocation.latLng(),
			})
		}
		route.Legs = append(route.Legs, leg)
	}
	if route.Origin == "" {
		route.Origin = req.Origin.String()
	}
	if route.Destination == "" {
		route.Destination = req.Destination.String()
	}

	g.logger.Debug("routing: directions ok",
		slog.String("origin", route.Origin),
		slog.String("destination", route.Destination),
		slog.Int("steps", len(route.Steps())))
	return route, nil
}

// googleStatus maps a Directions status to a route failure.
func googleStatus(status, msg string) error {
	detail := status
	if msg != "" {
		detail = status + ": " + msg
	}
	switch status {
	case "OK":
		return nil
	case "ZERO_RESULTS", "NOT_FOUND":
		return castrilha.NewRouteError(castrilha.RouteFailureNotFound, errors.New(detail))
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return castrilha.NewRouteError(castrilha.RouteFailureRateLimited, errors.New(detail))
	case "REQUEST_DENIED", "INVALID_REQUEST", "MAX_WAYPOINTS_EXCEEDED", "MAX_ROUTE_LENGTH_EXCEEDED":
		return castrilha.NewRouteError(castrilha.RouteFailureRejected, errors.New(detail))
	default:
		return castrilha.NewRouteError(castrilha.RouteFailureNetwork, errors.New(detail))
	}
}

// httpFailure classifies non-200 responses.
func httpFailure(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("http %d: %s", resp.StatusCode, body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return castrilha.NewRouteError(castrilha.RouteFailureRateLimited, err)
	case resp.StatusCode == http.StatusNotFound:
		return castrilha.NewRouteError(castrilha.RouteFailureNotFound, err)
	case resp.StatusCode >= 500:
		return castrilha.NewRouteError(castrilha.RouteFailureNetwork, err)
	default:
		return castrilha.NewRouteError(castrilha.RouteFailureRejected, err)
	}
}
