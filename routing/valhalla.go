package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/castrilha/castrilha"
)

// DefaultValhallaURL is the public demo server.
const DefaultValhallaURL = "https://valhalla1.openstreetmap.de/route"

// Valhalla requests routes from a Valhalla /route endpoint. It needs
// coordinates for both ends; addresses are rejected.
type Valhalla struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewValhalla creates a Valhalla client.
func NewValhalla(opts ...Option) *Valhalla {
	o := buildOptions(DefaultValhallaURL, opts)
	return &Valhalla{baseURL: o.baseURL, client: o.client, logger: o.logger}
}

type valhallaLocation struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Type string  `json:"type"`
}

type valhallaRequest struct {
	Locations         []valhallaLocation `json:"locations"`
	Costing           string             `json:"costing"`
	DirectionsOptions struct {
		Units    string `json:"units"`
		Language string `json:"language"`
	} `json:"directions_options"`
}

type valhallaManeuver struct {
	Type            int     `json:"type"`
	Instruction     string  `json:"instruction"`
	Length          float64 `json:"length"` // kilometers
	Time            float64 `json:"time"`   // seconds
	BeginShapeIndex int     `json:"begin_shape_index"`
	EndShapeIndex   int     `json:"end_shape_index"`
}

type valhallaLeg struct {
	Maneuvers []valhallaManeuver `json:"maneuvers"`
	Shape     string             `json:"shape"`
	Summary   valhallaSummary    `json:"summary"`
}

type valhallaSummary struct {
	Length float64 `json:"length"`
	Time   float64 `json:"time"`
}

type valhallaResponse struct {
	Trip struct {
		Legs    []valhallaLeg   `json:"legs"`
		Summary valhallaSummary `json:"summary"`
	} `json:"trip"`
}

type valhallaError struct {
	ErrorCode int    `json:"error_code"`
	Error     string `json:"error"`
}

func costing(mode castrilha.TravelMode) string {
	switch mode {
	case castrilha.TravelWalking:
		return "pedestrian"
	case castrilha.TravelBicycling:
		return "bicycle"
	case castrilha.TravelTransit:
		return "multimodal"
	default:
		return "auto"
	}
}

// Route requests a route between two coordinates.
func (v *Valhalla) Route(ctx context.Context, req castrilha.RouteRequest) (*castrilha.Route, error) {
	req = req.WithDefaults()
	if req.Origin.Location == nil || req.Destination.Location == nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureRejected,
			errors.New("valhalla needs coordinates for origin and destination"))
	}

	var body valhallaRequest
	body.Locations = []valhallaLocation{
		{Lat: req.Origin.Location.Lat, Lon: req.Origin.Location.Lng, Type: "break"},
		{Lat: req.Destination.Location.Lat, Lon: req.Destination.Location.Lng, Type: "break"},
	}
	body.Costing = costing(req.TravelMode)
	body.DirectionsOptions.Units = "kilometers"
	body.DirectionsOptions.Language = req.Language

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureRejected, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, valhallaFailure(resp.Body)
	}
	if err := httpFailure(resp); err != nil {
		return nil, err
	}

	var out valhallaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureNetwork, fmt.Errorf("decode valhalla: %w", err))
	}
	if len(out.Trip.Legs) == 0 {
		return nil, castrilha.NewRouteError(castrilha.RouteFailureNotFound, errors.New("no legs returned"))
	}

	route := &castrilha.Route{
		Origin:      req.Origin.String(),
		Destination: req.Destination.String(),
	}
	for i, l := range out.Trip.Legs {
		shape, err := Decode(l.Shape, 6)
		if err != nil {
			return nil, castrilha.NewRouteError(castrilha.RouteFailureNetwork, fmt.Errorf("leg %d shape: %w", i, err))
		}
		leg := castrilha.Leg{
			DistanceText: formatDistance(l.Summary.Length*1000, req.Language),
			DurationText: formatDuration(l.Summary.Time),
		}
		for _, m := range l.Maneuvers {
			leg.Steps = append(leg.Steps, castrilha.Step{
				Instruction:  m.Instruction,
				DistanceText: formatDistance(m.Length*1000, req.Language),
				DurationText: formatDuration(m.Time),
				Maneuver:     maneuverName(m.Type),
				Start:        shapePoint(shape, m.BeginShapeIndex),
				End:          shapePoint(shape, m.EndShapeIndex),
			})
		}
		route.Legs = append(route.Legs, leg)
	}

	v.logger.Debug("routing: valhalla ok",
		slog.String("costing", body.Costing),
		slog.Int("steps", len(route.Steps())))
	return route, nil
}

func shapePoint(shape []castrilha.LatLng, i int) castrilha.LatLng {
	if len(shape) == 0 {
		return castrilha.LatLng{}
	}
	if i < 0 {
		i = 0
	}
	if i >= len(shape) {
		i = len(shape) - 1
	}
	return shape[i]
}

// valhallaFailure classifies a 400 response. Codes 170-171 and 442-443 mean
// no route exists between the locations.
func valhallaFailure(r io.Reader) error {
	var e valhallaError
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(raw, &e); err != nil {
		return castrilha.NewRouteError(castrilha.RouteFailureRejected, fmt.Errorf("http 400: %s", raw))
	}
	err := fmt.Errorf("valhalla %d: %s", e.ErrorCode, e.Error)
	switch e.ErrorCode {
	case 170, 171, 442, 443:
		return castrilha.NewRouteError(castrilha.RouteFailureNotFound, err)
	default:
		return castrilha.NewRouteError(castrilha.RouteFailureRejected, err)
	}
}

// formatDistance renders meters the way the guide displays them: whole
// meters under 1 km, one decimal above. Portuguese uses a decimal comma.
func formatDistance(meters float64, language string) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	s := fmt.Sprintf("%.1f km", meters/1000)
	if strings.HasPrefix(strings.ToLower(language), "pt") {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

func formatDuration(seconds float64) string {
	mins := int(math.Round(seconds / 60))
	if mins < 1 {
		return "1 min"
	}
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	return fmt.Sprintf("%d h %d min", mins/60, mins%60)
}

// maneuverName maps Valhalla maneuver types onto the names Google uses.
func maneuverName(t int) string {
	switch t {
	case 9:
		return "turn-slight-right"
	case 10:
		return "turn-right"
	case 11:
		return "turn-sharp-right"
	case 12:
		return "uturn-right"
	case 13:
		return "uturn-left"
	case 14:
		return "turn-sharp-left"
	case 15:
		return "turn-left"
	case 16:
		return "turn-slight-left"
	case 17, 22:
		return "straight"
	case 18, 20:
		return "ramp-right"
	case 19, 21:
		return "ramp-left"
	case 23:
		return "keep-right"
	case 24:
		return "keep-left"
	case 25:
		return "merge"
	case 26:
		return "roundabout-right"
	default:
		return ""
	}
}
