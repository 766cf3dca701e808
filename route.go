package castrilha

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is finite and within range.
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// String formats the coordinate as "lat,lng".
func (p LatLng) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// ParseLatLng parses a "lat,lng" string.
func ParseLatLng(s string) (LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return LatLng{}, fmt.Errorf("invalid lat,lng format: %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid longitude: %w", err)
	}

	p := LatLng{Lat: lat, Lng: lng}
	if !p.Valid() {
		return LatLng{}, fmt.Errorf("coordinate out of range: %s", s)
	}
	return p, nil
}

// Step is one maneuver of a route.
// Instruction is the raw text as produced by the routing service and may
// contain markup; use CleanInstruction for the text sent to the device.
type Step struct {
	Instruction  string `json:"instruction"`
	DistanceText string `json:"distance_text,omitempty"`
	DurationText string `json:"duration_text,omitempty"`
	Maneuver     string `json:"maneuver,omitempty"`
	Start        LatLng `json:"start_location"`
	End          LatLng `json:"end_location"`
}

// CleanInstruction returns the instruction with all markup stripped.
func (s Step) CleanInstruction() string {
	return StripMarkup(s.Instruction)
}

// Leg is the ordered sequence of steps between two stops.
type Leg struct {
	StartAddress string `json:"start_address,omitempty"`
	EndAddress   string `json:"end_address,omitempty"`
	DistanceText string `json:"distance_text,omitempty"`
	DurationText string `json:"duration_text,omitempty"`
	Steps        []Step `json:"steps"`
}

// Route is an immutable route plan produced by a routing service.
type Route struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Legs        []Leg  `json:"legs"`
}

// Steps returns every step of every leg, in travel order.
func (r *Route) Steps() []Step {
	if r == nil {
		return nil
	}
	n := 0
	for _, leg := range r.Legs {
		n += len(leg.Steps)
	}
	steps := make([]Step, 0, n)
	for _, leg := range r.Legs {
		steps = append(steps, leg.Steps...)
	}
	return steps
}

// Validate checks that every step location is a valid coordinate.
func (r *Route) Validate() error {
	if r == nil {
		return ErrInvalidRoute
	}
	for i, step := range r.Steps() {
		if !step.Start.Valid() || !step.End.Valid() {
			return fmt.Errorf("%w: step %d has an invalid location", ErrInvalidRoute, i)
		}
	}
	return nil
}

// TravelMode selects the kind of route the routing service computes.
type TravelMode string

const (
	TravelDriving   TravelMode = "driving"
	TravelWalking   TravelMode = "walking"
	TravelBicycling TravelMode = "bicycling"
	TravelTransit   TravelMode = "transit"
)

// DefaultTravelMode is used when a request does not name one.
const DefaultTravelMode = TravelDriving

// DefaultLanguage is the instruction language requested from routing services.
const DefaultLanguage = "pt-BR"

// IsValid checks if the travel mode is known.
func (m TravelMode) IsValid() bool {
	switch m {
	case TravelDriving, TravelWalking, TravelBicycling, TravelTransit:
		return true
	default:
		return false
	}
}

// Waypoint is either a free-form address or a coordinate.
type Waypoint struct {
	Address  string  `json:"address,omitempty"`
	Location *LatLng `json:"location,omitempty"`
}

// ParseWaypoint turns "lat,lng" into a coordinate waypoint and anything else
// into an address waypoint.
func ParseWaypoint(s string) Waypoint {
	s = strings.TrimSpace(s)
	if p, err := ParseLatLng(s); err == nil {
		return Waypoint{Location: &p}
	}
	return Waypoint{Address: s}
}

// IsZero reports whether the waypoint names nothing.
func (w Waypoint) IsZero() bool {
	return w.Address == "" && w.Location == nil
}

// String returns the coordinate as "lat,lng" when present, otherwise the address.
func (w Waypoint) String() string {
	if w.Location != nil {
		return w.Location.String()
	}
	return w.Address
}

// RouteRequest is a route calculation request to a routing service.
type RouteRequest struct {
	Origin      Waypoint   `json:"origin"`
	Destination Waypoint   `json:"destination"`
	TravelMode  TravelMode `json:"travel_mode,omitempty"`
	Language    string     `json:"language,omitempty"`
}

// WithDefaults returns a copy of the request with mode and language filled in.
func (r RouteRequest) WithDefaults() RouteRequest {
	if r.TravelMode == "" {
		r.TravelMode = DefaultTravelMode
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	return r
}
