package api

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/internal/navservice"
)

// PlanRouteRequest is the request body for planning a route.
type PlanRouteRequest struct {
	From       string `json:"from,omitempty" example:"-23.5505,-46.6333"`
	FromIP     string `json:"from_ip,omitempty" example:"177.12.34.56"`
	To         string `json:"to" example:"Avenida Paulista, 1578"`
	TravelMode string `json:"travel_mode,omitempty" example:"walking"`
	Language   string `json:"language,omitempty" example:"pt-BR"`
	SaveAs     string `json:"save_as,omitempty" example:"trabalho"`
	Overwrite  bool   `json:"overwrite,omitempty"`
}

// Validate validates the plan request.
func (r PlanRouteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.To, validation.Required),
		validation.Field(&r.FromIP, is.IP),
		validation.Field(&r.TravelMode, validation.By(travelMode)),
		validation.Field(&r.SaveAs, validation.Length(0, 128)),
	)
}

// StartNavigationRequest selects what to navigate: a saved route, a route
// plan or a destination.
type StartNavigationRequest struct {
	Name        string           `json:"name,omitempty" example:"trabalho"`
	Route       *castrilha.Route `json:"route,omitempty"`
	Destination string           `json:"destination,omitempty" example:"Avenida Paulista, 1578"`
}

// Validate validates the start request.
func (r StartNavigationRequest) Validate() error {
	set := 0
	for _, ok := range []bool{r.Name != "", r.Route != nil, r.Destination != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of name, route or destination is required")
	}
	if r.Route != nil {
		return r.Route.Validate()
	}
	return nil
}

// PutRouteRequest is the request body for saving a route under a name.
type PutRouteRequest struct {
	Route     *castrilha.Route `json:"route"`
	Overwrite bool             `json:"overwrite,omitempty"`
}

// Validate validates the put request.
func (r PutRouteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Route, validation.Required),
	)
}

func travelMode(v any) error {
	s, _ := v.(string)
	if s != "" && !castrilha.TravelMode(s).IsValid() {
		return errors.New("must be driving, walking, bicycling or transit")
	}
	return nil
}

// RouteSummary is a saved route in a list response.
type RouteSummary struct {
	Name        string    `json:"name" example:"trabalho"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Steps       int       `json:"steps" example:"12"`
	SavedAt     time.Time `json:"saved_at,omitempty"`
}

// RouteListResponse wraps saved route listings.
type RouteListResponse struct {
	Routes []RouteSummary `json:"routes"`
	Total  int            `json:"total" example:"3"`
}

// PlanRouteResponse is returned after planning. Warning is set when the
// route was saved for this run only.
type PlanRouteResponse struct {
	Route   *castrilha.Route `json:"route"`
	SavedAs string           `json:"saved_as,omitempty"`
	Warning string           `json:"warning,omitempty"`
}

// SaveRouteResponse is returned after saving a route under a name.
type SaveRouteResponse struct {
	Name    string           `json:"name" example:"trabalho"`
	Route   *castrilha.Route `json:"route"`
	Warning string           `json:"warning,omitempty"`
}

type warningResponse struct {
	Warning string `json:"warning"`
}

// StatusResponse is the daemon status (aliased from the service layer).
type StatusResponse = navservice.Status

// NextInstruction is the upcoming step (aliased from the service layer).
type NextInstruction = navservice.NextInstruction
