// Package navservice coordinates the navigator, the device link and the
// position tracker for the control surfaces (REST API, MCP, CLI).
package navservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/link"
)

// ErrInvalidRequest is returned when a request names nothing to act on.
var ErrInvalidRequest = errors.New("navservice: invalid request")

// Deps wires a Service.
type Deps struct {
	Navigator *castrilha.Navigator
	Link      *link.Link
	Target    link.Target
	// Positions is the tracker feeding the navigator; used for capability
	// probes.
	Positions castrilha.ProbeFunc
	// Network probes connectivity. Nil means always online.
	Network castrilha.ProbeFunc
	// AutoConnect connects the link before starting navigation.
	AutoConnect bool
	TravelMode  castrilha.TravelMode
	Language    string
	Logger      *slog.Logger
}

// Status is the daemon status payload.
type Status struct {
	Navigation   castrilha.Snapshot      `json:"navigation"`
	Next         *NextInstruction        `json:"next,omitempty"`
	Link         link.State              `json:"link"`
	Online       bool                    `json:"online"`
	Capabilities *castrilha.Capabilities `json:"capabilities,omitempty"`
}

// NextInstruction describes the step that will be announced next.
type NextInstruction struct {
	StepIndex    int     `json:"step_index"`
	Remaining    int     `json:"remaining"`
	Text         string  `json:"text"`
	DistanceText string  `json:"distance_text,omitempty"`
	Maneuver     string  `json:"maneuver,omitempty"`
	MetersAway   float64 `json:"meters_away,omitempty"`
}

// PlanRequest asks for a route between two places. From may be empty to
// start at the current position, or replaced by FromIP for an approximate
// origin.
type PlanRequest struct {
	From       string
	FromIP     string
	To         string
	TravelMode castrilha.TravelMode
	Language   string
	SaveAs     string
	Overwrite  bool
}

// StartRequest selects what to navigate: a saved route by name, a route
// plan, or a destination to plan first.
type StartRequest struct {
	Name        string
	Route       *castrilha.Route
	Destination string
}

// Service coordinates navigation operations.
type Service struct {
	nav         *castrilha.Navigator
	link        *link.Link
	target      link.Target
	probes      castrilha.Probes
	autoConnect bool
	mode        castrilha.TravelMode
	language    string
	logger      *slog.Logger

	mu   sync.RWMutex
	caps *castrilha.Capabilities
}

// New creates a navigation service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		nav:         d.Navigator,
		link:        d.Link,
		target:      d.Target.WithDefaults(),
		autoConnect: d.AutoConnect,
		mode:        d.TravelMode,
		language:    d.Language,
		logger:      logger,
		probes: castrilha.Probes{
			Position: d.Positions,
			Network:  d.Network,
		},
	}
	if d.Link != nil {
		s.probes.Transport = d.Link.Probe
	}
	if s.probes.Network == nil {
		s.probes.Network = func(context.Context) error { return nil }
	}
	return s
}

// ProbeCapabilities checks the host once and remembers the result.
func (s *Service) ProbeCapabilities(ctx context.Context) castrilha.Capabilities {
	caps := castrilha.ProbeCapabilities(ctx, s.probes)
	s.mu.Lock()
	s.caps = &caps
	s.mu.Unlock()

	s.logger.Info("capabilities probed",
		slog.Bool("transport", caps.Transport),
		slog.Bool("position", caps.Position),
		slog.Bool("network", caps.Network))
	return caps
}

// Capabilities returns the last probe result, if any.
func (s *Service) Capabilities() (castrilha.Capabilities, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.caps == nil {
		return castrilha.Capabilities{}, false
	}
	return *s.caps, true
}

// Status returns the session, link and connectivity state.
func (s *Service) Status() Status {
	st := Status{
		Navigation: s.nav.Snapshot(),
		Online:     s.nav.Online(),
	}
	if s.link != nil {
		st.Link = s.link.State()
	} else {
		st.Link = link.State{Status: link.StatusDisconnected}
	}
	if next, ok := nextInstruction(st.Navigation); ok {
		st.Next = &next
	}
	if caps, ok := s.Capabilities(); ok {
		st.Capabilities = &caps
	}
	return st
}

// Next returns the upcoming instruction of the active session.
func (s *Service) Next() (NextInstruction, error) {
	next, ok := nextInstruction(s.nav.Snapshot())
	if !ok {
		return NextInstruction{}, castrilha.ErrNotNavigating
	}
	return next, nil
}

func nextInstruction(snap castrilha.Snapshot) (NextInstruction, bool) {
	step, ok := snap.NextStep()
	if !ok {
		return NextInstruction{}, false
	}
	next := NextInstruction{
		StepIndex:    snap.StepIndex,
		Remaining:    snap.Remaining(),
		Text:         step.CleanInstruction(),
		DistanceText: step.DistanceText,
		Maneuver:     step.Maneuver,
	}
	if snap.LastFix != nil {
		next.MetersAway = castrilha.DistanceMeters(snap.LastFix.LatLng, step.Start)
	}
	return next, true
}

// ConnectLink connects the wearable device.
func (s *Service) ConnectLink(ctx context.Context) error {
	if s.link == nil {
		return castrilha.ErrTransportUnsupported
	}
	return s.link.Connect(ctx, s.target)
}

// DisconnectLink tears down the device connection.
func (s *Service) DisconnectLink() error {
	if s.link == nil {
		return nil
	}
	return s.link.Disconnect()
}

// PlanResult is a planned route and where it was saved. Warning is set when
// the route is kept for this run but could not be written to storage.
type PlanResult struct {
	Route   *castrilha.Route
	SavedAs string
	Warning string
}

// Plan requests a route and optionally saves it. When saving fails the
// planned route is still returned together with the error.
func (s *Service) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	rr, err := s.routeRequest(req.From, req.FromIP, req.To)
	if err != nil {
		return PlanResult{}, err
	}
	if req.TravelMode != "" {
		rr.TravelMode = req.TravelMode
	}
	if req.Language != "" {
		rr.Language = req.Language
	}

	route, err := s.nav.Plan(ctx, rr)
	if err != nil {
		return PlanResult{}, err
	}
	res := PlanResult{Route: route}
	if name := strings.TrimSpace(req.SaveAs); name != "" {
		warning, err := persistWarning(s.nav.SaveRoute(name, route, req.Overwrite))
		if err != nil {
			return res, err
		}
		res.SavedAs = name
		res.Warning = warning
		s.logger.Info("route saved", slog.String("name", name))
	}
	return res, nil
}

// persistWarning downgrades a storage failure to a warning: the change is
// already in effect in memory.
func persistWarning(err error) (string, error) {
	if errors.Is(err, castrilha.ErrPersistFailed) {
		return castrilha.UserMessage(err), nil
	}
	return "", err
}

func (s *Service) routeRequest(from, fromIP, to string) (castrilha.RouteRequest, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return castrilha.RouteRequest{}, fmt.Errorf("%w: destination is required", ErrInvalidRequest)
	}
	rr := castrilha.RouteRequest{
		Destination: castrilha.ParseWaypoint(to),
		TravelMode:  s.mode,
		Language:    s.language,
	}
	switch {
	case strings.TrimSpace(from) != "":
		rr.Origin = castrilha.ParseWaypoint(from)
	case fromIP != "":
		loc, err := s.nav.LocateIP(fromIP)
		if err != nil {
			return castrilha.RouteRequest{}, err
		}
		p := loc.LatLng()
		rr.Origin = castrilha.Waypoint{Location: &p}
	}
	return rr, nil
}

// Start begins navigation. With AutoConnect the device link is connected
// first; an already connected link is fine.
func (s *Service) Start(ctx context.Context, req StartRequest) (*castrilha.Route, error) {
	picked := 0
	for _, set := range []bool{req.Name != "", req.Route != nil, req.Destination != ""} {
		if set {
			picked++
		}
	}
	if picked != 1 {
		return nil, fmt.Errorf("%w: give exactly one of name, route or destination", ErrInvalidRequest)
	}

	if s.autoConnect && s.link != nil && s.link.State().Status == link.StatusDisconnected {
		if err := s.ConnectLink(ctx); err != nil && !errors.Is(err, castrilha.ErrLinkAlreadyConnected) {
			return nil, err
		}
	}

	switch {
	case req.Name != "":
		return s.nav.StartSaved(req.Name)
	case req.Route != nil:
		if err := s.nav.StartRoute(req.Route); err != nil {
			return nil, err
		}
		return req.Route, nil
	default:
		rr, err := s.routeRequest("", "", req.Destination)
		if err != nil {
			return nil, err
		}
		return s.nav.Navigate(ctx, rr)
	}
}

// Stop ends the navigation session.
func (s *Service) Stop() error {
	return s.nav.Stop()
}

// Advance announces the upcoming step immediately.
func (s *Service) Advance() error {
	return s.nav.ForceAdvance()
}

// ListRoutes returns the saved routes.
func (s *Service) ListRoutes() []castrilha.SavedRoute {
	return s.nav.ListRoutes()
}

// GetRoute returns a saved route.
func (s *Service) GetRoute(name string) (*castrilha.Route, error) {
	return s.nav.LoadRoute(name)
}

// PutRoute saves route under name. The warning is set when the route could
// not be written to storage.
func (s *Service) PutRoute(name string, route *castrilha.Route, overwrite bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	return persistWarning(s.nav.SaveRoute(name, route, overwrite))
}

// DeleteRoute removes a saved route.
func (s *Service) DeleteRoute(name string) (string, error) {
	return persistWarning(s.nav.DeleteRoute(name))
}

// LocateIP returns the approximate location of ip.
func (s *Service) LocateIP(ip string) (*castrilha.LocationInfo, error) {
	return s.nav.LocateIP(ip)
}
