package castrilha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/castrilha/castrilha/store"
)

// Navigator is the main SDK interface: saved routes, route planning and the
// navigation engine behind one facade.
type Navigator struct {
	config Config
	kv     store.KV
	routes *RouteStore
	engine *Engine
	geoip  *GeoIPReader

	// stops counts Stop calls so Navigate can discard a plan that resolved
	// after the traveler stopped.
	stops atomic.Uint64
	// startMu orders the discard check and engine start against Stop.
	startMu sync.Mutex
}

// New creates a new Navigator with the given configuration.
// If RouteStore is not provided, a SQLite store is created at DatabasePath.
func New(cfg Config) (*Navigator, error) {
	cfg.applyDefaults()

	n := &Navigator{
		config: cfg,
	}

	// Initialize route store backend (default: SQLite)
	if cfg.RouteStore != nil {
		n.kv = cfg.RouteStore
	} else {
		sqliteStore, err := store.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("castrilha: failed to initialize SQLite store: %w", err)
		}
		n.kv = sqliteStore
	}

	routes, err := OpenRouteStore(n.kv, cfg.RoutesKey, cfg.Logger)
	if err != nil {
		n.kv.Close()
		return nil, err
	}
	n.routes = routes

	engine, err := NewEngine(EngineConfig{
		Positions:      cfg.Positions,
		Dispatcher:     cfg.Dispatcher,
		Formatter:      Formatter{AppendDistance: cfg.AppendDistance},
		ArrivalMessage: cfg.ArrivalMessage,
		WriteTimeout:   cfg.WriteTimeout,
		Watch:          cfg.Watch,
		Logger:         cfg.Logger,
		OnEvent:        cfg.OnEvent,
	})
	if err != nil {
		n.kv.Close()
		return nil, err
	}
	n.engine = engine

	// Initialize GeoIP reader if path is provided
	if cfg.GeoIPDatabasePath != "" {
		geoip, err := NewGeoIPReader(cfg.GeoIPDatabasePath)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("castrilha: failed to initialize GeoIP: %w", err)
		}
		n.geoip = geoip
	}

	return n, nil
}

// Close releases all resources held by the Navigator.
// Should be called when the application shuts down.
func (n *Navigator) Close() error {
	var errs []error

	if n.engine != nil {
		if err := n.engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if n.kv != nil {
		if err := n.kv.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if n.geoip != nil {
		if err := n.geoip.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("castrilha: errors during close: %w", errors.Join(errs...))
	}
	return nil
}

// Routes returns the saved-route store.
func (n *Navigator) Routes() *RouteStore {
	return n.routes
}

// Online reports whether network-dependent features are available.
func (n *Navigator) Online() bool {
	return n.config.Online()
}

// Plan requests a route from the routing service. An empty origin defaults
// to the last known position fix. Plan never touches the navigation session.
func (n *Navigator) Plan(ctx context.Context, req RouteRequest) (*Route, error) {
	if !n.config.Online() {
		return nil, ErrOfflineFeatureUnavailable
	}
	if n.config.Router == nil {
		return nil, NewRouteError(RouteFailureRejected, errors.New("no routing service configured"))
	}
	if req.Destination.IsZero() {
		return nil, NewRouteError(RouteFailureRejected, errors.New("destination is required"))
	}
	if req.Origin.IsZero() {
		fix, err := n.originFix(ctx)
		if err != nil {
			return nil, err
		}
		loc := fix.LatLng
		req.Origin = Waypoint{Location: &loc}
	}

	route, err := n.config.Router.Route(ctx, req.WithDefaults())
	if err != nil {
		n.config.Logger.Warn("route request failed",
			slog.String("origin", req.Origin.String()),
			slog.String("destination", req.Destination.String()),
			slog.String("error", err.Error()))
		return nil, err
	}
	return route, nil
}

// Navigate plans a route and starts navigating it. If Stop is called while
// the route request is pending, the result is discarded with ErrPlanDiscarded.
func (n *Navigator) Navigate(ctx context.Context, req RouteRequest) (*Route, error) {
	epoch := n.stops.Load()

	route, err := n.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	n.startMu.Lock()
	defer n.startMu.Unlock()
	if n.stops.Load() != epoch {
		return route, ErrPlanDiscarded
	}
	if err := n.engine.Start(route); err != nil {
		return route, err
	}
	return route, nil
}

// StartRoute starts navigating an already planned route.
func (n *Navigator) StartRoute(route *Route) error {
	return n.engine.Start(route)
}

// StartSaved starts navigating a saved route. It works offline.
func (n *Navigator) StartSaved(name string) (*Route, error) {
	route, err := n.routes.Load(name)
	if err != nil {
		return nil, err
	}
	if err := n.engine.Start(route); err != nil {
		return nil, err
	}
	return route, nil
}

// Stop cancels the navigation session and any pending Navigate.
func (n *Navigator) Stop() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	n.stops.Add(1)
	return n.engine.Stop()
}

// ForceAdvance announces the upcoming step immediately.
func (n *Navigator) ForceAdvance() error {
	return n.engine.ForceAdvance()
}

// Snapshot returns the current navigation session.
func (n *Navigator) Snapshot() Snapshot {
	return n.engine.Snapshot()
}

// originFix returns the last fix, or a one-shot fix when the source can
// take one.
func (n *Navigator) originFix(ctx context.Context) (Position, error) {
	if fix, ok := n.LastFix(); ok {
		return fix, nil
	}
	if loc, ok := n.config.Positions.(Locator); ok {
		fix, err := loc.Current(ctx, n.config.Watch)
		if err != nil {
			return Position{}, fmt.Errorf("route origin: %w", err)
		}
		return fix, nil
	}
	return Position{}, fmt.Errorf("%w: no fix for route origin", ErrPositionUnavailable)
}

// LastFix returns the most recent position reported by the source, if it
// remembers one.
func (n *Navigator) LastFix() (Position, bool) {
	if lf, ok := n.config.Positions.(LastFixer); ok {
		return lf.Last()
	}
	return Position{}, false
}

// SaveRoute saves route under name. A collision without overwrite returns
// ErrRouteExists. Saving needs connectivity because saved routes are plans
// fetched from the routing service.
func (n *Navigator) SaveRoute(name string, route *Route, overwrite bool) error {
	if !n.config.Online() {
		return ErrOfflineFeatureUnavailable
	}
	if err := route.Validate(); err != nil {
		return err
	}
	if !overwrite && n.routes.Exists(name) {
		return fmt.Errorf("%w: %s", ErrRouteExists, name)
	}
	return n.routes.Save(name, route)
}

// LoadRoute returns a saved route.
func (n *Navigator) LoadRoute(name string) (*Route, error) {
	return n.routes.Load(name)
}

// ListRoutes returns saved routes in stored order.
func (n *Navigator) ListRoutes() []SavedRoute {
	return n.routes.List()
}

// DeleteRoute removes a saved route.
func (n *Navigator) DeleteRoute(name string) error {
	return n.routes.Delete(name)
}

// LocateIP returns the approximate location of an IP address.
// Returns ErrGeoIPDatabaseNotConfigured if GeoIP is not configured.
func (n *Navigator) LocateIP(ip string) (*LocationInfo, error) {
	if n.geoip == nil {
		return nil, ErrGeoIPDatabaseNotConfigured
	}
	return n.geoip.Lookup(ip)
}
