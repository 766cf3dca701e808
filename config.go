package castrilha

import (
	"log/slog"
	"time"

	"github.com/castrilha/castrilha/store"
)

// Config contains configuration options for a Navigator.
type Config struct {
	// RouteStore is the durable backend for saved routes.
	// Default: SQLite store (creates castrilha.db in current directory).
	RouteStore store.KV

	// DatabasePath is the path for the default SQLite database.
	// Only used if RouteStore is nil.
	// Default: "castrilha.db".
	DatabasePath string

	// RoutesKey is the key holding the saved-route collection.
	// Default: "savedNavigationRoutes".
	RoutesKey string

	// Positions feeds the navigation engine. Required.
	Positions PositionSource

	// Dispatcher delivers frames to the wearable device. Required.
	Dispatcher Dispatcher

	// Router computes routes. Optional; Plan and Navigate fail without it.
	Router Router

	// Online reports network availability. Default: always online.
	Online func() bool

	// GeoIPDatabasePath is the path to MaxMind GeoLite2-City.mmdb file.
	// Enables LocateIP as a fallback route origin.
	// Download from: https://dev.maxmind.com/geoip/geolite2-free-geolocation-data
	GeoIPDatabasePath string

	// ArrivalMessage is dispatched at the end of the route.
	// Default: "Você chegou ao seu destino!".
	ArrivalMessage string

	// AppendDistance adds the step distance to each instruction frame.
	// Default: false.
	AppendDistance bool

	// WriteTimeout bounds each dispatch to the device.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// Watch configures the position subscription.
	// Default: high accuracy, 10 second timeout, no cached fixes.
	Watch WatchOptions

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// OnEvent observes engine events. It must not block.
	OnEvent func(Event)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath:   "castrilha.db",
		RoutesKey:      DefaultRoutesKey,
		ArrivalMessage: DefaultArrivalMessage,
		WriteTimeout:   5 * time.Second,
		Watch:          DefaultWatchOptions(),
	}
}

// applyDefaults fills in default values for zero-value fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.RoutesKey == "" {
		c.RoutesKey = defaults.RoutesKey
	}
	if c.ArrivalMessage == "" {
		c.ArrivalMessage = defaults.ArrivalMessage
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.Watch.Timeout <= 0 {
		c.Watch.Timeout = defaults.Watch.Timeout
		c.Watch.HighAccuracy = defaults.Watch.HighAccuracy
	}
	if c.Online == nil {
		c.Online = func() bool { return true }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
