package app

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/link"
	"github.com/castrilha/castrilha/position"
	"github.com/castrilha/castrilha/store"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

// Link transports.
const (
	TransportBLE     = "ble"
	TransportSerial  = "serial"
	TransportConsole = "console"
)

// Position sources.
const (
	SourceWebSocket = "websocket"
	SourceNMEA      = "nmea"
	SourceReplay    = "replay"
	SourceNone      = "none"
)

// Routing providers.
const (
	ProviderGoogle   = "google"
	ProviderValhalla = "valhalla"
)

// Config represents the daemon configuration.
type Config struct {
	App          ApplicationConfig  `yaml:"app" toml:"app"`
	Store        StoreConfig        `yaml:"store" toml:"store"`
	Link         LinkConfig         `yaml:"link" toml:"link"`
	Position     PositionConfig     `yaml:"position" toml:"position"`
	Routing      RoutingConfig      `yaml:"routing" toml:"routing"`
	Navigation   NavigationConfig   `yaml:"navigation" toml:"navigation"`
	GeoIP        GeoIPConfig        `yaml:"geoip" toml:"geoip"`
	Connectivity ConnectivityConfig `yaml:"connectivity" toml:"connectivity"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"store", &c.Store},
		{"link", &c.Link},
		{"position", &c.Position},
		{"routing", &c.Routing},
		{"navigation", &c.Navigation},
		{"connectivity", &c.Connectivity},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects the saved-route backend.
type StoreConfig struct {
	Backend string            `yaml:"backend" toml:"backend"`
	Path    string            `yaml:"path" toml:"path"` // SQLite file or file-store directory
	DSN     string            `yaml:"dsn" toml:"dsn"`   // MySQL
	Redis   store.RedisConfig `yaml:"redis" toml:"redis"`
	Key     string            `yaml:"key" toml:"key"`
	// Watch reloads saved routes when the file store changes on disk.
	Watch bool `yaml:"watch" toml:"watch"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(StoreSQLite, StoreMemory, StoreFile, StoreMySQL, StoreRedis)),
		validation.Field(&c.Path, validation.When(c.Backend == StoreSQLite || c.Backend == StoreFile, validation.Required)),
		validation.Field(&c.DSN, validation.When(c.Backend == StoreMySQL, validation.Required)),
		validation.Field(&c.Redis, validation.By(func(any) error {
			if c.Backend == StoreRedis && c.Redis.Addr == "" {
				return fmt.Errorf("addr is required for the redis backend")
			}
			return nil
		})),
	)
}

// LinkConfig describes the wearable device and how to reach it.
type LinkConfig struct {
	Transport          string        `yaml:"transport" toml:"transport"`
	DeviceName         string        `yaml:"device_name" toml:"device_name"`
	NamePrefix         string        `yaml:"name_prefix" toml:"name_prefix"`
	ServiceUUID        string        `yaml:"service_uuid" toml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid" toml:"characteristic_uuid"`
	SerialPort         string        `yaml:"serial_port" toml:"serial_port"`
	BaudRate           int           `yaml:"baud_rate" toml:"baud_rate"`
	DiscoverTimeout    time.Duration `yaml:"discover_timeout" toml:"discover_timeout"`
	// AutoConnect connects the link before starting navigation.
	AutoConnect bool `yaml:"auto_connect" toml:"auto_connect"`
}

// Validate validates the link configuration.
func (c *LinkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Transport, validation.Required,
			validation.In(TransportBLE, TransportSerial, TransportConsole)),
		validation.Field(&c.BaudRate, validation.Min(0)),
		validation.Field(&c.DiscoverTimeout, validation.Min(time.Duration(0))),
	)
}

// Target returns the device target.
func (c *LinkConfig) Target() link.Target {
	return link.Target{
		DeviceName:         c.DeviceName,
		NamePrefix:         c.NamePrefix,
		ServiceUUID:        c.ServiceUUID,
		CharacteristicUUID: c.CharacteristicUUID,
	}.WithDefaults()
}

// PositionConfig selects the position source and the watch options.
type PositionConfig struct {
	Source         string        `yaml:"source" toml:"source"`
	NMEAPort       string        `yaml:"nmea_port" toml:"nmea_port"`
	NMEABaudRate   int           `yaml:"nmea_baud_rate" toml:"nmea_baud_rate"`
	ReplayFile     string        `yaml:"replay_file" toml:"replay_file"`
	ReplayInterval time.Duration `yaml:"replay_interval" toml:"replay_interval"`
	ReplayLoop     bool          `yaml:"replay_loop" toml:"replay_loop"`
	HighAccuracy   bool          `yaml:"high_accuracy" toml:"high_accuracy"`
	Timeout        time.Duration `yaml:"timeout" toml:"timeout"`
	MaxAge         time.Duration `yaml:"max_age" toml:"max_age"`
}

// Validate validates the position configuration.
func (c *PositionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Source, validation.Required,
			validation.In(SourceWebSocket, SourceNMEA, SourceReplay, SourceNone)),
		validation.Field(&c.NMEAPort, validation.When(c.Source == SourceNMEA, validation.Required)),
		validation.Field(&c.ReplayFile, validation.When(c.Source == SourceReplay, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxAge, validation.Min(time.Duration(0))),
	)
}

// Watch returns the subscription options.
func (c *PositionConfig) Watch() castrilha.WatchOptions {
	return castrilha.WatchOptions{
		HighAccuracy: c.HighAccuracy,
		Timeout:      c.Timeout,
		MaxAge:       c.MaxAge,
	}
}

// RoutingConfig selects the routing service.
type RoutingConfig struct {
	Provider   string `yaml:"provider" toml:"provider"`
	APIKey     string `yaml:"api_key" toml:"api_key"`
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	Language   string `yaml:"language" toml:"language"`
	TravelMode string `yaml:"travel_mode" toml:"travel_mode"`
}

// Validate validates the routing configuration.
func (c *RoutingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderGoogle, ProviderValhalla)),
		validation.Field(&c.TravelMode, validation.By(func(any) error {
			if c.TravelMode != "" && !castrilha.TravelMode(c.TravelMode).IsValid() {
				return fmt.Errorf("unknown travel mode %q", c.TravelMode)
			}
			return nil
		})),
	)
}

// NavigationConfig tunes the navigation engine.
type NavigationConfig struct {
	ArrivalMessage string        `yaml:"arrival_message" toml:"arrival_message"`
	AppendDistance bool          `yaml:"append_distance" toml:"append_distance"`
	WriteTimeout   time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	// EventThrottle limits position events on the SSE stream.
	EventThrottle time.Duration `yaml:"event_throttle" toml:"event_throttle"`
}

// Validate validates the navigation configuration.
func (c *NavigationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.WriteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.EventThrottle, validation.Min(time.Duration(0))),
	)
}

// GeoIPConfig holds the MaxMind database path. Empty disables IP lookups.
type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path" toml:"database_path"`
}

// ConnectivityConfig configures the online check.
type ConnectivityConfig struct {
	Disabled  bool          `yaml:"disabled" toml:"disabled"`
	ProbeAddr string        `yaml:"probe_addr" toml:"probe_addr"`
	Interval  time.Duration `yaml:"interval" toml:"interval"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// Validate validates the connectivity configuration.
func (c *ConnectivityConfig) Validate() error {
	if c.Disabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.ProbeAddr, validation.Required),
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Timeout, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Backend: StoreSQLite,
			Path:    "./castrilha.db",
			Key:     castrilha.DefaultRoutesKey,
		},
		Link: LinkConfig{
			Transport:       TransportBLE,
			DiscoverTimeout: 15 * time.Second,
			BaudRate:        link.DefaultBaudRate,
			AutoConnect:     true,
		},
		Position: PositionConfig{
			Source:         SourceWebSocket,
			NMEABaudRate:   position.DefaultNMEABaudRate,
			ReplayInterval: position.DefaultReplayInterval,
			HighAccuracy:   true,
			Timeout:        10 * time.Second,
		},
		Routing: RoutingConfig{
			Provider:   ProviderGoogle,
			Language:   castrilha.DefaultLanguage,
			TravelMode: string(castrilha.DefaultTravelMode),
		},
		Navigation: NavigationConfig{
			ArrivalMessage: castrilha.DefaultArrivalMessage,
			WriteTimeout:   5 * time.Second,
			EventThrottle:  time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeAddr: "8.8.8.8:53",
			Interval:  30 * time.Second,
			Timeout:   3 * time.Second,
		},
	}
}
