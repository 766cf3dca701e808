package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/castrilha/castrilha/pkg/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
	}{
		{"port out of range", func(c *Config) { c.App.HTTP.Port = 70000 }, "app"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }, "store"},
		{"mysql without dsn", func(c *Config) { c.Store.Backend = StoreMySQL }, "store"},
		{"redis without addr", func(c *Config) { c.Store.Backend = StoreRedis }, "store"},
		{"unknown transport", func(c *Config) { c.Link.Transport = "wifi" }, "link"},
		{"nmea without port", func(c *Config) { c.Position.Source = SourceNMEA }, "position"},
		{"replay without file", func(c *Config) { c.Position.Source = SourceReplay }, "position"},
		{"unknown provider", func(c *Config) { c.Routing.Provider = "osrm" }, "routing"},
		{"unknown travel mode", func(c *Config) { c.Routing.TravelMode = "teleport" }, "routing"},
		{"negative write timeout", func(c *Config) { c.Navigation.WriteTimeout = -time.Second }, "navigation"},
		{"probe interval too short", func(c *Config) { c.Connectivity.Interval = time.Millisecond }, "connectivity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), tt.section+":") {
				t.Errorf("error %q should name section %q", err, tt.section)
			}
		})
	}
}

func TestConnectivityDisabledSkipsValidation(t *testing.T) {
	cfg := ConnectivityConfig{Disabled: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled connectivity should pass: %v", err)
	}
}

func TestLinkTargetDefaults(t *testing.T) {
	cfg := LinkConfig{DeviceName: "Pulseira"}
	target := cfg.Target()
	if target.DeviceName != "Pulseira" {
		t.Errorf("device name = %q", target.DeviceName)
	}
	if target.ServiceUUID == "" || target.CharacteristicUUID == "" {
		t.Error("target should carry the default UUIDs")
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	t.Setenv("CASTRILHA_TEST_KEY", "chave-secreta")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
app:
  log_level: debug
  http:
    port: 9090
store:
  backend: memory
link:
  transport: console
position:
  source: none
routing:
  provider: valhalla
  api_key: ${CASTRILHA_TEST_KEY}
  travel_mode: walking
connectivity:
  disabled: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 {
		t.Errorf("port = %d", cfg.App.HTTP.Port)
	}
	if cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("log level = %s", cfg.App.LogLevel)
	}
	if cfg.Store.Backend != StoreMemory || cfg.Link.Transport != TransportConsole {
		t.Errorf("store = %q, link = %q", cfg.Store.Backend, cfg.Link.Transport)
	}
	if cfg.Routing.APIKey != "chave-secreta" {
		t.Errorf("api key = %q, want env expansion", cfg.Routing.APIKey)
	}
	// Untouched sections keep their defaults.
	if cfg.Navigation.WriteTimeout != 5*time.Second {
		t.Errorf("write timeout = %s", cfg.Navigation.WriteTimeout)
	}
}
