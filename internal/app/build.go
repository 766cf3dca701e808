package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/link"
	"github.com/castrilha/castrilha/position"
	"github.com/castrilha/castrilha/routing"
	"github.com/castrilha/castrilha/store"
)

func buildStore(cfg StoreConfig) (store.KV, error) {
	switch cfg.Backend {
	case StoreSQLite:
		return store.NewSQLite(cfg.Path)
	case StoreMemory:
		return store.NewMemory(), nil
	case StoreFile:
		return store.NewFile(cfg.Path)
	case StoreMySQL:
		return store.NewMySQLFromDSN(cfg.DSN)
	case StoreRedis:
		return store.NewRedisFromConfig(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func buildTransport(cfg LinkConfig, console io.Writer) (link.Transport, error) {
	switch cfg.Transport {
	case TransportBLE:
		return link.NewBLETransport(), nil
	case TransportSerial:
		return link.NewSerialTransport(cfg.SerialPort, cfg.BaudRate), nil
	case TransportConsole:
		return link.NewConsoleTransport(console), nil
	default:
		return nil, fmt.Errorf("unknown link transport %q", cfg.Transport)
	}
}

// buildSource returns the position source. The websocket source is also
// returned on its own so the HTTP server can mount it.
func buildSource(cfg PositionConfig, logger *slog.Logger) (position.Source, *position.WebSocketSource, error) {
	switch cfg.Source {
	case SourceWebSocket:
		ws := position.NewWebSocketSource(logger, nil)
		return ws, ws, nil
	case SourceNMEA:
		return position.NewNMEASource(cfg.NMEAPort, cfg.NMEABaudRate, logger), nil, nil
	case SourceReplay:
		replay, err := position.LoadReplay(cfg.ReplayFile, cfg.ReplayInterval, cfg.ReplayLoop)
		if err != nil {
			return nil, nil, err
		}
		return replay, nil, nil
	case SourceNone:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown position source %q", cfg.Source)
	}
}

func buildRouter(cfg RoutingConfig, logger *slog.Logger) (castrilha.Router, error) {
	opts := []routing.Option{routing.WithLogger(logger)}
	if cfg.BaseURL != "" {
		opts = append(opts, routing.WithBaseURL(cfg.BaseURL))
	}
	switch cfg.Provider {
	case ProviderGoogle:
		if cfg.APIKey == "" {
			logger.Warn("routing: no Google API key configured, route requests will be rejected")
		}
		return routing.NewGoogle(cfg.APIKey, opts...), nil
	case ProviderValhalla:
		return routing.NewValhalla(opts...), nil
	default:
		return nil, fmt.Errorf("unknown routing provider %q", cfg.Provider)
	}
}
