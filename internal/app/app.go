// Package app wires the castrilha daemon: configuration, component
// construction, the HTTP control server and its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/internal/api"
	"github.com/castrilha/castrilha/internal/navservice"
	"github.com/castrilha/castrilha/internal/sse"
	"github.com/castrilha/castrilha/link"
	"github.com/castrilha/castrilha/position"
	"github.com/castrilha/castrilha/store"
)

// Runtime holds the constructed components of one daemon or CLI run.
type Runtime struct {
	Config    *Config
	Logger    *slog.Logger
	Navigator *castrilha.Navigator
	Service   *navservice.Service
	Link      *link.Link
	Tracker   *position.Tracker
	Broker    *sse.Broker
	// Monitor is nil when connectivity checks are disabled.
	Monitor *Monitor
	// WebSocket is set when phones push fixes over a websocket.
	WebSocket *position.WebSocketSource

	files *store.FileStore
}

// Open builds every component from the configuration.
func Open(ctx context.Context, opts ...Option) (*Runtime, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	console := app.consoleOutput
	if console == nil {
		console = os.Stdout
	}

	rt := &Runtime{
		Config: cfg,
		Logger: logger,
		Broker: sse.NewBroker(cfg.Navigation.EventThrottle),
	}

	kv, err := buildStore(cfg.Store)
	if err != nil {
		rt.Broker.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	if fs, ok := kv.(*store.FileStore); ok {
		rt.files = fs
	}

	transport, err := buildTransport(cfg.Link, console)
	if err != nil {
		kv.Close()
		rt.Broker.Close()
		return nil, fmt.Errorf("init link: %w", err)
	}
	rt.Link = link.New(transport,
		link.WithLogger(logger),
		link.WithDiscoverTimeout(cfg.Link.DiscoverTimeout),
		link.WithStateHandler(func(st link.State) {
			rt.Broker.Publish(sse.Event{Type: "link.state", Data: st})
		}),
		link.WithNotificationHandler(func(p []byte) {
			rt.Broker.Publish(sse.Event{Type: "link.notification", Data: map[string]string{"value": string(p)}})
		}),
	)

	source, ws, err := buildSource(cfg.Position, logger)
	if err != nil {
		kv.Close()
		rt.Broker.Close()
		return nil, fmt.Errorf("init position source: %w", err)
	}
	rt.WebSocket = ws
	rt.Tracker = position.NewTracker(source, position.WithLogger(logger))

	router, err := buildRouter(cfg.Routing, logger)
	if err != nil {
		kv.Close()
		rt.Broker.Close()
		return nil, fmt.Errorf("init routing: %w", err)
	}

	var online func() bool
	var network castrilha.ProbeFunc
	if !cfg.Connectivity.Disabled {
		rt.Monitor = NewMonitor(cfg.Connectivity, logger)
		rt.Monitor.Check(ctx)
		online = rt.Monitor.Online
		network = rt.Monitor.Probe
	}

	nav, err := castrilha.New(castrilha.Config{
		RouteStore:        kv,
		RoutesKey:         cfg.Store.Key,
		Positions:         rt.Tracker,
		Dispatcher:        rt.Link,
		Router:            router,
		Online:            online,
		GeoIPDatabasePath: cfg.GeoIP.DatabasePath,
		ArrivalMessage:    cfg.Navigation.ArrivalMessage,
		AppendDistance:    cfg.Navigation.AppendDistance,
		WriteTimeout:      cfg.Navigation.WriteTimeout,
		Watch:             cfg.Position.Watch(),
		Logger:            logger,
		OnEvent: func(ev castrilha.Event) {
			rt.Broker.PublishNavigation(ev)
			if app.onEvent != nil {
				app.onEvent(ev)
			}
		},
	})
	if err != nil {
		rt.Broker.Close()
		return nil, fmt.Errorf("init navigator: %w", err)
	}
	rt.Navigator = nav

	rt.Service = navservice.New(navservice.Deps{
		Navigator:   nav,
		Link:        rt.Link,
		Target:      cfg.Link.Target(),
		Positions:   rt.Tracker.Probe,
		Network:     network,
		AutoConnect: cfg.Link.AutoConnect,
		TravelMode:  castrilha.TravelMode(cfg.Routing.TravelMode),
		Language:    cfg.Routing.Language,
		Logger:      logger,
	})
	return rt, nil
}

// Close stops navigation, disconnects the device and releases storage.
func (rt *Runtime) Close() error {
	var errs []error
	if err := rt.Navigator.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.Link.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	rt.Broker.Close()
	return errors.Join(errs...)
}

// WatchRoutes reloads saved routes when the file store changes on disk.
// It returns immediately unless the file backend is used with watching on.
func (rt *Runtime) WatchRoutes(ctx context.Context) error {
	if rt.files == nil || !rt.Config.Store.Watch {
		return nil
	}
	return rt.files.Watch(ctx, rt.Config.Store.Key, rt.Logger, func() {
		if err := rt.Navigator.Routes().Reload(); err != nil {
			rt.Logger.Warn("saved routes reload failed", slog.String("error", err.Error()))
			return
		}
		rt.Logger.Info("saved routes reloaded", slog.Int("count", len(rt.Navigator.ListRoutes())))
		rt.Broker.Publish(sse.Event{Type: "routes.reloaded", Data: map[string]int{"count": len(rt.Navigator.ListRoutes())}})
	})
}

// Handler returns the HTTP handler of the control server.
func (rt *Runtime) Handler() http.Handler {
	var positions http.Handler
	if rt.WebSocket != nil {
		positions = rt.WebSocket
	}
	apiRouter := api.NewRouter(rt.Service, rt.Broker, positions, rt.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !rt.Navigator.Online() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"offline"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)
	return r
}

// Run starts the daemon with the given options and blocks until a shutdown
// signal arrives or ctx is cancelled.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("link_transport", cfg.Link.Transport),
		slog.String("position_source", cfg.Position.Source),
		slog.String("routing_provider", cfg.Routing.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := Open(ctx, append(opts, WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}()

	rt.Service.ProbeCapabilities(ctx)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: rt.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	if rt.Monitor != nil {
		g.Go(func() error {
			rt.Monitor.Run(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		if err := rt.WatchRoutes(gCtx); err != nil {
			logger.Warn("saved routes watch stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Ends open SSE streams so Shutdown does not wait on them.
		rt.Broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the background workers stop with the
// server.
var errShutdown = errors.New("shutdown")
