package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castrilha/castrilha/internal/navservice"
)

// NewRouter creates a chi router with all API routes mounted.
// events, if non-nil, is mounted at GET /events (SSE).
// positions, if non-nil, is mounted at GET /position/ws for phones pushing
// position fixes.
func NewRouter(svc *navservice.Service, events, positions http.Handler, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(ControllerMiddleware(logger))

	r.Get("/status", h.Status)
	r.Post("/capabilities/probe", h.ProbeCapabilities)

	// Device link.
	r.Post("/link/connect", h.ConnectLink)
	r.Post("/link/disconnect", h.DisconnectLink)

	// Saved routes.
	r.Post("/routes/plan", h.PlanRoute)
	r.Get("/routes", h.ListRoutes)
	r.Get("/routes/{name}", h.GetRoute)
	r.Put("/routes/{name}", h.PutRoute)
	r.Delete("/routes/{name}", h.DeleteRoute)

	// Navigation session.
	r.Post("/navigation/start", h.StartNavigation)
	r.Post("/navigation/stop", h.StopNavigation)
	r.Post("/navigation/advance", h.AdvanceNavigation)
	r.Get("/navigation/next", h.NextInstruction)

	r.Get("/locate", h.Locate)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}
	if positions != nil {
		r.Get("/position/ws", positions.ServeHTTP)
	}

	return r
}
