package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-chi/chi/v5"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/internal/navservice"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc    *navservice.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *navservice.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Status handles GET /api/status.
//
//	@Summary	Navigation session, device link and connectivity state
//	@Tags		status
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// ProbeCapabilities handles POST /api/capabilities/probe.
func (h *Handler) ProbeCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ProbeCapabilities(r.Context()))
}

// ConnectLink handles POST /api/link/connect.
//
//	@Summary	Connect the wearable device
//	@Tags		link
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Failure	404	{object}	errResponse
//	@Failure	409	{object}	errResponse
//	@Router		/link/connect [post]
func (h *Handler) ConnectLink(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ConnectLink(r.Context()); err != nil {
		h.fail(w, "connect link", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// DisconnectLink handles POST /api/link/disconnect.
func (h *Handler) DisconnectLink(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DisconnectLink(); err != nil {
		h.fail(w, "disconnect link", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// PlanRoute handles POST /api/routes/plan.
//
//	@Summary	Plan a route and optionally save it
//	@Tags		routes
//	@Accept		json
//	@Produce	json
//	@Param		body	body		PlanRouteRequest	true	"Route request"
//	@Success	200		{object}	PlanRouteResponse
//	@Failure	400		{object}	errResponse
//	@Failure	409		{object}	errResponse
//	@Failure	503		{object}	errResponse
//	@Router		/routes/plan [post]
func (h *Handler) PlanRoute(w http.ResponseWriter, r *http.Request) {
	var req PlanRouteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FromIP == "" && req.From == "" && r.URL.Query().Get("from_controller") == "true" {
		if c, ok := ControllerFromContext(r.Context()); ok && !isLocalIP(c.IP) {
			req.FromIP = c.IP
		}
	}

	res, err := h.svc.Plan(r.Context(), navservice.PlanRequest{
		From:       req.From,
		FromIP:     req.FromIP,
		To:         req.To,
		TravelMode: castrilha.TravelMode(req.TravelMode),
		Language:   req.Language,
		SaveAs:     req.SaveAs,
		Overwrite:  req.Overwrite,
	})
	if err != nil {
		h.fail(w, "plan route", err)
		return
	}
	writeJSON(w, http.StatusOK, PlanRouteResponse{Route: res.Route, SavedAs: res.SavedAs, Warning: res.Warning})
}

// ListRoutes handles GET /api/routes.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	saved := h.svc.ListRoutes()
	resp := RouteListResponse{Routes: make([]RouteSummary, 0, len(saved)), Total: len(saved)}
	for _, s := range saved {
		resp.Routes = append(resp.Routes, RouteSummary{
			Name:        s.Name,
			Origin:      s.Route.Origin,
			Destination: s.Route.Destination,
			Steps:       len(s.Route.Steps()),
			SavedAt:     s.SavedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRoute handles GET /api/routes/{name}.
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.svc.GetRoute(chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "get route", err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// PutRoute handles PUT /api/routes/{name}.
func (h *Handler) PutRoute(w http.ResponseWriter, r *http.Request) {
	var req PutRouteRequest
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	warning, err := h.svc.PutRoute(name, req.Route, req.Overwrite)
	if err != nil {
		h.fail(w, "put route", err)
		return
	}
	writeJSON(w, http.StatusOK, SaveRouteResponse{Name: name, Route: req.Route, Warning: warning})
}

// DeleteRoute handles DELETE /api/routes/{name}.
func (h *Handler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	warning, err := h.svc.DeleteRoute(chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "delete route", err)
		return
	}
	if warning != "" {
		writeJSON(w, http.StatusOK, warningResponse{Warning: warning})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartNavigation handles POST /api/navigation/start.
//
//	@Summary	Start navigating a saved route, a route plan or a destination
//	@Tags		navigation
//	@Accept		json
//	@Produce	json
//	@Param		body	body		StartNavigationRequest	true	"What to navigate"
//	@Success	200		{object}	StatusResponse
//	@Failure	400		{object}	errResponse
//	@Failure	404		{object}	errResponse
//	@Router		/navigation/start [post]
func (h *Handler) StartNavigation(w http.ResponseWriter, r *http.Request) {
	var req StartNavigationRequest
	if !decode(w, r, &req) {
		return
	}
	_, err := h.svc.Start(r.Context(), navservice.StartRequest{
		Name:        req.Name,
		Route:       req.Route,
		Destination: req.Destination,
	})
	if err != nil {
		h.fail(w, "start navigation", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// StopNavigation handles POST /api/navigation/stop.
func (h *Handler) StopNavigation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stop(); err != nil {
		h.fail(w, "stop navigation", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// AdvanceNavigation handles POST /api/navigation/advance.
func (h *Handler) AdvanceNavigation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Advance(); err != nil {
		h.fail(w, "advance navigation", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// NextInstruction handles GET /api/navigation/next.
func (h *Handler) NextInstruction(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.Next()
	if err != nil {
		h.fail(w, "next instruction", err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

// Locate handles GET /api/locate. Without ?ip= the controller's address
// is used.
func (h *Handler) Locate(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		c, _ := ControllerFromContext(r.Context())
		if isLocalIP(c.IP) {
			writeJSON(w, http.StatusBadRequest, errorBody("ip is required for a controller on a local network"))
			return
		}
		ip = c.IP
	}
	loc, err := h.svc.LocateIP(ip)
	if err != nil {
		h.fail(w, "locate ip", err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// decode reads and validates a JSON body. It writes a 400 and returns false
// on failure.
func decode(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.String("error", err.Error()))
	} else {
		h.logger.Debug(op+" failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errResponse{
		Error:     err.Error(),
		Message:   castrilha.UserMessage(err),
		Retryable: castrilha.Retryable(err),
	})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var routeErr *castrilha.RouteError
	switch {
	case errors.As(err, &routeErr):
		switch routeErr.Reason {
		case castrilha.RouteFailureNotFound:
			return http.StatusNotFound
		case castrilha.RouteFailureRateLimited:
			return http.StatusTooManyRequests
		case castrilha.RouteFailureRejected:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadGateway
		}
	case errors.Is(err, navservice.ErrInvalidRequest),
		errors.Is(err, castrilha.ErrInvalidRoute),
		errors.Is(err, castrilha.ErrInvalidIP):
		return http.StatusBadRequest
	case errors.Is(err, castrilha.ErrPositionPermissionDenied),
		errors.Is(err, castrilha.ErrLinkPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, castrilha.ErrRouteNotFound),
		errors.Is(err, castrilha.ErrDeviceNotFound),
		errors.Is(err, castrilha.ErrGeoIPLookupFailed):
		return http.StatusNotFound
	case errors.Is(err, castrilha.ErrRouteExists),
		errors.Is(err, castrilha.ErrNotNavigating),
		errors.Is(err, castrilha.ErrLinkBusy),
		errors.Is(err, castrilha.ErrLinkAlreadyConnected),
		errors.Is(err, castrilha.ErrLinkNotConnected),
		errors.Is(err, castrilha.ErrPlanDiscarded):
		return http.StatusConflict
	case errors.Is(err, castrilha.ErrTransportUnsupported),
		errors.Is(err, castrilha.ErrGeoIPDatabaseNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, castrilha.ErrOfflineFeatureUnavailable),
		errors.Is(err, castrilha.ErrPositionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, castrilha.ErrLinkConnectFailed),
		errors.Is(err, castrilha.ErrLinkWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
