// Package api implements the castrilha control API using chi.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"
)

// Controller describes the device issuing control requests, usually the
// traveler's phone.
type Controller struct {
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent,omitempty"`
	Client     string `json:"client,omitempty"`
	OS         string `json:"os,omitempty"`
	DeviceType string `json:"device_type"`
}

type controllerKey struct{}

// ControllerFromContext returns the controller stored by ControllerMiddleware.
func ControllerFromContext(ctx context.Context) (Controller, bool) {
	c, ok := ctx.Value(controllerKey{}).(Controller)
	return c, ok
}

// ControllerMiddleware identifies the controller device of each request and
// logs the mutating calls with it.
func ControllerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := ExtractController(r)
			if r.Method != http.MethodGet {
				logger.Info("api: control request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("controller_ip", c.IP),
					slog.String("controller_client", c.Client),
					slog.String("controller_os", c.OS),
					slog.String("controller_device", c.DeviceType))
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), controllerKey{}, c)))
		})
	}
}

// ExtractController reads the controller description from a request.
func ExtractController(r *http.Request) Controller {
	ua := r.UserAgent()
	parsed := useragent.New(ua)

	client, version := parsed.Browser()
	if version != "" {
		client += " " + version
	}
	osInfo := parsed.OSInfo()
	os := osInfo.Name
	if osInfo.Version != "" {
		os += " " + osInfo.Version
	}

	device := "desktop"
	switch {
	case ua == "":
		device = "unknown"
	case parsed.Bot():
		device = "bot"
	case isTablet(ua):
		device = "tablet"
	case parsed.Mobile():
		device = "mobile"
	}

	return Controller{
		IP:         clientIP(r),
		UserAgent:  ua,
		Client:     strings.TrimSpace(client),
		OS:         strings.TrimSpace(os),
		DeviceType: device,
	}
}

// clientIP prefers proxy headers and falls back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); isIP(ip) {
			return ip
		}
	}
	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := strings.TrimSpace(r.Header.Get(h)); isIP(ip) {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

func isTablet(ua string) bool {
	ua = strings.ToLower(ua)
	for _, keyword := range []string{"ipad", "tablet", "playbook", "silk"} {
		if strings.Contains(ua, keyword) {
			return true
		}
	}
	return false
}

// isLocalIP reports loopback and private addresses, which have no GeoIP
// location.
func isLocalIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
