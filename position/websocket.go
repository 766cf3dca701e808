package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castrilha/castrilha"
)

// Fix is the JSON frame pushed by a phone over the websocket. A frame with
// Error set reports a geolocation failure instead of a fix.
type Fix struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Accuracy  float64  `json:"accuracy,omitempty"`
	Speed     float64  `json:"speed,omitempty"`
	Heading   float64  `json:"heading,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // unix milliseconds
	Error     string   `json:"error,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Position converts the frame to a fix or a classified error.
func (f Fix) Position() (castrilha.Position, error) {
	if f.Error != "" {
		return castrilha.Position{}, fixError(f.Error, f.Message)
	}
	if f.Lat == nil || f.Lng == nil {
		return castrilha.Position{}, errors.New("position: frame without coordinates")
	}
	p := castrilha.Position{
		LatLng:   castrilha.LatLng{Lat: *f.Lat, Lng: *f.Lng},
		Accuracy: f.Accuracy,
		Speed:    f.Speed,
		Heading:  f.Heading,
	}
	if f.Timestamp > 0 {
		p.Time = time.UnixMilli(f.Timestamp)
	}
	return p, nil
}

func fixError(code, msg string) error {
	detail := code
	if msg != "" {
		detail = code + ": " + msg
	}
	switch code {
	case "permission_denied", "PERMISSION_DENIED":
		return fmt.Errorf("%w: %s", castrilha.ErrPositionPermissionDenied, detail)
	default:
		return fmt.Errorf("%w: %s", castrilha.ErrPositionUnavailable, detail)
	}
}

type frame struct {
	pos castrilha.Position
	err error
}

// WebSocketSource receives fixes pushed by a phone. It is an http.Handler
// that upgrades each request to a websocket and reads Fix frames until the
// peer disconnects. Frames arriving while nobody streams are dropped.
type WebSocketSource struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	frames   chan frame
	peers    atomic.Int32
}

// NewWebSocketSource creates a source. checkOrigin may be nil to accept any
// origin.
func NewWebSocketSource(logger *slog.Logger, checkOrigin func(*http.Request) bool) *WebSocketSource {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocketSource{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
		frames: make(chan frame, 16),
	}
}

// Peers returns the number of connected phones.
func (s *WebSocketSource) Peers() int {
	return int(s.peers.Load())
}

// Probe reports unavailable until a phone is connected.
func (s *WebSocketSource) Probe(ctx context.Context) error {
	if s.Peers() == 0 {
		return fmt.Errorf("%w: no phone connected", castrilha.ErrPositionUnavailable)
	}
	return nil
}

func (s *WebSocketSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("position: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	s.peers.Add(1)
	defer s.peers.Add(-1)
	s.logger.Info("position: phone connected", slog.String("remote_addr", r.RemoteAddr))

	for {
		var f Fix
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("position: websocket read failed", slog.String("error", err.Error()))
			}
			s.logger.Info("position: phone disconnected", slog.String("remote_addr", r.RemoteAddr))
			return
		}
		p, err := f.Position()
		if err != nil && f.Error == "" {
			s.logger.Debug("position: bad frame", slog.String("error", err.Error()))
			continue
		}
		select {
		case s.frames <- frame{pos: p, err: err}:
		default:
			s.logger.Debug("position: frame dropped")
		}
	}
}

// Stream delivers pushed frames until ctx is done.
func (s *WebSocketSource) Stream(ctx context.Context, emit func(castrilha.Position), fail func(error)) error {
	// Stale frames from before the subscription are discarded.
	for {
		select {
		case <-s.frames:
			continue
		default:
		}
		break
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.frames:
			if f.err != nil {
				fail(f.err)
				continue
			}
			emit(f.pos)
		}
	}
}

// MarshalFix encodes a fix frame, used by clients and tests.
func MarshalFix(p castrilha.Position) ([]byte, error) {
	lat, lng := p.Lat, p.Lng
	f := Fix{Lat: &lat, Lng: &lng, Accuracy: p.Accuracy, Speed: p.Speed, Heading: p.Heading}
	if !p.Time.IsZero() {
		f.Timestamp = p.Time.UnixMilli()
	}
	return json.Marshal(f)
}
