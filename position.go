package castrilha

import (
	"context"
	"time"
)

// Position is one fix reported by a position source.
type Position struct {
	LatLng
	// Accuracy is the estimated horizontal error in meters, 0 if unknown.
	Accuracy float64   `json:"accuracy,omitempty"`
	Speed    float64   `json:"speed,omitempty"`
	Heading  float64   `json:"heading,omitempty"`
	Time     time.Time `json:"timestamp"`
}

// WatchOptions configures a position subscription.
type WatchOptions struct {
	HighAccuracy bool          `json:"high_accuracy"`
	Timeout      time.Duration `json:"timeout"`
	// MaxAge drops fixes older than this when positive. Zero accepts only
	// fresh fixes as delivered by the source.
	MaxAge time.Duration `json:"max_age"`
}

// DefaultWatchOptions returns the options used by navigation sessions.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
	}
}

// Subscription is an active position watch.
type Subscription interface {
	// Cancel stops delivery. No callback runs after Cancel returns.
	Cancel()
}

// PositionSource delivers a stream of fixes until the subscription is cancelled.
// onError receives errors matching ErrPositionUnavailable or
// ErrPositionPermissionDenied.
type PositionSource interface {
	Subscribe(onUpdate func(Position), onError func(error), opts WatchOptions) (Subscription, error)
}

// Dispatcher delivers a formatted frame to the wearable device.
type Dispatcher interface {
	Write(ctx context.Context, p []byte) error
}

// Router computes a route plan.
type Router interface {
	Route(ctx context.Context, req RouteRequest) (*Route, error)
}

// LastFixer is implemented by position sources that remember their most
// recent fix.
type LastFixer interface {
	Last() (Position, bool)
}

// Locator is implemented by position sources that can take a one-shot fix.
type Locator interface {
	Current(ctx context.Context, opts WatchOptions) (Position, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, p []byte) error

func (f DispatcherFunc) Write(ctx context.Context, p []byte) error { return f(ctx, p) }
