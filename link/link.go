package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castrilha/castrilha"
)

// Status is the connection state of a Link.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// State is a snapshot of the link.
type State struct {
	Status         Status    `json:"status"`
	DeviceID       string    `json:"device_id,omitempty"`
	DeviceName     string    `json:"device_name,omitempty"`
	Service        string    `json:"service,omitempty"`
	Characteristic string    `json:"characteristic,omitempty"`
	Notifications  bool      `json:"notifications"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
}

// Link owns the connection to the wearable device. It outlives navigation
// sessions and is shared by them through castrilha.Dispatcher.
type Link struct {
	transport       Transport
	logger          *slog.Logger
	discoverTimeout time.Duration
	onNotify        func([]byte)
	onState         func(State)

	mu            sync.Mutex
	state         State
	gen           uint64
	cancelConnect context.CancelFunc
	session       Session
	char          Characteristic
	connDone      chan struct{}

	// writeMu serializes writes; a write never starts before the previous
	// one's outcome is known.
	writeMu sync.Mutex
}

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Link) { k.logger = l }
}

// WithDiscoverTimeout bounds device discovery. Default: 15s.
func WithDiscoverTimeout(d time.Duration) Option {
	return func(k *Link) { k.discoverTimeout = d }
}

// WithNotificationHandler receives inbound notifications from the device.
func WithNotificationHandler(fn func([]byte)) Option {
	return func(k *Link) { k.onNotify = fn }
}

// WithStateHandler is called after every state change. It must not call
// back into the Link.
func WithStateHandler(fn func(State)) Option {
	return func(k *Link) { k.onState = fn }
}

// New creates a disconnected Link over transport.
func New(transport Transport, opts ...Option) *Link {
	k := &Link{
		transport:       transport,
		logger:          slog.Default(),
		discoverTimeout: 15 * time.Second,
		state:           State{Status: StatusDisconnected},
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// State returns the current link state.
func (k *Link) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Probe checks that the host transport is available.
func (k *Link) Probe(ctx context.Context) error {
	if k.transport == nil {
		return castrilha.ErrTransportUnsupported
	}
	return k.transport.Probe(ctx)
}

// Connect discovers the target device, opens a session and resolves the
// writable characteristic. It is valid only from Disconnected; a second call
// while connecting returns castrilha.ErrLinkBusy. On failure the link is
// back in Disconnected and the error matches castrilha.ErrDeviceNotFound,
// castrilha.ErrLinkPermissionDenied or castrilha.ErrLinkConnectFailed.
func (k *Link) Connect(ctx context.Context, target Target) error {
	if k.transport == nil {
		return castrilha.ErrTransportUnsupported
	}
	target = target.WithDefaults()

	k.mu.Lock()
	switch k.state.Status {
	case StatusConnecting:
		k.mu.Unlock()
		return castrilha.ErrLinkBusy
	case StatusConnected:
		k.mu.Unlock()
		return castrilha.ErrLinkAlreadyConnected
	}
	k.gen++
	gen := k.gen
	ctx, cancel := context.WithCancel(ctx)
	k.cancelConnect = cancel
	k.state = State{Status: StatusConnecting}
	k.mu.Unlock()
	k.notifyState()
	defer cancel()

	k.logger.Info("link: connecting",
		slog.String("device_name", target.DeviceName),
		slog.String("name_prefix", target.NamePrefix))

	dctx, dcancel := context.WithTimeout(ctx, k.discoverTimeout)
	dev, err := k.transport.Discover(dctx, target.Filter())
	dcancel()
	if err != nil {
		return k.fail(gen, classify(err, castrilha.ErrDeviceNotFound))
	}

	sess, err := k.transport.Connect(ctx, dev)
	if err != nil {
		return k.fail(gen, classify(err, castrilha.ErrLinkConnectFailed))
	}

	char, err := sess.Characteristic(ctx, target.ServiceUUID, target.CharacteristicUUID)
	if err != nil {
		sess.Close()
		return k.fail(gen, classify(err, castrilha.ErrLinkConnectFailed))
	}

	notifications := false
	if k.onNotify != nil {
		if err := char.Subscribe(k.handleNotification); err != nil {
			k.logger.Warn("link: notifications unavailable",
				slog.String("device_id", dev.ID),
				slog.String("error", err.Error()))
		} else {
			notifications = true
		}
	}

	k.mu.Lock()
	if k.gen != gen {
		// Disconnect was called while connecting.
		k.mu.Unlock()
		sess.Close()
		return fmt.Errorf("%w: connect aborted", castrilha.ErrLinkConnectFailed)
	}
	done := make(chan struct{})
	k.session = sess
	k.char = char
	k.connDone = done
	k.cancelConnect = nil
	k.state = State{
		Status:         StatusConnected,
		DeviceID:       dev.ID,
		DeviceName:     dev.Name,
		Service:        target.ServiceUUID,
		Characteristic: target.CharacteristicUUID,
		Notifications:  notifications,
		ConnectedAt:    time.Now(),
	}
	k.mu.Unlock()
	k.notifyState()

	if ln, ok := sess.(LossNotifier); ok {
		go k.watchLoss(gen, ln.Lost(), done)
	}

	k.logger.Info("link: connected",
		slog.String("device_id", dev.ID),
		slog.String("device_name", dev.Name))
	return nil
}

// fail returns the link to Disconnected unless a newer attempt owns it.
func (k *Link) fail(gen uint64, err error) error {
	k.mu.Lock()
	if k.gen == gen {
		k.state = State{Status: StatusDisconnected}
		k.cancelConnect = nil
	}
	k.mu.Unlock()
	k.notifyState()

	k.logger.Warn("link: connect failed", slog.String("error", err.Error()))
	return err
}

// Write sends p to the device. It is valid only while Connected; a failed
// write does not change the link state.
func (k *Link) Write(ctx context.Context, p []byte) error {
	k.mu.Lock()
	if k.state.Status != StatusConnected || k.char == nil {
		k.mu.Unlock()
		return castrilha.ErrLinkNotConnected
	}
	char := k.char
	k.mu.Unlock()

	k.writeMu.Lock()
	defer k.writeMu.Unlock()

	if err := char.Write(ctx, p); err != nil {
		if errors.Is(err, castrilha.ErrLinkWriteFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", castrilha.ErrLinkWriteFailed, err)
	}
	return nil
}

// Disconnect tears down the session from any state, aborting a connect in
// progress.
func (k *Link) Disconnect() error {
	k.mu.Lock()
	k.gen++
	if k.cancelConnect != nil {
		k.cancelConnect()
		k.cancelConnect = nil
	}
	sess := k.session
	if k.connDone != nil {
		close(k.connDone)
		k.connDone = nil
	}
	k.session = nil
	k.char = nil
	was := k.state.Status
	k.state = State{Status: StatusDisconnected}
	k.mu.Unlock()

	if was != StatusDisconnected {
		k.notifyState()
		k.logger.Info("link: disconnected", slog.String("previous", string(was)))
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			return fmt.Errorf("link: close session: %w", err)
		}
	}
	return nil
}

func (k *Link) watchLoss(gen uint64, lost <-chan struct{}, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-lost:
	}

	k.mu.Lock()
	if k.gen != gen || k.state.Status != StatusConnected {
		k.mu.Unlock()
		return
	}
	k.gen++
	sess := k.session
	k.session = nil
	k.char = nil
	k.connDone = nil
	k.state = State{Status: StatusDisconnected}
	k.mu.Unlock()
	k.notifyState()

	k.logger.Warn("link: connection lost")
	if sess != nil {
		sess.Close()
	}
}

func (k *Link) handleNotification(p []byte) {
	k.logger.Debug("link: notification", slog.String("value", string(p)))
	if k.onNotify != nil {
		k.onNotify(p)
	}
}

func (k *Link) notifyState() {
	if k.onState != nil {
		k.onState(k.State())
	}
}

// classify keeps taxonomy errors and wraps anything else in fallback.
func classify(err, fallback error) error {
	for _, known := range []error{
		castrilha.ErrTransportUnsupported,
		castrilha.ErrDeviceNotFound,
		castrilha.ErrLinkPermissionDenied,
		castrilha.ErrLinkConnectFailed,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) && fallback == castrilha.ErrDeviceNotFound {
		return fmt.Errorf("%w: discovery timed out", castrilha.ErrDeviceNotFound)
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
