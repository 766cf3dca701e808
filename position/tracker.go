// Package position turns raw fix sources into castrilha.PositionSource
// subscriptions.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castrilha/castrilha"
)

// ErrAlreadySubscribed is returned when a tracker already has a subscriber.
var ErrAlreadySubscribed = errors.New("position: already subscribed")

// Source produces raw fixes. Stream blocks until ctx is done or the source
// fails. emit delivers a fix; fail reports a non-terminal error (the stream
// keeps running). Returning before ctx is done is terminal and reaches the
// subscriber as castrilha.ErrPositionUnavailable.
type Source interface {
	Stream(ctx context.Context, emit func(castrilha.Position), fail func(error)) error
}

// Prober is implemented by sources that can check their availability
// without streaming.
type Prober interface {
	Probe(ctx context.Context) error
}

// Tracker owns a Source and hands its fixes to at most one subscriber.
// Current callers wait on the same stream as waiters.
type Tracker struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	active  *subscription
	waiters map[chan fixResult]struct{}
	last    castrilha.Position
	hasLast bool
}

type fixResult struct {
	fix castrilha.Position
	err error
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over source.
func NewTracker(source Source, opts ...Option) *Tracker {
	t := &Tracker{
		source: source,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Last returns the most recent accepted fix.
func (t *Tracker) Last() (castrilha.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

// Probe reports castrilha.ErrPositionUnavailable when the source cannot
// deliver fixes.
func (t *Tracker) Probe(ctx context.Context) error {
	if t.source == nil {
		return castrilha.ErrPositionUnavailable
	}
	if p, ok := t.source.(Prober); ok {
		if err := p.Probe(ctx); err != nil {
			return classify(err)
		}
	}
	return nil
}

// Subscribe starts streaming. Only one subscription may be outstanding; a
// stream started by Current is taken over and its waiters keep waiting on
// the new one.
func (t *Tracker) Subscribe(onUpdate func(castrilha.Position), onError func(error), opts castrilha.WatchOptions) (castrilha.Subscription, error) {
	s, err := t.subscribe(onUpdate, onError, opts, false)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Tracker) subscribe(onUpdate func(castrilha.Position), onError func(error), opts castrilha.WatchOptions, oneShot bool) (*subscription, error) {
	if t.source == nil {
		return nil, castrilha.ErrPositionUnavailable
	}

	t.mu.Lock()
	prev := t.active
	if prev != nil && (oneShot || !prev.oneShot) {
		t.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		tracker:  t,
		cancel:   cancel,
		onUpdate: onUpdate,
		onError:  onError,
		opts:     opts,
		oneShot:  oneShot,
		seen:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	t.active = s
	t.mu.Unlock()

	// The source runs one stream at a time.
	if prev != nil {
		t.logger.Debug("position: subscription replaces pending fix request")
		prev.Cancel()
	}
	go s.run(ctx)
	return s, nil
}

// Current returns a fresh fix. It uses the running subscription when there
// is one, otherwise it streams until the first fix arrives.
func (t *Tracker) Current(ctx context.Context, opts castrilha.WatchOptions) (castrilha.Position, error) {
	w := make(chan fixResult, 1)

	t.mu.Lock()
	if t.active != nil && !t.active.oneShot && t.hasLast {
		last := t.last
		t.mu.Unlock()
		return last, nil
	}
	if t.waiters == nil {
		t.waiters = make(map[chan fixResult]struct{})
	}
	t.waiters[w] = struct{}{}
	idle := t.active == nil
	t.mu.Unlock()
	defer t.leave(w)

	if idle {
		_, err := t.subscribe(nil, nil, opts, true)
		if err != nil && !errors.Is(err, ErrAlreadySubscribed) {
			return castrilha.Position{}, err
		}
	}

	select {
	case r := <-w:
		return r.fix, r.err
	case <-ctx.Done():
		return castrilha.Position{}, fmt.Errorf("%w: %v", castrilha.ErrPositionUnavailable, ctx.Err())
	}
}

// leave drops waiter w and stops the one-shot stream once nobody waits on it.
func (t *Tracker) leave(w chan fixResult) {
	t.mu.Lock()
	delete(t.waiters, w)
	var idle *subscription
	if len(t.waiters) == 0 && t.active != nil && t.active.oneShot {
		idle = t.active
		t.active = nil
	}
	t.mu.Unlock()
	if idle != nil {
		idle.Cancel()
	}
}

// notify hands r to every waiting Current call.
func (t *Tracker) notify(r fixResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for w := range t.waiters {
		select {
		case w <- r:
		default:
		}
	}
}

func (t *Tracker) release(s *subscription) {
	t.mu.Lock()
	if t.active == s {
		t.active = nil
	}
	t.mu.Unlock()
}

func (t *Tracker) remember(p castrilha.Position) {
	t.mu.Lock()
	t.last = p
	t.hasLast = true
	t.mu.Unlock()
}

type subscription struct {
	tracker  *Tracker
	cancel   context.CancelFunc
	onUpdate func(castrilha.Position)
	onError  func(error)
	opts     castrilha.WatchOptions
	oneShot  bool
	seen     chan struct{}
	done     chan struct{}

	// mu guards delivery; stopped is set by Cancel.
	mu      sync.Mutex
	stopped bool
}

// Cancel stops delivery and waits for the source to stop streaming. No
// callback runs after Cancel returns, so it must not be called from inside a
// callback.
func (s *subscription) Cancel() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
	s.tracker.release(s)
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	if s.opts.Timeout > 0 {
		go s.watchdog(ctx)
	}

	err := s.tracker.source.Stream(ctx, s.accept, func(err error) {
		s.fail(classify(err))
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.fail(classify(err))
		return
	}
	s.fail(fmt.Errorf("%w: source ended", castrilha.ErrPositionUnavailable))
}

// watchdog reports castrilha.ErrPositionUnavailable whenever Timeout passes
// without an accepted fix.
func (s *subscription) watchdog(ctx context.Context) {
	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.seen:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.opts.Timeout)
		case <-timer.C:
			s.fail(fmt.Errorf("%w: no fix within %s", castrilha.ErrPositionUnavailable, s.opts.Timeout))
			timer.Reset(s.opts.Timeout)
		}
	}
}

func (s *subscription) accept(p castrilha.Position) {
	t := s.tracker
	if !p.Valid() {
		t.logger.Debug("position: dropped invalid fix", slog.String("fix", p.LatLng.String()))
		return
	}
	now := t.now()
	if p.Time.IsZero() {
		p.Time = now
	}
	if s.opts.MaxAge > 0 && now.Sub(p.Time) > s.opts.MaxAge {
		t.logger.Debug("position: dropped stale fix",
			slog.String("age", now.Sub(p.Time).String()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	t.remember(p)
	select {
	case s.seen <- struct{}{}:
	default:
	}
	t.notify(fixResult{fix: p})
	if s.onUpdate != nil {
		s.onUpdate(p)
	}
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.tracker.logger.Warn("position: source error", slog.String("error", err.Error()))
	s.tracker.notify(fixResult{err: err})
	if s.onError != nil {
		s.onError(err)
	}
}

// classify maps source errors onto the two position error kinds.
func classify(err error) error {
	if errors.Is(err, castrilha.ErrPositionPermissionDenied) || errors.Is(err, castrilha.ErrPositionUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", castrilha.ErrPositionUnavailable, err)
}
