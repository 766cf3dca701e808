package castrilha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultArrivalMessage is dispatched once the last step has been announced.
const DefaultArrivalMessage = "Você chegou ao seu destino!"

// EngineConfig wires an Engine to its capabilities.
type EngineConfig struct {
	Positions  PositionSource
	Dispatcher Dispatcher
	Formatter  Formatter

	// ArrivalMessage is sent when the route is complete.
	// Default: DefaultArrivalMessage.
	ArrivalMessage string

	// WriteTimeout bounds a single dispatch. Default: 5s.
	WriteTimeout time.Duration

	// Watch is passed to the position source on Start.
	Watch WatchOptions

	Logger *slog.Logger

	// OnEvent is called from the engine goroutine and must not block.
	OnEvent func(Event)
}

// Engine drives one navigation session at a time. A single goroutine owns
// the session; commands and position callbacks are queued to it and each
// is processed to completion before the next.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger
	now    func() time.Time

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once

	// Position callbacks append here and never block.
	inMu    sync.Mutex
	inbox   []positionEvent
	inboxCh chan struct{}

	// abort cancels the current session context from outside the loop so an
	// in-flight write returns before Stop takes effect.
	abortMu sync.Mutex
	abort   context.CancelFunc

	// Owned by the loop goroutine.
	sess session
	gen  uint64
}

type session struct {
	id          string
	route       *Route
	steps       []Step
	index       int
	status      Status
	sub         Subscription
	ctx         context.Context
	startedAt   time.Time
	lastFix     *Position
	lastMessage string
}

type positionEvent struct {
	gen uint64
	pos Position
	err error
}

// NewEngine starts the engine goroutine. Call Close to release it.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Positions == nil {
		return nil, errors.New("castrilha: engine requires a position source")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("castrilha: engine requires a dispatcher")
	}
	if cfg.ArrivalMessage == "" {
		cfg.ArrivalMessage = DefaultArrivalMessage
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Watch == (WatchOptions{}) {
		cfg.Watch = DefaultWatchOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		cmds:    make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		inboxCh: make(chan struct{}, 1),
		sess:    session{status: StatusIdle},
	}
	go e.run()
	return e, nil
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.inboxCh:
			e.drainInbox()
		case <-e.quit:
			e.teardown()
			return
		}
	}
}

// exec runs fn on the engine goroutine and waits for it to finish.
func (e *Engine) exec(fn func()) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	finished := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(finished) }:
	case <-e.quit:
		return ErrEngineClosed
	}
	<-finished
	return nil
}

// Start begins a fresh session on route, replacing any current one.
func (e *Engine) Start(route *Route) error {
	if err := route.Validate(); err != nil {
		return err
	}
	e.abortSession()

	var startErr error
	if err := e.exec(func() { startErr = e.start(route) }); err != nil {
		return err
	}
	return startErr
}

// Stop cancels the current session. No instruction is dispatched for it
// after Stop returns. Stop is valid in every state.
func (e *Engine) Stop() error {
	e.abortSession()
	return e.exec(func() { e.stop(nil) })
}

// ForceAdvance announces the upcoming step without waiting for proximity.
func (e *Engine) ForceAdvance() error {
	var advErr error
	if err := e.exec(func() {
		if e.sess.status != StatusActive {
			advErr = ErrNotNavigating
			return
		}
		e.advance(e.sess.index)
	}); err != nil {
		return err
	}
	return advErr
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot() Snapshot {
	var snap Snapshot
	if err := e.exec(func() { snap = e.snapshot() }); err != nil {
		return Snapshot{Status: StatusIdle}
	}
	return snap
}

// Close stops any session and the engine goroutine.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.abortSession()
		close(e.quit)
		<-e.done
	})
	return nil
}

func (e *Engine) abortSession() {
	e.abortMu.Lock()
	if e.abort != nil {
		e.abort()
	}
	e.abortMu.Unlock()
}

func (e *Engine) enqueue(ev positionEvent) {
	e.inMu.Lock()
	e.inbox = append(e.inbox, ev)
	e.inMu.Unlock()

	select {
	case e.inboxCh <- struct{}{}:
	default:
	}
}

func (e *Engine) drainInbox() {
	for {
		e.inMu.Lock()
		if len(e.inbox) == 0 {
			e.inMu.Unlock()
			return
		}
		ev := e.inbox[0]
		e.inbox[0] = positionEvent{}
		e.inbox = e.inbox[1:]
		e.inMu.Unlock()

		if ev.err != nil {
			e.onPositionError(ev.gen, ev.err)
		} else {
			e.onPositionUpdate(ev.gen, ev.pos)
		}
	}
}

func (e *Engine) start(route *Route) error {
	e.release()

	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(context.Background())
	e.abortMu.Lock()
	e.abort = cancel
	e.abortMu.Unlock()

	steps := route.Steps()
	e.sess = session{
		id:        uuid.NewString(),
		route:     route,
		steps:     steps,
		index:     0,
		status:    StatusActive,
		ctx:       ctx,
		startedAt: e.now(),
	}

	sub, err := e.cfg.Positions.Subscribe(
		func(p Position) { e.enqueue(positionEvent{gen: gen, pos: p}) },
		func(err error) { e.enqueue(positionEvent{gen: gen, err: err}) },
		e.cfg.Watch,
	)
	if err != nil {
		e.release()
		e.sess.status = StatusIdle
		e.logger.Warn("navigation: position subscription failed", slog.String("error", err.Error()))
		return fmt.Errorf("castrilha: start navigation: %w", err)
	}
	e.sess.sub = sub

	e.logger.Info("navigation: started",
		slog.String("session_id", e.sess.id),
		slog.Int("steps", len(steps)))
	e.emit(Event{Type: EventStarted, StepIndex: 0, Message: route.Destination})
	return nil
}

// stop moves the session to Idle. cause is set when a position error forced it.
func (e *Engine) stop(cause error) {
	wasRunning := e.sess.status != StatusIdle
	e.release()
	e.sess.status = StatusIdle
	if !wasRunning {
		return
	}
	ev := Event{Type: EventStopped, StepIndex: e.sess.index}
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.logger.Info("navigation: stopped",
		slog.String("session_id", e.sess.id),
		slog.Int("step_index", e.sess.index))
	e.emit(ev)
}

// release cancels the subscription and session context. Queued callbacks for
// the released session are discarded because the generation moves on.
func (e *Engine) release() {
	if e.sess.sub != nil {
		e.sess.sub.Cancel()
		e.sess.sub = nil
	}
	e.abortMu.Lock()
	if e.abort != nil {
		e.abort()
		e.abort = nil
	}
	e.abortMu.Unlock()
	e.gen++
}

func (e *Engine) teardown() {
	e.release()
	if e.sess.status == StatusActive {
		e.sess.status = StatusIdle
	}
}

func (e *Engine) onPositionUpdate(gen uint64, p Position) {
	if gen != e.gen || e.sess.status != StatusActive {
		return
	}
	fix := p
	e.sess.lastFix = &fix
	e.emit(Event{Type: EventPosition, StepIndex: e.sess.index, Position: &fix})

	if e.sess.index >= len(e.sess.steps) {
		e.advance(e.sess.index)
		return
	}
	target := e.sess.steps[e.sess.index].Start
	if WithinTrigger(p.LatLng, target) {
		e.advance(e.sess.index)
	}
}

func (e *Engine) onPositionError(gen uint64, err error) {
	if gen != e.gen || e.sess.status != StatusActive {
		return
	}
	if !errors.Is(err, ErrPositionPermissionDenied) && !errors.Is(err, ErrPositionUnavailable) {
		err = fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	e.logger.Warn("navigation: position lost, stopping",
		slog.String("session_id", e.sess.id),
		slog.String("error", err.Error()))
	e.emit(Event{Type: EventPositionLost, StepIndex: e.sess.index, Error: err.Error(), Message: UserMessage(err)})
	e.stop(err)
}

func (e *Engine) advance(stepIndex int) {
	if stepIndex >= len(e.sess.steps) {
		msg := StripMarkup(e.cfg.ArrivalMessage)
		aborted := e.dispatch(e.cfg.Formatter.FormatText(e.cfg.ArrivalMessage), msg, len(e.sess.steps))
		if aborted {
			return
		}
		e.sess.index = len(e.sess.steps)
		e.release()
		e.sess.status = StatusCompleted
		e.logger.Info("navigation: arrived", slog.String("session_id", e.sess.id))
		e.emit(Event{Type: EventArrived, StepIndex: e.sess.index, Message: msg})
		return
	}

	step := e.sess.steps[stepIndex]
	msg := step.CleanInstruction()
	if aborted := e.dispatch(e.cfg.Formatter.Format(step), msg, stepIndex); aborted {
		return
	}
	e.sess.index = stepIndex + 1
	e.emit(Event{Type: EventInstruction, StepIndex: stepIndex, Message: msg})
}

// dispatch writes one frame. Failures are reported but never abort the
// session. It returns true when the write was cut short by Stop.
func (e *Engine) dispatch(frame []byte, msg string, stepIndex int) bool {
	ctx := e.sess.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	err := e.cfg.Dispatcher.Write(ctx, frame)
	cancel()

	if err == nil {
		e.sess.lastMessage = msg
		e.logger.Debug("navigation: dispatched",
			slog.String("session_id", e.sess.id),
			slog.Int("step_index", stepIndex),
			slog.String("message", msg))
		return false
	}
	if e.sess.ctx != nil && e.sess.ctx.Err() != nil {
		return true
	}
	e.sess.lastMessage = msg
	if !errors.Is(err, ErrLinkWriteFailed) && !errors.Is(err, ErrLinkNotConnected) {
		err = fmt.Errorf("%w: %v", ErrLinkWriteFailed, err)
	}
	e.logger.Warn("navigation: dispatch failed",
		slog.String("session_id", e.sess.id),
		slog.Int("step_index", stepIndex),
		slog.String("error", err.Error()))
	e.emit(Event{Type: EventDispatchFailed, StepIndex: stepIndex, Message: msg, Error: err.Error()})
	return false
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Status:      e.sess.status,
		StepIndex:   e.sess.index,
		TotalSteps:  len(e.sess.steps),
		LastMessage: e.sess.lastMessage,
	}
	if e.sess.route != nil {
		snap.SessionID = e.sess.id
		snap.Route = e.sess.route
		snap.StartedAt = e.sess.startedAt
	}
	if e.sess.lastFix != nil {
		fix := *e.sess.lastFix
		snap.LastFix = &fix
	}
	return snap
}

func (e *Engine) emit(ev Event) {
	if e.cfg.OnEvent == nil {
		return
	}
	ev.SessionID = e.sess.id
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.cfg.OnEvent(ev)
}
