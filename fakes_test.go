package castrilha

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakePositions is a PositionSource driven by the test.
type fakePositions struct {
	mu       sync.Mutex
	onUpdate func(Position)
	onError  func(error)
	subs     int
	cancels  int
	err      error
	opts     WatchOptions
	last     *Position

	// leaky keeps callbacks after Cancel to simulate a late delivery.
	leaky bool
}

type fakeSub struct {
	f *fakePositions
}

func (s *fakeSub) Cancel() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.cancels++
	if !s.f.leaky {
		s.f.onUpdate = nil
		s.f.onError = nil
	}
}

func (f *fakePositions) Subscribe(onUpdate func(Position), onError func(error), opts WatchOptions) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.subs++
	f.onUpdate = onUpdate
	f.onError = onError
	f.opts = opts
	return &fakeSub{f: f}, nil
}

func (f *fakePositions) Last() (Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Position{}, false
	}
	return *f.last, true
}

func (f *fakePositions) push(p Position) {
	f.mu.Lock()
	cb := f.onUpdate
	f.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (f *fakePositions) fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakePositions) counts() (subs, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs, f.cancels
}

// recordingDispatcher records every frame written to it.
type recordingDispatcher struct {
	mu     sync.Mutex
	frames []string
	err    error

	// block makes Write wait for ctx cancellation; entered is signalled first.
	block   bool
	entered chan struct{}
}

func (d *recordingDispatcher) Write(ctx context.Context, p []byte) error {
	d.mu.Lock()
	block := d.block
	entered := d.entered
	d.mu.Unlock()

	if block {
		if entered != nil {
			entered <- struct{}{}
		}
		<-ctx.Done()
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, string(p))
	return nil
}

func (d *recordingDispatcher) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.frames))
	copy(out, d.frames)
	return out
}

// eventLog collects engine events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

var (
	step0Start = LatLng{Lat: -23.5500, Lng: -46.6300}
	step1Start = LatLng{Lat: -23.5400, Lng: -46.6300}
	step2Start = LatLng{Lat: -23.5300, Lng: -46.6300}
	routeEnd   = LatLng{Lat: -23.5200, Lng: -46.6300}
)

func threeStepRoute() *Route {
	return &Route{
		Origin:      "Praça da Sé, São Paulo",
		Destination: "Avenida Paulista, 1578",
		Legs: []Leg{{
			Steps: []Step{
				{Instruction: "Siga na direção <b>norte</b>", DistanceText: "1,1 km", Start: step0Start, End: step1Start},
				{Instruction: "Vire à <b>direita</b> na <b>R. Augusta</b>", DistanceText: "1,1 km", Start: step1Start, End: step2Start},
				{Instruction: "Vire à <b>esquerda</b><div style=\"font-size:0.9em\">Destino à direita</div>", DistanceText: "1,1 km", Start: step2Start, End: routeEnd},
			},
		}},
	}
}

// offset returns a position north of p by the given degrees of latitude.
func offset(p LatLng, dLat float64) Position {
	return Position{LatLng: LatLng{Lat: p.Lat + dLat, Lng: p.Lng}, Time: time.Now()}
}

type engineHarness struct {
	engine    *Engine
	positions *fakePositions
	device    *recordingDispatcher
	events    *eventLog
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	h := &engineHarness{
		positions: &fakePositions{},
		device:    &recordingDispatcher{},
		events:    &eventLog{},
	}
	e, err := NewEngine(EngineConfig{
		Positions:  h.positions,
		Dispatcher: h.device,
		OnEvent:    h.events.record,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	h.engine = e
	return h
}

// pushAndWait delivers p and waits until the engine has processed it.
func (h *engineHarness) pushAndWait(t *testing.T, p Position) {
	t.Helper()
	before := h.events.count(EventPosition)
	h.positions.push(p)
	waitFor(t, func() bool { return h.events.count(EventPosition) > before })
	// Snapshot runs on the engine goroutine after the update completed.
	h.engine.Snapshot()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
