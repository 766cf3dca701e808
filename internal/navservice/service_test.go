package navservice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/link"
	"github.com/castrilha/castrilha/position"
	"github.com/castrilha/castrilha/store"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type stubRouter struct {
	route *castrilha.Route
	err   error
	last  castrilha.RouteRequest
}

func (r *stubRouter) Route(_ context.Context, req castrilha.RouteRequest) (*castrilha.Route, error) {
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	return r.route, nil
}

var (
	stepA = castrilha.LatLng{Lat: -23.5500, Lng: -46.6300}
	stepB = castrilha.LatLng{Lat: -23.5400, Lng: -46.6300}
	end   = castrilha.LatLng{Lat: -23.5300, Lng: -46.6300}
)

func testRoute() *castrilha.Route {
	return &castrilha.Route{
		Origin:      "Praça da Sé",
		Destination: "Avenida Paulista",
		Legs: []castrilha.Leg{{
			Steps: []castrilha.Step{
				{Instruction: "Siga na direção <b>norte</b>", DistanceText: "1,1 km", Start: stepA, End: stepB},
				{Instruction: "Vire à <b>direita</b>", DistanceText: "1,1 km", Start: stepB, End: end},
			},
		}},
	}
}

type env struct {
	svc     *Service
	nav     *castrilha.Navigator
	device  *syncBuffer
	router  *stubRouter
	tracker *position.Tracker
}

// gateSource stays silent until a fix is pushed; started is signalled when
// a stream begins.
type gateSource struct {
	fixes   chan castrilha.Position
	started chan struct{}
}

func newGateSource() *gateSource {
	return &gateSource{fixes: make(chan castrilha.Position), started: make(chan struct{}, 4)}
}

func (g *gateSource) Stream(ctx context.Context, emit func(castrilha.Position), _ func(error)) error {
	g.started <- struct{}{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-g.fixes:
			emit(p)
		}
	}
}

// failingStore accepts reads but fails every write.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Set(key, value string) error {
	return errors.New("disk full")
}

func newEnv(t *testing.T, fixes ...castrilha.Position) *env {
	t.Helper()
	return newEnvWith(t, position.NewReplayFixes(fixes, 10*time.Millisecond, true), store.NewMemory())
}

func newEnvWith(t *testing.T, src position.Source, kv store.KV) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	device := &syncBuffer{}
	lnk := link.New(link.NewConsoleTransport(device), link.WithLogger(logger))
	tracker := position.NewTracker(src, position.WithLogger(logger))
	router := &stubRouter{route: testRoute()}

	nav, err := castrilha.New(castrilha.Config{
		RouteStore: kv,
		Positions:  tracker,
		Dispatcher: lnk,
		Router:     router,
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { nav.Close() })

	svc := New(Deps{
		Navigator:   nav,
		Link:        lnk,
		Positions:   tracker.Probe,
		AutoConnect: true,
		Language:    "pt-BR",
		Logger:      logger,
	})
	return &env{svc: svc, nav: nav, device: device, router: router, tracker: tracker}
}

func TestStartSavedRouteConnectsAndDispatches(t *testing.T) {
	e := newEnv(t, castrilha.Position{LatLng: stepA})
	_, err := e.svc.PutRoute("trabalho", testRoute(), false)
	require.NoError(t, err)

	route, err := e.svc.Start(context.Background(), StartRequest{Name: "trabalho"})
	require.NoError(t, err)
	assert.Equal(t, "Avenida Paulista", route.Destination)

	assert.Eventually(t, func() bool {
		return strings.Contains(e.device.String(), "Siga na direção norte\n")
	}, 2*time.Second, 10*time.Millisecond)

	st := e.svc.Status()
	assert.Equal(t, link.StatusConnected, st.Link.Status)
	assert.Equal(t, castrilha.StatusActive, st.Navigation.Status)

	next, err := e.svc.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, next.StepIndex)
	assert.Equal(t, "Vire à direita", next.Text)
	assert.Equal(t, 1, next.Remaining)
	assert.InDelta(t, 1112, next.MetersAway, 5)

	require.NoError(t, e.svc.Stop())
	assert.Equal(t, castrilha.StatusIdle, e.svc.Status().Navigation.Status)
	_, err = e.svc.Next()
	assert.ErrorIs(t, err, castrilha.ErrNotNavigating)
}

func TestAdvanceAnnouncesNextStep(t *testing.T) {
	far := castrilha.Position{LatLng: castrilha.LatLng{Lat: -23.0, Lng: -46.63}}
	e := newEnv(t, far)
	_, err := e.svc.Start(context.Background(), StartRequest{Route: testRoute()})
	require.NoError(t, err)

	require.NoError(t, e.svc.Advance())
	assert.Equal(t, "Siga na direção norte\n", e.device.String())
	require.NoError(t, e.svc.Stop())

	assert.ErrorIs(t, e.svc.Advance(), castrilha.ErrNotNavigating)
}

func TestStartNeedsExactlyOneTarget(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Start(context.Background(), StartRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.Start(context.Background(), StartRequest{Name: "a", Destination: "b"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, link.StatusDisconnected, e.svc.Status().Link.Status)
}

func TestStartUnknownSavedRoute(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Start(context.Background(), StartRequest{Name: "nada"})
	assert.ErrorIs(t, err, castrilha.ErrRouteNotFound)
}

func TestStartDestinationPlansFirst(t *testing.T) {
	e := newEnv(t, castrilha.Position{LatLng: stepA})

	// No session yet, so the origin is a one-shot fix from the tracker.
	_, err := e.svc.Start(context.Background(), StartRequest{Destination: "Avenida Paulista, 1578"})
	require.NoError(t, err)
	assert.Equal(t, "Avenida Paulista, 1578", e.router.last.Destination.Address)
	assert.Equal(t, "pt-BR", e.router.last.Language)
	require.NotNil(t, e.router.last.Origin.Location)
	assert.InDelta(t, stepA.Lat, e.router.last.Origin.Location.Lat, 1e-9)
}

func TestPlanAndSave(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Plan(ctx, PlanRequest{
		From:       "-23.5505,-46.6333",
		To:         "Avenida Paulista, 1578",
		TravelMode: castrilha.TravelWalking,
		SaveAs:     "trabalho",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Route)
	assert.Equal(t, "trabalho", res.SavedAs)
	assert.Empty(t, res.Warning)
	assert.Equal(t, castrilha.TravelWalking, e.router.last.TravelMode)

	saved := e.svc.ListRoutes()
	require.Len(t, saved, 1)
	assert.Equal(t, "trabalho", saved[0].Name)

	res, err = e.svc.Plan(ctx, PlanRequest{From: "-23.5505,-46.6333", To: "Paulista", SaveAs: "trabalho"})
	assert.ErrorIs(t, err, castrilha.ErrRouteExists)
	assert.NotNil(t, res.Route, "planned route is returned when saving fails")

	_, err = e.svc.Plan(ctx, PlanRequest{From: "-23.5505,-46.6333", To: "Paulista", SaveAs: "trabalho", Overwrite: true})
	require.NoError(t, err)
	assert.Len(t, e.svc.ListRoutes(), 1)

	got, err := e.svc.GetRoute("trabalho")
	require.NoError(t, err)
	assert.Len(t, got.Steps(), 2)

	warning, err := e.svc.DeleteRoute("trabalho")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Empty(t, e.svc.ListRoutes())
}

func TestSaveKeptWhenStorageFails(t *testing.T) {
	e := newEnvWith(t, position.NewReplayFixes(nil, 0, false), failingStore{store.NewMemory()})
	ctx := context.Background()
	want := castrilha.UserMessage(castrilha.ErrPersistFailed)

	res, err := e.svc.Plan(ctx, PlanRequest{From: "-23.5505,-46.6333", To: "Paulista", SaveAs: "trabalho"})
	require.NoError(t, err)
	require.NotNil(t, res.Route)
	assert.Equal(t, "trabalho", res.SavedAs)
	assert.Equal(t, want, res.Warning)

	warning, err := e.svc.PutRoute("casa", testRoute(), false)
	require.NoError(t, err)
	assert.Equal(t, want, warning)
	assert.Len(t, e.svc.ListRoutes(), 2)

	_, err = e.svc.Start(ctx, StartRequest{Name: "casa"})
	require.NoError(t, err, "a route kept in memory can be navigated")
	require.NoError(t, e.svc.Stop())
}

func TestStartWhileOriginFixPending(t *testing.T) {
	src := newGateSource()
	e := newEnvWith(t, src, store.NewMemory())

	type result struct {
		res PlanResult
		err error
	}
	planned := make(chan result, 1)
	go func() {
		res, err := e.svc.Plan(context.Background(), PlanRequest{To: "Avenida Paulista, 1578"})
		planned <- result{res, err}
	}()

	select {
	case <-src.started:
	case <-time.After(2 * time.Second):
		t.Fatal("origin fix was never requested")
	}

	_, err := e.svc.Start(context.Background(), StartRequest{Route: testRoute()})
	require.NoError(t, err)
	assert.Equal(t, castrilha.StatusActive, e.svc.Status().Navigation.Status)

	src.fixes <- castrilha.Position{LatLng: stepA}

	select {
	case r := <-planned:
		require.NoError(t, r.err)
		require.NotNil(t, e.router.last.Origin.Location)
		assert.InDelta(t, stepA.Lat, e.router.last.Origin.Location.Lat, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("Plan() never returned")
	}

	assert.Eventually(t, func() bool {
		return strings.Contains(e.device.String(), "Siga na direção norte\n")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, castrilha.StatusActive, e.svc.Status().Navigation.Status)
}

func TestPlanErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Plan(ctx, PlanRequest{From: "Sé"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.Plan(ctx, PlanRequest{FromIP: "8.8.8.8", To: "Paulista"})
	assert.ErrorIs(t, err, castrilha.ErrGeoIPDatabaseNotConfigured)

	e.router.err = castrilha.NewRouteError(castrilha.RouteFailureNotFound, errors.New("ZERO_RESULTS"))
	_, err = e.svc.Plan(ctx, PlanRequest{From: "Sé", To: "Lugar nenhum"})
	assert.ErrorIs(t, err, castrilha.ErrRouteRequestFailed)

	_, err = e.svc.PutRoute("  ", testRoute(), false)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestProbeCapabilities(t *testing.T) {
	e := newEnv(t, castrilha.Position{LatLng: stepA})
	e.svc.probes.Network = func(context.Context) error { return errors.New("no route to host") }

	_, ok := e.svc.Capabilities()
	assert.False(t, ok)

	caps := e.svc.ProbeCapabilities(context.Background())
	assert.True(t, caps.Transport)
	assert.True(t, caps.Position)
	assert.False(t, caps.Network)
	assert.Equal(t, "no route to host", caps.Errors[castrilha.CapabilityNetwork])

	st := e.svc.Status()
	require.NotNil(t, st.Capabilities)
	assert.False(t, st.Capabilities.Network)
}

func TestConnectAndDisconnectLink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.svc.ConnectLink(ctx))
	assert.ErrorIs(t, e.svc.ConnectLink(ctx), castrilha.ErrLinkAlreadyConnected)
	require.NoError(t, e.svc.DisconnectLink())
	assert.Equal(t, link.StatusDisconnected, e.svc.Status().Link.Status)
}
