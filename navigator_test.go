package castrilha

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/castrilha/castrilha/store"
)

// stubRouter returns a fixed route or error, optionally waiting on release.
type stubRouter struct {
	route   *Route
	err     error
	release chan struct{}
	calls   atomic.Int32
	lastReq RouteRequest
}

func (r *stubRouter) Route(ctx context.Context, req RouteRequest) (*Route, error) {
	r.calls.Add(1)
	r.lastReq = req
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.route, nil
}

func newTestNavigator(t *testing.T, cfg Config) (*Navigator, *fakePositions, *recordingDispatcher) {
	t.Helper()
	positions := &fakePositions{}
	device := &recordingDispatcher{}
	if cfg.RouteStore == nil {
		cfg.RouteStore = store.NewMemory()
	}
	cfg.Positions = positions
	cfg.Dispatcher = device

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create Navigator: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n, positions, device
}

func TestNavigatorBasicFlow(t *testing.T) {
	router := &stubRouter{route: threeStepRoute()}
	n, positions, device := newTestNavigator(t, Config{Router: router})

	dest := ParseWaypoint("Avenida Paulista, 1578")
	origin := ParseWaypoint("-23.5505,-46.6333")
	route, err := n.Navigate(context.Background(), RouteRequest{Origin: origin, Destination: dest})
	if err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if route == nil {
		t.Fatal("Navigate() returned nil route")
	}
	if router.lastReq.Language != "pt-BR" || router.lastReq.TravelMode != TravelDriving {
		t.Errorf("request defaults = %s/%s, want pt-BR/driving", router.lastReq.Language, router.lastReq.TravelMode)
	}

	if got := n.Snapshot().Status; got != StatusActive {
		t.Fatalf("status = %s, want active", got)
	}

	positions.push(offset(step0Start, 0))
	waitFor(t, func() bool { return len(device.sent()) == 1 })

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := n.Snapshot().Status; got != StatusIdle {
		t.Errorf("status after stop = %s, want idle", got)
	}
}

func TestNavigatorDefaultSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "castrilha.db")

	n, err := New(Config{
		DatabasePath: dbPath,
		Positions:    &fakePositions{},
		Dispatcher:   &recordingDispatcher{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := n.SaveRoute("casa", threeStepRoute(), false); err != nil {
		t.Fatalf("SaveRoute() error = %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	n, err = New(Config{
		DatabasePath: dbPath,
		Positions:    &fakePositions{},
		Dispatcher:   &recordingDispatcher{},
	})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer n.Close()

	if _, err := n.LoadRoute("casa"); err != nil {
		t.Errorf("LoadRoute() after reopen error = %v", err)
	}
}

func TestNavigatorSaveRouteOverwritePolicy(t *testing.T) {
	n, _, _ := newTestNavigator(t, Config{})

	if err := n.SaveRoute("casa", threeStepRoute(), false); err != nil {
		t.Fatalf("SaveRoute() error = %v", err)
	}
	if err := n.SaveRoute("casa", threeStepRoute(), false); !errors.Is(err, ErrRouteExists) {
		t.Errorf("SaveRoute() collision error = %v, want ErrRouteExists", err)
	}
	if err := n.SaveRoute("casa", threeStepRoute(), true); err != nil {
		t.Errorf("SaveRoute() with overwrite error = %v", err)
	}
	if got := len(n.ListRoutes()); got != 1 {
		t.Errorf("ListRoutes() = %d entries, want 1", got)
	}
}

func TestNavigatorOffline(t *testing.T) {
	online := atomic.Bool{}
	router := &stubRouter{route: threeStepRoute()}
	n, _, _ := newTestNavigator(t, Config{Router: router, Online: online.Load})

	online.Store(true)
	if err := n.SaveRoute("casa", threeStepRoute(), false); err != nil {
		t.Fatalf("SaveRoute() online error = %v", err)
	}
	online.Store(false)

	req := RouteRequest{Origin: ParseWaypoint("-23.55,-46.63"), Destination: ParseWaypoint("Sé")}
	if _, err := n.Plan(context.Background(), req); !errors.Is(err, ErrOfflineFeatureUnavailable) {
		t.Errorf("Plan() offline error = %v, want ErrOfflineFeatureUnavailable", err)
	}
	if err := n.SaveRoute("outra", threeStepRoute(), false); !errors.Is(err, ErrOfflineFeatureUnavailable) {
		t.Errorf("SaveRoute() offline error = %v, want ErrOfflineFeatureUnavailable", err)
	}
	if router.calls.Load() != 0 {
		t.Errorf("router called %d times while offline", router.calls.Load())
	}

	// Saved routes still start offline.
	if _, err := n.StartSaved("casa"); err != nil {
		t.Errorf("StartSaved() offline error = %v", err)
	}
}

func TestNavigatorRouteFailureLeavesSession(t *testing.T) {
	router := &stubRouter{err: NewRouteError(RouteFailureNotFound, nil)}
	n, _, _ := newTestNavigator(t, Config{Router: router})

	if err := n.StartRoute(threeStepRoute()); err != nil {
		t.Fatalf("StartRoute() error = %v", err)
	}
	n.ForceAdvance()
	before := n.Snapshot()

	req := RouteRequest{Origin: ParseWaypoint("-23.55,-46.63"), Destination: ParseWaypoint("Lugar nenhum")}
	_, err := n.Navigate(context.Background(), req)
	if !errors.Is(err, ErrRouteRequestFailed) {
		t.Fatalf("Navigate() error = %v, want ErrRouteRequestFailed", err)
	}

	after := n.Snapshot()
	if after.SessionID != before.SessionID || after.StepIndex != before.StepIndex || after.Status != before.Status {
		t.Errorf("session changed after route failure: before=%+v after=%+v", before, after)
	}
}

func TestNavigatorStopDiscardsPendingPlan(t *testing.T) {
	router := &stubRouter{route: threeStepRoute(), release: make(chan struct{})}
	n, positions, _ := newTestNavigator(t, Config{Router: router})

	done := make(chan error, 1)
	go func() {
		req := RouteRequest{Origin: ParseWaypoint("-23.55,-46.63"), Destination: ParseWaypoint("Sé")}
		_, err := n.Navigate(context.Background(), req)
		done <- err
	}()

	waitFor(t, func() bool { return router.calls.Load() == 1 })
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	close(router.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrPlanDiscarded) {
			t.Errorf("Navigate() error = %v, want ErrPlanDiscarded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Navigate() did not return")
	}

	if got := n.Snapshot().Status; got != StatusIdle {
		t.Errorf("status = %s, want idle", got)
	}
	if subs, _ := positions.counts(); subs != 0 {
		t.Errorf("subscriptions = %d, want 0", subs)
	}
}

func TestNavigatorStopRacingPlanLeavesIdle(t *testing.T) {
	for i := 0; i < 50; i++ {
		router := &stubRouter{route: threeStepRoute(), release: make(chan struct{})}
		n, _, _ := newTestNavigator(t, Config{Router: router})

		done := make(chan error, 1)
		go func() {
			req := RouteRequest{Origin: ParseWaypoint("-23.55,-46.63"), Destination: ParseWaypoint("Sé")}
			_, err := n.Navigate(context.Background(), req)
			done <- err
		}()
		waitFor(t, func() bool { return router.calls.Load() == 1 })

		stopped := make(chan error, 1)
		go func() { stopped <- n.Stop() }()
		close(router.release)

		if err := <-stopped; err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if err := <-done; err != nil && !errors.Is(err, ErrPlanDiscarded) {
			t.Fatalf("Navigate() error = %v", err)
		}
		if got := n.Snapshot().Status; got != StatusIdle {
			t.Fatalf("iteration %d: status = %s after Stop, want idle", i, got)
		}
	}
}

func TestNavigatorPlanOriginFromLastFix(t *testing.T) {
	router := &stubRouter{route: threeStepRoute()}
	n, positions, _ := newTestNavigator(t, Config{Router: router})

	req := RouteRequest{Destination: ParseWaypoint("Sé")}
	if _, err := n.Plan(context.Background(), req); !errors.Is(err, ErrPositionUnavailable) {
		t.Fatalf("Plan() without fix error = %v, want ErrPositionUnavailable", err)
	}

	fix := offset(step0Start, 0)
	positions.mu.Lock()
	positions.last = &fix
	positions.mu.Unlock()

	if _, err := n.Plan(context.Background(), req); err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if router.lastReq.Origin.Location == nil || *router.lastReq.Origin.Location != step0Start {
		t.Errorf("origin = %+v, want last fix %v", router.lastReq.Origin, step0Start)
	}
}

func TestNavigatorStartSavedMissing(t *testing.T) {
	n, _, _ := newTestNavigator(t, Config{})

	if _, err := n.StartSaved("nada"); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("StartSaved() error = %v, want ErrRouteNotFound", err)
	}
}

func TestNavigatorLocateIPWithoutGeoIP(t *testing.T) {
	n, _, _ := newTestNavigator(t, Config{})

	if _, err := n.LocateIP("8.8.8.8"); !errors.Is(err, ErrGeoIPDatabaseNotConfigured) {
		t.Errorf("LocateIP() error = %v, want ErrGeoIPDatabaseNotConfigured", err)
	}
}

func TestNavigatorBadGeoIPPath(t *testing.T) {
	_, err := New(Config{
		RouteStore:        store.NewMemory(),
		Positions:         &fakePositions{},
		Dispatcher:        &recordingDispatcher{},
		GeoIPDatabasePath: filepath.Join(t.TempDir(), "missing.mmdb"),
	})
	if err == nil {
		t.Error("New() with missing GeoIP database should fail")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if cfg.DatabasePath != "castrilha.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.RoutesKey != "savedNavigationRoutes" {
		t.Errorf("RoutesKey = %q", cfg.RoutesKey)
	}
	if cfg.ArrivalMessage != "Você chegou ao seu destino!" {
		t.Errorf("ArrivalMessage = %q", cfg.ArrivalMessage)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.WriteTimeout)
	}
	if !cfg.Watch.HighAccuracy || cfg.Watch.Timeout != 10*time.Second {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
	if cfg.Online == nil || !cfg.Online() {
		t.Error("Online should default to always online")
	}
}
