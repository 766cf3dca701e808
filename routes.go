package castrilha

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castrilha/castrilha/store"
)

// DefaultRoutesKey is the single key under which the saved-route
// collection is persisted.
const DefaultRoutesKey = "savedNavigationRoutes"

// RouteStore keeps named route plans. The whole collection is held in memory
// and persisted as one JSON array of {name, route} entries under one key.
// Operations are synchronous; a failed write leaves the in-memory change in
// place and returns an error wrapping ErrPersistFailed.
type RouteStore struct {
	mu      sync.RWMutex
	kv      store.KV
	key     string
	entries []SavedRoute
	logger  *slog.Logger
	now     func() time.Time
}

// OpenRouteStore loads the collection from kv. A missing key yields an
// empty collection; unreadable contents are logged and treated as empty.
func OpenRouteStore(kv store.KV, key string, logger *slog.Logger) (*RouteStore, error) {
	if kv == nil {
		return nil, errors.New("castrilha: route store requires a backend")
	}
	if key == "" {
		key = DefaultRoutesKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &RouteStore{
		kv:     kv,
		key:    key,
		logger: logger,
		now:    time.Now,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the collection from the backend.
func (s *RouteStore) Reload() error {
	raw, err := s.kv.Get(s.key)
	if errors.Is(err, store.ErrNotFound) {
		s.mu.Lock()
		s.entries = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("castrilha: failed to load saved routes: %w", err)
	}

	var entries []SavedRoute
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("saved routes unreadable, starting empty",
			slog.String("key", s.key),
			slog.String("error", err.Error()))
		entries = nil
	}

	// Drop entries that cannot be addressed or navigated. A repeated name
	// keeps the last entry at the first entry's position.
	kept := make([]SavedRoute, 0, len(entries))
	at := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.Route == nil {
			continue
		}
		if i, ok := at[e.Name]; ok {
			kept[i] = e
			continue
		}
		at[e.Name] = len(kept)
		kept = append(kept, e)
	}

	s.mu.Lock()
	s.entries = kept
	s.mu.Unlock()
	return nil
}

// Save upserts route under name. An existing entry keeps its position.
// Overwrite confirmation is the caller's responsibility.
func (s *RouteStore) Save(name string, route *Route) error {
	if name == "" {
		return errors.New("castrilha: saved route name is empty")
	}
	if route == nil {
		return ErrInvalidRoute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := SavedRoute{Name: name, Route: route, SavedAt: s.now().UTC()}
	replaced := false
	for i := range s.entries {
		if s.entries[i].Name == name {
			s.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, entry)
	}
	return s.persistLocked()
}

// Load returns the route saved under name.
func (s *RouteStore) Load(name string) (*Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Name == name {
			return e.Route, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, name)
}

// Exists reports whether a route is saved under name.
func (s *RouteStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// List returns a copy of the collection in stored order.
func (s *RouteStore) List() []SavedRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SavedRoute, len(s.entries))
	copy(out, s.entries)
	return out
}

// Delete removes the route saved under name. Deleting a missing name is a no-op.
func (s *RouteStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.Name == name {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return s.persistLocked()
		}
	}
	return nil
}

func (s *RouteStore) persistLocked() error {
	entries := s.entries
	if entries == nil {
		entries = []SavedRoute{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := s.kv.Set(s.key, string(data)); err != nil {
		s.logger.Warn("failed to persist saved routes",
			slog.String("key", s.key),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}
