package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testKV(t *testing.T, kv KV) {
	t.Helper()

	if _, err := kv.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := kv.Set("savedNavigationRoutes", `[]`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := kv.Get("savedNavigationRoutes")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != `[]` {
		t.Errorf("Get() = %q, want %q", got, `[]`)
	}

	if err := kv.Set("savedNavigationRoutes", `[{"name":"casa"}]`); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, _ = kv.Get("savedNavigationRoutes")
	if got != `[{"name":"casa"}]` {
		t.Errorf("Get() after overwrite = %q", got)
	}

	if err := kv.Delete("savedNavigationRoutes"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := kv.Get("savedNavigationRoutes"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := kv.Delete("savedNavigationRoutes"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	testKV(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "castrilha.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer s.Close()
	testKV(t, s)
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castrilha.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	s.Close()

	s, err = NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.Get("k")
	if err != nil || got != "v" {
		t.Errorf("Get() after reopen = %q, %v; want %q", got, err, "v")
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	testKV(t, s)
}

func TestFileStore_InvalidKey(t *testing.T) {
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	for _, key := range []string{"", "..", "a/b", `a\b`} {
		if err := s.Set(key, "x"); err == nil {
			t.Errorf("Set(%q) expected error", key)
		}
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Set("routes", "value"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "routes.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory entries = %v, want [routes.json]", names)
	}
}

func TestFileStore_Watch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, "routes", nil, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Unrelated keys do not trigger the callback.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "routes.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}
