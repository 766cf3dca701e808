package castrilha

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/castrilha/castrilha/store"
)

// failingKV fails every Set after reads succeed.
type failingKV struct {
	*store.MemoryStore
}

func (f failingKV) Set(key, value string) error {
	return errors.New("disk full")
}

func TestRouteStoreSaveOverwrites(t *testing.T) {
	kv := store.NewMemory()
	rs, err := OpenRouteStore(kv, "", nil)
	if err != nil {
		t.Fatalf("OpenRouteStore() error = %v", err)
	}

	if err := rs.Save("casa", threeStepRoute()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := rs.Save("trabalho", threeStepRoute()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	updated := threeStepRoute()
	updated.Destination = "Rua Nova"
	if err := rs.Save("casa", updated); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}

	list := rs.List()
	if len(list) != 2 {
		t.Fatalf("List() has %d entries, want 2", len(list))
	}
	count := 0
	for _, e := range list {
		if e.Name == "casa" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("List() has %d entries named casa, want 1", count)
	}
	if list[0].Name != "casa" || list[0].Route.Destination != "Rua Nova" {
		t.Errorf("overwritten entry = %+v, want casa/Rua Nova in first position", list[0])
	}
	if list[0].SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}
}

func TestRouteStorePersistsUnderFixedKey(t *testing.T) {
	kv := store.NewMemory()
	rs, _ := OpenRouteStore(kv, "", nil)
	rs.Save("casa", threeStepRoute())

	raw, err := kv.Get(DefaultRoutesKey)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", DefaultRoutesKey, err)
	}
	if !strings.HasPrefix(raw, `[{"name":"casa","route":`) {
		t.Errorf("stored JSON = %s, want array of {name, route}", raw)
	}

	// A second store over the same backend sees the entry.
	again, err := OpenRouteStore(kv, "", nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	route, err := again.Load("casa")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(route.Steps()) != 3 {
		t.Errorf("loaded route has %d steps, want 3", len(route.Steps()))
	}
}

func TestRouteStoreLoadMissing(t *testing.T) {
	rs, _ := OpenRouteStore(store.NewMemory(), "", nil)

	if _, err := rs.Load("nada"); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("Load() error = %v, want ErrRouteNotFound", err)
	}
}

func TestRouteStoreDelete(t *testing.T) {
	rs, _ := OpenRouteStore(store.NewMemory(), "", nil)
	rs.Save("a", threeStepRoute())
	rs.Save("b", threeStepRoute())
	rs.Save("c", threeStepRoute())

	if err := rs.Delete("b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := rs.Delete("missing"); err != nil {
		t.Errorf("Delete() of missing name error = %v", err)
	}

	list := rs.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "c" {
		t.Errorf("List() after delete = %v, want [a c]", names(list))
	}
}

func TestRouteStoreCorruptData(t *testing.T) {
	kv := store.NewMemory()
	kv.Set(DefaultRoutesKey, "{not json")

	rs, err := OpenRouteStore(kv, "", nil)
	if err != nil {
		t.Fatalf("OpenRouteStore() error = %v", err)
	}
	if n := len(rs.List()); n != 0 {
		t.Errorf("List() has %d entries, want 0", n)
	}
}

func TestRouteStoreLoadKeepsLastDuplicate(t *testing.T) {
	first := threeStepRoute()
	first.Destination = "Rua Velha"
	last := threeStepRoute()
	last.Destination = "Rua Nova"
	raw, err := json.Marshal([]SavedRoute{
		{Name: "casa", Route: first},
		{Name: "trabalho", Route: threeStepRoute()},
		{Name: "casa", Route: last},
	})
	if err != nil {
		t.Fatal(err)
	}
	kv := store.NewMemory()
	kv.Set(DefaultRoutesKey, string(raw))

	rs, err := OpenRouteStore(kv, "", nil)
	if err != nil {
		t.Fatalf("OpenRouteStore() error = %v", err)
	}
	list := rs.List()
	if got := names(list); strings.Join(got, ",") != "casa,trabalho" {
		t.Fatalf("List() = %v, want [casa trabalho]", got)
	}
	if list[0].Route.Destination != "Rua Nova" {
		t.Errorf("casa destination = %q, want the last stored entry", list[0].Route.Destination)
	}
	if err := rs.Delete("casa"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if rs.Exists("casa") {
		t.Error("casa still present after a single delete")
	}
}

func TestRouteStorePersistFailureIsNonFatal(t *testing.T) {
	rs, err := OpenRouteStore(failingKV{store.NewMemory()}, "", nil)
	if err != nil {
		t.Fatalf("OpenRouteStore() error = %v", err)
	}

	err = rs.Save("casa", threeStepRoute())
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("Save() error = %v, want ErrPersistFailed", err)
	}
	if !rs.Exists("casa") {
		t.Error("in-memory entry lost after persist failure")
	}
}

func TestRouteStoreListIsCopy(t *testing.T) {
	rs, _ := OpenRouteStore(store.NewMemory(), "", nil)
	rs.Save("casa", threeStepRoute())

	list := rs.List()
	list[0].Name = "changed"

	if !rs.Exists("casa") {
		t.Error("List() exposed internal slice")
	}
}

func names(entries []SavedRoute) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
