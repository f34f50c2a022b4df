package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/planwright/service"
)

const servicesOneDoc = `
services:
  - id: docs
    capability: deep-technical-doc
    endpoint: "https://docs.test"
    url_patterns: ["docs.test/**"]
    timeout: 5s
`

const servicesTwoDoc = `
services:
  - id: docs
    capability: deep-technical-doc
    endpoint: "https://docs.test"
    url_patterns: ["docs.test/**"]
    timeout: 5s
  - id: web
    capability: general-web
    url_patterns: ["**"]
    timeout: 10s
`

type tableRecorder struct {
	mu     sync.Mutex
	tables [][]service.Descriptor
	err    error
}

func (r *tableRecorder) apply(descs []service.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tables = append(r.tables, descs)
	return nil
}

func (r *tableRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

func (r *tableRecorder) last() []service.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tables) == 0 {
		return nil
	}
	return r.tables[len(r.tables)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, path string, rec *tableRecorder) *ServicesWatcher {
	t.Helper()
	w, err := NewServicesWatcher(path, rec.apply, slog.New(slog.DiscardHandler), WithDebounce(25*time.Millisecond))
	if err != nil {
		t.Fatalf("NewServicesWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestServicesWatcherAppliesInitialTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	if err := os.WriteFile(path, []byte(servicesOneDoc), 0644); err != nil {
		t.Fatal(err)
	}

	rec := &tableRecorder{}
	startWatcher(t, path, rec)

	if rec.count() != 1 {
		t.Fatalf("expected one initial apply, got %d", rec.count())
	}
	table := rec.last()
	if len(table) != 1 || table[0].ID != "docs" {
		t.Errorf("unexpected initial table: %+v", table)
	}
	if table[0].Capability != service.CapabilityDeepTechnicalDoc {
		t.Errorf("unexpected capability %s", table[0].Capability)
	}
}

func TestServicesWatcherReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	if err := os.WriteFile(path, []byte(servicesOneDoc), 0644); err != nil {
		t.Fatal(err)
	}

	rec := &tableRecorder{}
	startWatcher(t, path, rec)

	if err := os.WriteFile(path, []byte(servicesTwoDoc), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.count() >= 2 }) {
		t.Fatalf("watcher never reloaded, applies = %d", rec.count())
	}
	table := rec.last()
	if len(table) != 2 || table[1].ID != "web" {
		t.Errorf("unexpected reloaded table: %+v", table)
	}
}

func TestServicesWatcherKeepsTableOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	if err := os.WriteFile(path, []byte(servicesOneDoc), 0644); err != nil {
		t.Fatal(err)
	}

	rec := &tableRecorder{}
	startWatcher(t, path, rec)

	bad := "services:\n  - id: broken\n    capability: telepathy\n"
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}

	// Give the debounce window time to fire and reject the table.
	time.Sleep(200 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("bad table must not be applied, applies = %d", rec.count())
	}

	// The watcher stays alive and picks up the next good write.
	if err := os.WriteFile(path, []byte(servicesTwoDoc), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return rec.count() >= 2 }) {
		t.Fatalf("watcher did not recover after a bad write, applies = %d", rec.count())
	}
	if len(rec.last()) != 2 {
		t.Errorf("unexpected table after recovery: %+v", rec.last())
	}
}

func TestServicesWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	if err := os.WriteFile(path, []byte(servicesOneDoc), 0644); err != nil {
		t.Fatal(err)
	}

	rec := &tableRecorder{}
	startWatcher(t, path, rec)

	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("unrelated"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("sibling writes must not trigger reloads, applies = %d", rec.count())
	}
}

func TestServicesWatcherStartFailsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")

	rec := &tableRecorder{}
	w, err := NewServicesWatcher(path, rec.apply, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewServicesWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() must fail when the services file cannot be loaded")
	}
}

func TestLoadServicesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	if err := os.WriteFile(path, []byte(servicesTwoDoc), 0644); err != nil {
		t.Fatal(err)
	}

	descs, err := LoadServicesFile(path)
	if err != nil {
		t.Fatalf("LoadServicesFile() error = %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if descs[1].Capability != service.CapabilityGeneralWeb {
		t.Errorf("unexpected capability %s", descs[1].Capability)
	}
	if !descs[0].Enabled || !descs[1].Enabled {
		t.Error("omitted enabled must default to true")
	}
}

func TestLoadServicesFileRejectsInvalidEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	bad := "services:\n  - id: \"\"\n    capability: general-web\n"
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadServicesFile(path); err == nil {
		t.Error("expected an invalid entry to reject the whole file")
	}
}
