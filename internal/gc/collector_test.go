package gc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tksoh/puro/internal/cache"
	"github.com/tksoh/puro/internal/config"
	"github.com/tksoh/puro/internal/lockfile"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
)

// Distinct hex version names for cache fixtures.
var (
	versionA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	versionB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	versionC = "cccccccccccccccccccccccccccccccccccccccc"
)

func newCollector(t *testing.T) (*Collector, *config.Context) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := &registry.Registry{Cfg: cfg}
	return New(cfg, reg, ui.Discard), cfg
}

// mkCache creates a cache directory with payload bytes and a marker whose
// mtime is lastUsed. A zero lastUsed leaves the marker out entirely.
func mkCache(t *testing.T, cfg *config.Context, version string, payload int, lastUsed time.Time) {
	t.Helper()
	dir := filepath.Join(cfg.CachesDir(), version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "payload.bin"), make([]byte, payload), 0o644); err != nil {
		t.Fatal(err)
	}
	if lastUsed.IsZero() {
		return
	}
	marker := filepath.Join(dir, cache.MarkerName)
	if err := os.WriteFile(marker, []byte(version+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(marker, lastUsed, lastUsed); err != nil {
		t.Fatal(err)
	}
}

func pinEnv(t *testing.T, cfg *config.Context, name, version string) {
	t.Helper()
	dir, err := cfg.EnvDir(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.SaveMeta(dir, &registry.Meta{EngineVersion: version}); err != nil {
		t.Fatal(err)
	}
}

func cacheExists(cfg *config.Context, version string) bool {
	_, err := os.Stat(filepath.Join(cfg.CachesDir(), version))
	return err == nil
}

func TestCollect_retentionFloorKeepsNewest(t *testing.T) {
	c, cfg := newCollector(t)
	// A on day 1, B on day 2, C on day 3.
	base := time.Now().Add(-72 * time.Hour)
	mkCache(t, cfg, versionA, 100, base)
	mkCache(t, cfg, versionB, 200, base.Add(24*time.Hour))
	mkCache(t, cfg, versionC, 400, base.Add(48*time.Hour))

	reclaimed, err := c.Collect(context.Background(), 1)
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	if cacheExists(cfg, versionA) || cacheExists(cfg, versionB) {
		t.Error("the two oldest caches should be deleted")
	}
	if !cacheExists(cfg, versionC) {
		t.Error("the newest cache should be retained")
	}
	// size(A) + size(B) plus their markers.
	markers := int64(2 * (len(versionA) + 1))
	if want := int64(100+200) + markers; reclaimed != want {
		t.Errorf("reclaimed = %d, want %d", reclaimed, want)
	}
}

func TestCollect_neverDeletesReferencedCache(t *testing.T) {
	c, cfg := newCollector(t)
	// A is ancient but referenced; B is fresh and unreferenced.
	old := time.Now().Add(-240 * time.Hour)
	mkCache(t, cfg, versionA, 100, old)
	mkCache(t, cfg, versionB, 100, time.Now())
	pinEnv(t, cfg, "foo", versionA)

	if _, err := c.Collect(context.Background(), 0); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	if !cacheExists(cfg, versionA) {
		t.Error("referenced cache must never be deleted, regardless of age")
	}
	if cacheExists(cfg, versionB) {
		t.Error("unreferenced cache should be deleted with floor 0")
	}
}

func TestCollect_shortCircuitBelowFloor(t *testing.T) {
	c, cfg := newCollector(t)
	mkCache(t, cfg, versionA, 100, time.Now())

	reclaimed, err := c.Collect(context.Background(), 5)
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if reclaimed != 0 {
		t.Errorf("reclaimed = %d, want 0", reclaimed)
	}
	if !cacheExists(cfg, versionA) {
		t.Error("nothing should be deleted below the retention floor")
	}
}

func TestCollect_missingMarkerDeletedFirst(t *testing.T) {
	c, cfg := newCollector(t)
	// A carries a marker; B has none, which counts as oldest possible.
	mkCache(t, cfg, versionA, 100, time.Now().Add(-time.Hour))
	mkCache(t, cfg, versionB, 100, time.Time{})

	if _, err := c.Collect(context.Background(), 1); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if cacheExists(cfg, versionB) {
		t.Error("cache with missing marker should be prioritized for deletion")
	}
	if !cacheExists(cfg, versionA) {
		t.Error("marked cache should survive with floor 1")
	}
}

func TestCollect_sweepsStrayArchives(t *testing.T) {
	c, cfg := newCollector(t)
	if err := os.MkdirAll(cfg.CachesDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(cfg.CachesDir(), versionA+".zip")
	if err := os.WriteFile(stray, make([]byte, 50), 0o644); err != nil {
		t.Fatal(err)
	}

	reclaimed, err := c.Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray archive should be removed")
	}
	if reclaimed != 50 {
		t.Errorf("reclaimed = %d, want 50", reclaimed)
	}
}

func TestCollect_skipsForeignDirectories(t *testing.T) {
	c, cfg := newCollector(t)
	foreign := filepath.Join(cfg.CachesDir(), "not-a-version")
	if err := os.MkdirAll(foreign, 0o755); err != nil {
		t.Fatal(err)
	}
	mkCache(t, cfg, versionA, 100, time.Now())

	if _, err := c.Collect(context.Background(), 0); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Error("directories outside the cache naming convention must be left alone")
	}
}

func TestRemoveTree_vanishedDirCountsZero(t *testing.T) {
	// A candidate deleted out from under the pass contributes nothing and
	// does not fail it.
	gone := filepath.Join(t.TempDir(), "already-gone")
	n, err := removeTree(context.Background(), gone)
	if err != nil {
		t.Fatalf("removeTree() error: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed = %d, want 0", n)
	}
}

func TestRemoveTree_givesUpAfterRetries(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not bind root")
	}
	parent := t.TempDir()
	victim := filepath.Join(parent, "victim")
	if err := os.MkdirAll(victim, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(victim, "payload.bin"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}

	// Sizing can read the tree but deletion needs write access to the
	// parent, so every attempt fails.
	if err := os.Chmod(parent, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

	start := time.Now()
	_, err := removeTree(context.Background(), victim)
	if err == nil {
		t.Fatal("expected removal to fail after retries")
	}
	if !strings.Contains(err.Error(), "removing") {
		t.Errorf("error = %v, want a wrapped removal error", err)
	}
	// Two backoff sleeps (50ms then 100ms) separate the three attempts.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("gave up after %v, expected backoff between attempts", elapsed)
	}
}

func TestCollect_waitsForVersionLockBeforeDeleting(t *testing.T) {
	c, cfg := newCollector(t)
	mkCache(t, cfg, versionA, 100, time.Now().Add(-time.Hour))

	// A concurrent ensure of the same version holds its per-version lock.
	held, err := lockfile.Acquire(cfg.LockPath("engine-" + versionA))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Collect(context.Background(), 0)
		done <- err
	}()

	// The pass must not delete the cache while the version lock is held.
	time.Sleep(100 * time.Millisecond)
	if !cacheExists(cfg, versionA) {
		t.Fatal("cache deleted while its version lock was held")
	}

	if err := held.Release(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if cacheExists(cfg, versionA) {
		t.Error("cache should be deleted once the version lock is free")
	}
}

func TestCollect_emptyRootReturnsZero(t *testing.T) {
	c, _ := newCollector(t)
	reclaimed, err := c.Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if reclaimed != 0 {
		t.Errorf("reclaimed = %d, want 0", reclaimed)
	}
}
