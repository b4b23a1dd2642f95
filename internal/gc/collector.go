// Package gc evicts engine caches no environment references, subject to a
// retention floor of most-recently-used unreferenced caches, and sweeps
// interrupted-download archives out of the shared caches root.
package gc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tksoh/puro/internal/cache"
	"github.com/tksoh/puro/internal/config"
	"github.com/tksoh/puro/internal/lockfile"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
)

// Collector scans environments and shared caches and deletes what nothing
// references. It only ever deletes; the cache store is the sole writer of
// cache contents.
type Collector struct {
	CachesRoot string
	Registry   *registry.Registry
	Progress   ui.Sink

	lockPath    string
	versionLock func(version string) string
}

// New creates a collector over the configured caches root.
func New(cfg *config.Context, reg *registry.Registry, progress ui.Sink) *Collector {
	return &Collector{
		CachesRoot: cfg.CachesDir(),
		Registry:   reg,
		Progress:   progress,
		lockPath:   cfg.LockPath("gc"),
		versionLock: func(version string) string {
			return cfg.LockPath("engine-" + version)
		},
	}
}

type candidate struct {
	version  string
	lastUsed time.Time
}

// Collect deletes unreferenced caches beyond the maxUnused most recently
// used and sweeps stray download archives. Returns the bytes reclaimed.
// A cache referenced by any existing environment is never deleted,
// irrespective of access recency.
func (c *Collector) Collect(ctx context.Context, maxUnused int) (int64, error) {
	if maxUnused < 0 {
		return 0, fmt.Errorf("retention floor must not be negative: %d", maxUnused)
	}

	lock, err := lockfile.Acquire(c.lockPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = lock.Release() }()

	entries, err := os.ReadDir(c.CachesRoot)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading caches root: %w", err)
	}
	if len(entries) < maxUnused {
		return 0, nil
	}

	referenced, err := c.referencedVersions()
	if err != nil {
		return 0, err
	}

	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() || !cache.ValidVersion(e.Name()) || referenced[e.Name()] {
			continue
		}
		// A missing marker means an incomplete prior deletion or corrupt
		// state; the zero time puts it first in line.
		var lastUsed time.Time
		if info, err := os.Stat(filepath.Join(c.CachesRoot, e.Name(), cache.MarkerName)); err == nil {
			lastUsed = info.ModTime()
		}
		candidates = append(candidates, candidate{version: e.Name(), lastUsed: lastUsed})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})

	var reclaimed int64
	if len(candidates) > maxUnused {
		for _, cand := range candidates[:len(candidates)-maxUnused] {
			n, err := c.removeCache(ctx, cand.version)
			if err != nil {
				return reclaimed, err
			}
			c.Progress.Logf("removed engine cache %s", cand.version)
			reclaimed += n
		}
	}

	n, err := c.sweepArchives(entries)
	if err != nil {
		return reclaimed, err
	}
	return reclaimed + n, nil
}

// removeCache deletes one cache directory under that version's lock, so a
// concurrent ensure of the same version never sees a half-deleted tree.
func (c *Collector) removeCache(ctx context.Context, version string) (int64, error) {
	lock, err := lockfile.Acquire(c.versionLock(version))
	if err != nil {
		return 0, err
	}
	defer func() { _ = lock.Release() }()
	return removeTree(ctx, filepath.Join(c.CachesRoot, version))
}

// referencedVersions collects the engine versions pinned by existing
// environments.
func (c *Collector) referencedVersions() (map[string]bool, error) {
	envs, err := c.Registry.Environments()
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool)
	for _, env := range envs {
		if env.EngineVersion != "" {
			refs[env.EngineVersion] = true
		}
	}
	return refs, nil
}

// sweepArchives removes interrupted-download artifacts left directly in the
// caches root.
func (c *Collector) sweepArchives(entries []os.DirEntry) (int64, error) {
	var reclaimed int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		path := filepath.Join(c.CachesRoot, e.Name())
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return reclaimed, fmt.Errorf("inspecting %s: %w", path, err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return reclaimed, fmt.Errorf("removing %s: %w", path, err)
		}
		c.Progress.Logf("removed stray archive %s", e.Name())
		reclaimed += info.Size()
	}
	return reclaimed, nil
}

// removeTree sizes then deletes a cache directory. Entries that vanish
// mid-walk contribute zero size; "directory not empty" races get a bounded
// retry before failing the pass.
func removeTree(ctx context.Context, dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", dir, err)
	}

	backoff := 50 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := os.RemoveAll(dir)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return size, nil
		}
		if attempt == 2 {
			return 0, fmt.Errorf("removing %s: %w", dir, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		backoff *= 2
	}
}
