// Package enginesrc prepares per-environment engine source checkouts that
// share one canonical repository's object store. The canonical repository is
// the sole owner of shared history; each checkout only reads through the
// alternates indirection, so N environments building the same engine cost
// O(1) extra object storage instead of N full clones.
package enginesrc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tksoh/puro/internal/config"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/git"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
)

// syncEnv is the tailored environment for the dependency-sync tool: never
// self-update mid-run, no metrics, no bytecode litter in the checkout.
var syncEnv = []string{
	"DEPOT_TOOLS_UPDATE=0",
	"DEPOT_TOOLS_METRICS=0",
	"PYTHONDONTWRITEBYTECODE=1",
}

// Manager maintains the canonical shared engine repository and the
// per-environment checkouts over it.
type Manager struct {
	Cfg      *config.Context
	Runner   execx.Runner
	Progress ui.Sink

	// GOOS defaults to runtime.GOOS; tests override it.
	GOOS string
}

// New creates a manager for the configured shared repository.
func New(cfg *config.Context, runner execx.Runner, progress ui.Sink) *Manager {
	return &Manager{Cfg: cfg, Runner: runner, Progress: progress, GOOS: runtime.GOOS}
}

// Prepare makes env's engine source checkout ready to build at the resolved
// ref. Every step is idempotent, so an interrupted run resumes by calling
// Prepare again.
func (m *Manager) Prepare(ctx context.Context, env registry.Environment, ref, forkURL string) error {
	installer, err := InstallerFor(m.GOOS, m.Runner)
	if err != nil {
		return err
	}
	if err := installer.Ensure(ctx); err != nil {
		return err
	}

	ref, err = m.resolveRef(env, ref)
	if err != nil {
		return err
	}

	canonical, err := m.ensureCanonical(ctx, ref, forkURL)
	if err != nil {
		return err
	}

	checkout := env.EngineSourceDir()
	if !git.IsRepo(checkout) {
		m.Progress.Step("Initializing engine checkout")
		if err := git.Init(ctx, checkout); err != nil {
			return err
		}
	}
	if err := git.WriteAlternates(checkout, git.ObjectsDir(canonical)); err != nil {
		return err
	}

	// Remotes are configured fresh on every prepare.
	origin := m.Cfg.Config.EngineRepoURL
	if forkURL != "" {
		origin = forkURL
	}
	if err := git.SetRemote(ctx, checkout, "origin", origin); err != nil {
		return err
	}
	if forkURL != "" {
		if err := git.SetRemote(ctx, checkout, "upstream", m.Cfg.Config.EngineRepoURL); err != nil {
			return err
		}
	} else if err := git.RemoveRemote(ctx, checkout, "upstream"); err != nil {
		return err
	}

	m.Progress.Step(fmt.Sprintf("Checking out engine ref %s", ref))
	if err := git.Fetch(ctx, checkout, "origin"); err != nil {
		return err
	}
	if err := git.Checkout(ctx, checkout, ref); err != nil {
		return fmt.Errorf("checking out %s: %w", ref, err)
	}

	manifest := filepath.Join(env.Root, ".gclient")
	err = WriteDepsManifest(manifest, []Solution{{
		Name:     "engine/src",
		URL:      origin,
		DepsFile: "DEPS",
	}}, m.Cfg.BuildCacheDir())
	if err != nil {
		return err
	}

	return m.syncDeps(ctx, env)
}

// resolveRef picks the ref to build: the explicit argument, the
// environment's pinned engine version, then the SDK checkout's engine
// marker.
func (m *Manager) resolveRef(env registry.Environment, ref string) (string, error) {
	if ref != "" {
		return ref, nil
	}
	if env.EngineVersion != "" {
		return env.EngineVersion, nil
	}
	marker := env.EngineMarkerFile()
	data, err := os.ReadFile(marker)
	if err != nil {
		return "", fmt.Errorf(
			"cannot resolve an engine ref for %s: no --ref, no pinned engine version, and no marker file at %s",
			env.Name, marker)
	}
	return strings.TrimSpace(string(data)), nil
}

// ensureCanonical guarantees the shared repository exists and contains the
// ref, synchronizing from upstream when a fork is in play or the ref is
// absent. Returns the canonical repository path.
func (m *Manager) ensureCanonical(ctx context.Context, ref, forkURL string) (string, error) {
	canonical := m.Cfg.SharedRepoDir()
	if !git.IsRepo(canonical) {
		m.Progress.Step("Creating shared engine repository")
		if err := git.InitBare(ctx, canonical); err != nil {
			return "", err
		}
	}
	if err := git.SetRemote(ctx, canonical, "origin", m.Cfg.Config.EngineRepoURL); err != nil {
		return "", err
	}
	if forkURL != "" || !git.HasCommit(ctx, canonical, ref) {
		m.Progress.Step("Syncing shared engine repository")
		if err := git.FetchMirror(ctx, canonical, "origin"); err != nil {
			return "", err
		}
	}
	return canonical, nil
}

// syncDeps runs the external dependency-sync tool in the environment root.
// A non-zero exit is fatal and the tool's raw output is surfaced.
func (m *Manager) syncDeps(ctx context.Context, env registry.Environment) error {
	m.Progress.Step("Syncing engine build dependencies")
	// A full sync moves gigabytes; the default subprocess timeout would kill
	// a healthy run.
	if _, err := m.Runner.Run(ctx, execx.Cmd{
		Name:    m.Cfg.Config.DepsSyncTool,
		Args:    []string{"sync"},
		Dir:     env.Root,
		Env:     syncEnv,
		Timeout: execx.NoTimeout,
	}); err != nil {
		return fmt.Errorf("syncing engine dependencies: %w", err)
	}
	return nil
}
