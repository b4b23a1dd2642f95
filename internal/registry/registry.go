// Package registry enumerates environments: the fixed pseudo-environment
// channel slots, every valid-named directory under the envs root, and the
// project-scoped and global default selections.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tksoh/puro/internal/config"
)

// VersionReader resolves the SDK version of an existing environment. The
// cache store provides the canonical implementation.
type VersionReader interface {
	SDKVersion(ctx context.Context, env Environment) (string, error)
}

// Registry lists environments and resolves default selections.
type Registry struct {
	Cfg *config.Context
	// Versions is optional; without it entries carry no SDK version.
	Versions VersionReader
}

// Entry pairs an environment with its resolved SDK version, empty when the
// environment does not exist or its version cannot be determined.
type Entry struct {
	Env        Environment
	SDKVersion string
}

// Get loads a single environment by name, including its pinned engine
// version when metadata exists.
func (r *Registry) Get(name string) (Environment, error) {
	if !ValidName(name) && !IsPseudo(name) {
		return Environment{}, fmt.Errorf("invalid environment name %q", name)
	}
	root, err := r.Cfg.EnvDir(name)
	if err != nil {
		return Environment{}, err
	}
	env := Environment{Name: name, Root: root}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return env, nil
	}
	env.Exists = true
	meta, err := LoadMeta(root)
	if err != nil {
		return Environment{}, err
	}
	env.EngineVersion = meta.EngineVersion
	return env, nil
}

// Environments returns every existing valid-named environment on disk,
// sorted by name. The reserved name and invalid names are skipped.
func (r *Registry) Environments() ([]Environment, error) {
	entries, err := os.ReadDir(r.Cfg.EnvsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading environments root: %w", err)
	}

	var envs []Environment
	for _, e := range entries {
		if !e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		env, err := r.Get(e.Name())
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
	return envs, nil
}

// List emits the pseudo-environments first in fixed order, then every other
// on-disk environment sorted by name. Each pseudo-environment appears exactly
// once whether or not it has been created.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for _, name := range PseudoEnvironments {
		env, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r.entry(ctx, env))
	}

	envs, err := r.Environments()
	if err != nil {
		return nil, err
	}
	for _, env := range envs {
		if IsPseudo(env.Name) {
			continue
		}
		out = append(out, r.entry(ctx, env))
	}
	return out, nil
}

func (r *Registry) entry(ctx context.Context, env Environment) Entry {
	e := Entry{Env: env}
	if !env.Exists || r.Versions == nil {
		return e
	}
	if v, err := r.Versions.SDKVersion(ctx, env); err == nil {
		e.SDKVersion = v
	}
	return e
}

// GlobalDefault returns the process-wide default environment name, or empty
// when none is set.
func (r *Registry) GlobalDefault() string {
	data, err := os.ReadFile(r.Cfg.GlobalDefaultPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetGlobalDefault records the process-wide default environment.
func (r *Registry) SetGlobalDefault(name string) error {
	if err := os.MkdirAll(r.Cfg.Root, 0o755); err != nil {
		return fmt.Errorf("creating root: %w", err)
	}
	if err := os.WriteFile(r.Cfg.GlobalDefaultPath(), []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing global default: %w", err)
	}
	return nil
}

// ProjectDefault walks from startDir to the filesystem root looking for the
// nearest project dotfile and returns the environment name it holds, or
// empty when no project default applies.
func (r *Registry) ProjectDefault(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		data, err := os.ReadFile(filepath.Join(dir, config.DotfileName))
		if err == nil {
			return strings.TrimSpace(string(data))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// WriteProjectDefault records the project-scoped default environment in dir.
func (r *Registry) WriteProjectDefault(dir, name string) error {
	if err := os.WriteFile(filepath.Join(dir, config.DotfileName), []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing project default: %w", err)
	}
	return nil
}
