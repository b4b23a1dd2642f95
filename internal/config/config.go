// Package config loads the tool configuration and resolves every path under
// the root directory. All components receive paths through Context instead of
// computing them ad hoc, so the on-disk layout is defined in one place.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"gopkg.in/yaml.v3"
)

// Defaults applied when config.yaml is absent or a field is empty.
const (
	DefaultStorageBaseURL  = "https://storage.googleapis.com/flutter_infra_release"
	DefaultEngineRepoURL   = "https://github.com/flutter/engine.git"
	DefaultDepsSyncTool    = "gclient"
	DefaultMaxUnusedCaches = 3
)

// DotfileName is the project-scoped default marker searched for in ancestor
// directories.
const DotfileName = ".puro"

// Config is the user-editable portion of config.yaml.
type Config struct {
	StorageBaseURL  string `yaml:"storage_base_url,omitempty"`
	EngineRepoURL   string `yaml:"engine_repo_url,omitempty"`
	DepsSyncTool    string `yaml:"deps_sync_tool,omitempty"`
	MaxUnusedCaches int    `yaml:"max_unused_caches,omitempty"`
}

// Context holds the resolved root and loaded config.
type Context struct {
	Root   string
	Config *Config
}

// Load resolves the root directory and reads config.yaml if present.
// A missing config file yields pure defaults.
func Load(root string) (*Context, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(root, "config.yaml"))
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyDefaults(cfg)
	return &Context{Root: root, Config: cfg}, nil
}

// Parse parses and validates config.yaml content.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to {root}/config.yaml.
func (c *Context) Save() error {
	if err := validate(c.Config); err != nil {
		return err
	}
	data, err := yaml.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return fmt.Errorf("creating root: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.Root, "config.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = DefaultStorageBaseURL
	}
	if cfg.EngineRepoURL == "" {
		cfg.EngineRepoURL = DefaultEngineRepoURL
	}
	if cfg.DepsSyncTool == "" {
		cfg.DepsSyncTool = DefaultDepsSyncTool
	}
	if cfg.MaxUnusedCaches == 0 {
		cfg.MaxUnusedCaches = DefaultMaxUnusedCaches
	}
}

func validate(cfg *Config) error {
	if cfg.MaxUnusedCaches < 0 {
		return fmt.Errorf("config: max_unused_caches must not be negative: %d", cfg.MaxUnusedCaches)
	}
	for field, v := range map[string]string{
		"storage_base_url": cfg.StorageBaseURL,
		"engine_repo_url":  cfg.EngineRepoURL,
	} {
		if v != "" && !strings.Contains(v, "://") && !strings.HasPrefix(v, "git@") {
			return fmt.Errorf("config: %s must be a URL: %s", field, v)
		}
	}
	return nil
}

// EnvsDir is the parent of all environment directories.
func (c *Context) EnvsDir() string {
	return filepath.Join(c.Root, "envs")
}

// EnvDir resolves an environment directory, refusing names that would escape
// the envs root.
func (c *Context) EnvDir(name string) (string, error) {
	dir, err := securejoin.SecureJoin(c.EnvsDir(), name)
	if err != nil {
		return "", fmt.Errorf("resolving environment %q: %w", name, err)
	}
	return dir, nil
}

// CachesDir is the shared-caches root holding one directory per engine
// version plus transient download archives.
func (c *Context) CachesDir() string {
	return filepath.Join(c.Root, "caches", "engine")
}

// SharedRepoDir is the canonical shared engine repository.
func (c *Context) SharedRepoDir() string {
	return filepath.Join(c.Root, "shared", "engine.git")
}

// BuildCacheDir is the cross-environment build dependency cache.
func (c *Context) BuildCacheDir() string {
	return filepath.Join(c.Root, "shared", "build-cache")
}

// GlobalDefaultPath is the file recording the process-wide default
// environment name.
func (c *Context) GlobalDefaultPath() string {
	return filepath.Join(c.Root, "default")
}

// LockPath returns the advisory lock file for a named resource.
func (c *Context) LockPath(name string) string {
	return filepath.Join(c.Root, "locks", name+".lock")
}
