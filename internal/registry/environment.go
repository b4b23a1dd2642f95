package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Reserved is never a discoverable environment: it names the global default
// pointer, not an environment directory.
const Reserved = "default"

// PseudoEnvironments are the release-channel slots that exist conceptually
// before creation and are always listed first, in this order.
var PseudoEnvironments = []string{"stable", "beta", "master"}

var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether name is an acceptable environment name.
func ValidName(name string) bool {
	return name != Reserved && nameRE.MatchString(name)
}

// IsPseudo reports whether name is one of the reserved channel slots.
func IsPseudo(name string) bool {
	for _, p := range PseudoEnvironments {
		if name == p {
			return true
		}
	}
	return false
}

// Environment is a named SDK installation rooted under the envs directory.
type Environment struct {
	Name   string
	Root   string
	Exists bool
	// EngineVersion is the pinned engine version from environment.yaml,
	// empty when the environment pins none.
	EngineVersion string
}

// SDKDir is the environment's SDK checkout.
func (e Environment) SDKDir() string {
	return filepath.Join(e.Root, "flutter")
}

// SDKVersionFile records the installed SDK version inside the checkout.
func (e Environment) SDKVersionFile() string {
	return filepath.Join(e.SDKDir(), "version")
}

// EngineMarkerFile is the SDK checkout's record of the engine commit it was
// built against, used as the last-resort ref when preparing engine sources.
func (e Environment) EngineMarkerFile() string {
	return filepath.Join(e.SDKDir(), "bin", "internal", "engine.version")
}

// EngineSourceDir is the per-environment engine checkout.
func (e Environment) EngineSourceDir() string {
	return filepath.Join(e.Root, "engine")
}

// MetaPath is the environment metadata file.
func (e Environment) MetaPath() string {
	return filepath.Join(e.Root, "environment.yaml")
}

// Meta is the persisted per-environment state in environment.yaml.
type Meta struct {
	EngineVersion string `yaml:"engine_version,omitempty"`
	ForkRemoteURL string `yaml:"fork_remote_url,omitempty"`
	CreatedAt     string `yaml:"created_at,omitempty"`
}

// LoadMeta reads an environment's metadata. A missing file yields an empty
// Meta: an environment without metadata simply pins nothing.
func LoadMeta(envRoot string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(envRoot, "environment.yaml"))
	if os.IsNotExist(err) {
		return &Meta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading environment metadata: %w", err)
	}
	var m Meta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing environment metadata: %w", err)
	}
	return &m, nil
}

// SaveMeta writes an environment's metadata, creating the directory if
// needed.
func SaveMeta(envRoot string, m *Meta) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling environment metadata: %w", err)
	}
	if err := os.MkdirAll(envRoot, 0o755); err != nil {
		return fmt.Errorf("creating environment directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(envRoot, "environment.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("writing environment metadata: %w", err)
	}
	return nil
}
