// Package platform maps the host OS and architecture to a concrete engine
// download target. The target set is closed: anything outside the lookup
// table is an unsupported platform, never a silent default.
package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/tksoh/puro/internal/execx"
)

// OS is a supported host operating system.
type OS string

const (
	Darwin  OS = "darwin"
	Linux   OS = "linux"
	Windows OS = "windows"
)

// Arch is a supported host architecture.
type Arch string

const (
	X64   Arch = "x64"
	ARM64 Arch = "arm64"
)

// BuildTarget selects the engine artifact for an (OS, architecture) pair.
type BuildTarget struct {
	OS   OS
	Arch Arch
}

func (t BuildTarget) String() string {
	return fmt.Sprintf("%s-%s", t.OS, t.Arch)
}

// artifactNames is the closed (OS, arch) → artifact lookup table.
var artifactNames = map[BuildTarget]string{
	{Darwin, X64}:   "dart-sdk-darwin-x64.zip",
	{Darwin, ARM64}: "dart-sdk-darwin-arm64.zip",
	{Linux, X64}:    "dart-sdk-linux-x64.zip",
	{Linux, ARM64}:  "dart-sdk-linux-arm64.zip",
	{Windows, X64}:  "dart-sdk-windows-x64.zip",
}

// ErrUnsupported reports an OS/architecture combination outside the build
// target table.
var ErrUnsupported = errors.New("unsupported platform")

// ArtifactName returns the download artifact filename for the target.
func (t BuildTarget) ArtifactName() (string, error) {
	name, ok := artifactNames[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
	return name, nil
}

// Fallback returns the target to retry when this target's artifact is
// missing upstream. Engine builds predating Apple silicon ship no arm64
// artifact; the x64 build runs under emulation.
func (t BuildTarget) Fallback() (BuildTarget, bool) {
	if t.OS == Darwin && t.Arch == ARM64 {
		return BuildTarget{Darwin, X64}, true
	}
	return BuildTarget{}, false
}

var (
	arm64Aliases = []string{"arm64", "aarch64", "armv8"}
	x64Aliases   = []string{"x64", "x86_64"}
)

// Resolver probes the host platform through the process runner.
type Resolver struct {
	Runner execx.Runner

	// GOOS defaults to runtime.GOOS; tests override it.
	GOOS string
}

// NewResolver creates a resolver for the current host OS.
func NewResolver(r execx.Runner) *Resolver {
	return &Resolver{Runner: r, GOOS: runtime.GOOS}
}

// Resolve determines the host build target. Unrecognized platforms are a
// fatal ErrUnsupported.
func (r *Resolver) Resolve(ctx context.Context) (BuildTarget, error) {
	switch OS(r.GOOS) {
	case Darwin:
		arch, err := r.darwinArch(ctx)
		if err != nil {
			return BuildTarget{}, err
		}
		return BuildTarget{Darwin, arch}, nil
	case Linux:
		arch, err := r.linuxArch(ctx)
		if err != nil {
			return BuildTarget{}, err
		}
		return BuildTarget{Linux, arch}, nil
	case Windows:
		return BuildTarget{Windows, X64}, nil
	default:
		return BuildTarget{}, fmt.Errorf("%w: %s", ErrUnsupported, r.GOOS)
	}
}

// darwinArch disambiguates Intel vs Apple silicon. Under Rosetta emulation
// runtime.GOARCH lies, so ask the kernel directly.
func (r *Resolver) darwinArch(ctx context.Context) (Arch, error) {
	out, err := r.Runner.Run(ctx, execx.Cmd{Name: "sysctl", Args: []string{"-n", "hw.optional.arm64"}})
	if err != nil {
		return "", fmt.Errorf("probing hw.optional.arm64: %w", err)
	}
	switch strings.TrimSpace(out) {
	case "0":
		return X64, nil
	case "1":
		return ARM64, nil
	default:
		return "", fmt.Errorf("parsing hw.optional.arm64 output %q", strings.TrimSpace(out))
	}
}

func (r *Resolver) linuxArch(ctx context.Context) (Arch, error) {
	out, err := r.Runner.Run(ctx, execx.Cmd{Name: "uname", Args: []string{"-m"}})
	if err != nil {
		return "", fmt.Errorf("probing machine architecture: %w", err)
	}
	machine := strings.TrimSpace(out)
	for _, alias := range arm64Aliases {
		if machine == alias || strings.HasPrefix(machine, alias) {
			return ARM64, nil
		}
	}
	for _, alias := range x64Aliases {
		if machine == alias {
			return X64, nil
		}
	}
	return "", fmt.Errorf("%w: linux/%s", ErrUnsupported, machine)
}
