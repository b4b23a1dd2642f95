package enginesrc

import (
	"context"
	"fmt"

	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/platform"
)

// Installer ensures the host build-toolchain prerequisites for building the
// engine from source.
type Installer interface {
	Ensure(ctx context.Context) error
}

// InstallerFor selects the installer for a host OS. An OS without an
// installer cannot build the engine.
func InstallerFor(goos string, runner execx.Runner) (Installer, error) {
	switch goos {
	case "darwin":
		return &darwinInstaller{runner: runner}, nil
	case "linux":
		return &linuxInstaller{runner: runner}, nil
	case "windows":
		return &windowsInstaller{runner: runner}, nil
	default:
		return nil, fmt.Errorf("%w: cannot build engine on %s", platform.ErrUnsupported, goos)
	}
}

type darwinInstaller struct {
	runner execx.Runner
}

func (i *darwinInstaller) Ensure(ctx context.Context) error {
	if _, err := i.runner.Run(ctx, execx.Cmd{Name: "xcode-select", Args: []string{"-p"}}); err != nil {
		return fmt.Errorf("Xcode command line tools are required; run `xcode-select --install`: %w", err)
	}
	return nil
}

type linuxInstaller struct {
	runner execx.Runner
}

func (i *linuxInstaller) Ensure(_ context.Context) error {
	return requireBinaries(i.runner, "git", "curl", "unzip", "python3")
}

type windowsInstaller struct {
	runner execx.Runner
}

func (i *windowsInstaller) Ensure(_ context.Context) error {
	if err := requireBinaries(i.runner, "git"); err != nil {
		return err
	}
	// Either archiver satisfies extraction.
	if _, err := i.runner.LookPath("7z"); err == nil {
		return nil
	}
	return requireBinaries(i.runner, "powershell")
}

func requireBinaries(runner execx.Runner, names ...string) error {
	for _, name := range names {
		if _, err := runner.LookPath(name); err != nil {
			return fmt.Errorf("required tool %q not found on PATH", name)
		}
	}
	return nil
}
