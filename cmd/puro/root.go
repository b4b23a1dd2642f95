package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tksoh/puro/internal/cache"
	"github.com/tksoh/puro/internal/config"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "puro",
		Short:   "Manage local SDK environments and shared engine caches",
		Version: version,
	}

	cmd.PersistentFlags().String("root", "", "Root directory (default $PURO_ROOT or ~/.puro)")

	cmd.AddCommand(
		newLsCmd(),
		newCreateCmd(),
		newUseCmd(),
		newGcCmd(),
		newPrepareCmd(),
		newDoctorCmd(),
	)

	return cmd
}

// resolveRoot picks the root directory: the --root flag, then PURO_ROOT,
// then ~/.puro.
func resolveRoot(cmd *cobra.Command) (string, error) {
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		return root, nil
	}
	if root := os.Getenv("PURO_ROOT"); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".puro"), nil
}

func loadContext(cmd *cobra.Command) (*config.Context, error) {
	root, err := resolveRoot(cmd)
	if err != nil {
		return nil, err
	}
	return config.Load(root)
}

// newRegistry wires a registry whose entries resolve SDK versions through
// the cache store.
func newRegistry(cfg *config.Context, runner execx.Runner) *registry.Registry {
	store := cache.New(cfg, http.DefaultClient, runner, ui.Discard)
	return &registry.Registry{Cfg: cfg, Versions: store}
}
