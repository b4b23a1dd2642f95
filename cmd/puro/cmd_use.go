package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tksoh/puro/internal/config"
	"github.com/tksoh/puro/internal/registry"
	"golang.org/x/term"
)

func newUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use [name]",
		Short: "Select the default environment for this project or globally",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUse,
	}
	cmd.Flags().Bool("global", false, "Set the user-wide default instead of the project default")
	return cmd
}

func runUse(cmd *cobra.Command, args []string) error {
	cfg, err := loadContext(cmd)
	if err != nil {
		return err
	}
	reg := &registry.Registry{Cfg: cfg}

	var name string
	if len(args) == 1 {
		name = args[0]
	} else {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("environment name required when not running interactively")
		}
		name, err = pickEnvironment(cmd, reg)
		if err != nil {
			return err
		}
	}

	env, err := reg.Get(name)
	if err != nil {
		return err
	}
	// Channel slots may be selected before they are created; anything else
	// must exist.
	if !env.Exists && !registry.IsPseudo(name) {
		return fmt.Errorf("environment %q does not exist (run `puro create %s` first)", name, name)
	}

	out := cmd.OutOrStdout()
	if global, _ := cmd.Flags().GetBool("global"); global {
		if err := reg.SetGlobalDefault(name); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Global default set to %q\n", name)
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	if err := reg.WriteProjectDefault(cwd, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Project default set to %q (%s)\n", name, filepath.Join(cwd, config.DotfileName))
	return nil
}

// pickEnvironment offers the channel slots plus every installed environment.
func pickEnvironment(cmd *cobra.Command, reg *registry.Registry) (string, error) {
	entries, err := reg.List(cmd.Context())
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.Env.Exists || registry.IsPseudo(e.Env.Name) {
			names = append(names, e.Env.Name)
		}
	}
	return promptSelect("Select environment", names)
}
