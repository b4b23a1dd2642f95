package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tksoh/puro/internal/cache"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
	"golang.org/x/term"
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new environment, prompting for a name if omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCreate,
	}
	cmd.Flags().String("engine", "", "Pin an engine version (commit hash) and prefetch its cache")
	return cmd
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadContext(cmd)
	if err != nil {
		return err
	}

	var name string
	if len(args) == 1 {
		name = args[0]
	} else {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("environment name required when not running interactively")
		}
		name, err = promptInput("Environment name", "my-env", validateEnvName)
		if err != nil {
			return err
		}
	}
	if err := validateEnvName(name); err != nil {
		return err
	}

	engine, _ := cmd.Flags().GetString("engine")
	if engine != "" && !cache.ValidVersion(engine) {
		return fmt.Errorf("invalid engine version %q: expected a commit hash", engine)
	}

	reg := &registry.Registry{Cfg: cfg}
	env, err := reg.Get(name)
	if err != nil {
		return err
	}
	if env.Exists {
		return fmt.Errorf("environment %q already exists", name)
	}

	meta := &registry.Meta{
		EngineVersion: engine,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := registry.SaveMeta(env.Root, meta); err != nil {
		return err
	}

	if engine != "" {
		store := cache.New(cfg, http.DefaultClient, &execx.Local{}, ui.NewConsole(cmd.OutOrStdout()))
		if _, err := store.Ensure(cmd.Context(), engine); err != nil {
			return err
		}
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Environment %q created at %s\n", name, env.Root)
	return nil
}

func validateEnvName(name string) error {
	if name == registry.Reserved {
		return fmt.Errorf("%q is reserved and cannot name an environment", name)
	}
	if !registry.ValidName(name) {
		return fmt.Errorf("invalid environment name %q: must start with a letter or digit and contain only letters, digits, dots, underscores, and hyphens", name)
	}
	return nil
}
