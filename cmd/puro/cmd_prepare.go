package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tksoh/puro/internal/enginesrc"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
)

func newPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare <name>",
		Short: "Prepare an environment's engine source checkout for building",
		Args:  cobra.ExactArgs(1),
		RunE:  runPrepare,
	}
	cmd.Flags().String("ref", "", "Engine ref to check out (defaults to the pinned or SDK-recorded version)")
	cmd.Flags().String("fork", "", "Fetch through a fork remote instead of the upstream repository")
	return cmd
}

func runPrepare(cmd *cobra.Command, args []string) error {
	cfg, err := loadContext(cmd)
	if err != nil {
		return err
	}

	reg := &registry.Registry{Cfg: cfg}
	env, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	if !env.Exists {
		return fmt.Errorf("environment %q does not exist (run `puro create %s` first)", args[0], args[0])
	}

	ref, _ := cmd.Flags().GetString("ref")
	fork, _ := cmd.Flags().GetString("fork")

	// The fork choice sticks across runs: an explicit flag (re)records it,
	// including an explicit empty value to return to upstream.
	meta, err := registry.LoadMeta(env.Root)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("fork") {
		if fork != meta.ForkRemoteURL {
			meta.ForkRemoteURL = fork
			if err := registry.SaveMeta(env.Root, meta); err != nil {
				return err
			}
		}
	} else {
		fork = meta.ForkRemoteURL
	}

	mgr := enginesrc.New(cfg, &execx.Local{}, ui.NewConsole(cmd.OutOrStdout()))
	if err := mgr.Prepare(cmd.Context(), env, ref, fork); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Engine sources ready in %s\n", env.EngineSourceDir())
	return nil
}
