package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tksoh/puro/internal/gc"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
)

func newGcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete unreferenced engine caches beyond the retention floor",
		RunE:  runGc,
	}
	cmd.Flags().Int("keep", 0, "Unreferenced caches to retain (defaults to max_unused_caches from config)")
	return cmd
}

func runGc(cmd *cobra.Command, _ []string) error {
	cfg, err := loadContext(cmd)
	if err != nil {
		return err
	}

	keep, _ := cmd.Flags().GetInt("keep")
	if !cmd.Flags().Changed("keep") {
		keep = cfg.Config.MaxUnusedCaches
	}

	reg := &registry.Registry{Cfg: cfg}
	collector := gc.New(cfg, reg, ui.NewConsole(cmd.OutOrStdout()))

	reclaimed, err := collector.Collect(cmd.Context(), keep)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %s\n", humanize.Bytes(uint64(reclaimed)))
	return nil
}
