package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/ui"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List environments",
		RunE:    runLs,
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

type envStatus struct {
	Name           string `json:"name"`
	Exists         bool   `json:"exists"`
	SDKVersion     string `json:"sdk_version,omitempty"`
	EngineVersion  string `json:"engine_version,omitempty"`
	GlobalDefault  bool   `json:"global_default,omitempty"`
	ProjectDefault bool   `json:"project_default,omitempty"`
}

func runLs(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadContext(cmd)
	if err != nil {
		return err
	}
	reg := newRegistry(cfg, &execx.Local{})

	entries, err := reg.List(cmd.Context())
	if err != nil {
		return err
	}

	global := reg.GlobalDefault()
	var project string
	if cwd, err := os.Getwd(); err == nil {
		project = reg.ProjectDefault(cwd)
	}

	statuses := make([]envStatus, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, envStatus{
			Name:           e.Env.Name,
			Exists:         e.Env.Exists,
			SDKVersion:     e.SDKVersion,
			EngineVersion:  e.Env.EngineVersion,
			GlobalDefault:  e.Env.Name == global,
			ProjectDefault: e.Env.Name == project,
		})
	}

	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	tbl := ui.NewTable(out, "NAME", "STATE", "SDK", "ENGINE", "DEFAULT")
	for _, s := range statuses {
		state := "installed"
		if !s.Exists {
			state = "not installed"
		}
		var marks []string
		if s.GlobalDefault {
			marks = append(marks, "global")
		}
		if s.ProjectDefault {
			marks = append(marks, "project")
		}
		tbl.Row(s.Name, state, s.SDKVersion, shortHash(s.EngineVersion), strings.Join(marks, ", "))
	}
	return tbl.Flush()
}

func shortHash(v string) string {
	if len(v) > 10 {
		return v[:10]
	}
	return v
}
