package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/git"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose environment for common issues",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	runner := &execx.Local{}
	ok := true

	// Check git.
	fmt.Fprint(out, "Checking git... ")
	if gitPath, err := runner.LookPath("git"); err != nil {
		fmt.Fprintln(out, "NOT FOUND")
		fmt.Fprintln(out, "  git is required. Install it from https://git-scm.com/")
		ok = false
	} else {
		fmt.Fprintf(out, "found at %s\n", gitPath)
		fmt.Fprint(out, "Checking git version... ")
		if ver, verr := runner.Run(cmd.Context(), execx.Cmd{Name: "git", Args: []string{"version"}}); verr != nil {
			fmt.Fprintln(out, "ERROR")
			ok = false
		} else {
			fmt.Fprintln(out, gitVersionLine(ver))
		}
	}

	// Check the archive extractor for this platform.
	fmt.Fprint(out, "Checking archive extractor... ")
	if name, err := extractorFor(runner); err != nil {
		fmt.Fprintln(out, "NOT FOUND")
		fmt.Fprintf(out, "  %v\n", err)
		ok = false
	} else {
		fmt.Fprintf(out, "%s\n", name)
	}

	// Check the configuration loads and report where it points.
	fmt.Fprint(out, "Checking configuration... ")
	cfg, err := loadContext(cmd)
	if err != nil {
		fmt.Fprintln(out, "INVALID")
		fmt.Fprintf(out, "  %v\n", err)
		ok = false
	} else {
		fmt.Fprintf(out, "root %s\n", cfg.Root)
		fmt.Fprintf(out, "  storage:     %s\n", cfg.Config.StorageBaseURL)
		fmt.Fprintf(out, "  engine repo: %s\n", cfg.Config.EngineRepoURL)

		// Check the engine repository is reachable.
		fmt.Fprint(out, "Checking engine repository... ")
		if _, lerr := runner.Run(cmd.Context(), execx.Cmd{
			Name: "git",
			Args: []string{"ls-remote", "--exit-code", "--quiet", cfg.Config.EngineRepoURL, "HEAD"},
		}); lerr != nil {
			fmt.Fprintln(out, "UNREACHABLE")
			ok = false
		} else {
			fmt.Fprintln(out, "OK")
		}

		// Check the shared repository, if one exists, is healthy.
		if git.IsRepo(cfg.SharedRepoDir()) {
			fmt.Fprintf(out, "Shared engine repository: %s\n", cfg.SharedRepoDir())
		}
	}

	if ok {
		fmt.Fprintln(out, "\nAll checks passed.")
		return nil
	}
	fmt.Fprintln(out, "\nSome checks failed. See above for details.")
	return fmt.Errorf("doctor checks failed")
}

// extractorFor names the archive tool engine downloads will be unpacked
// with on this host.
func extractorFor(runner execx.Runner) (string, error) {
	if runtime.GOOS == "windows" {
		if _, err := runner.LookPath("7z"); err == nil {
			return "7z", nil
		}
		if _, err := runner.LookPath("powershell"); err == nil {
			return "powershell Expand-Archive", nil
		}
		return "", fmt.Errorf("neither 7z nor powershell found on PATH")
	}
	if _, err := runner.LookPath("unzip"); err == nil {
		return "unzip", nil
	}
	return "", fmt.Errorf("unzip not found on PATH")
}

// gitVersionLine trims a `git version` report to its first line.
func gitVersionLine(out string) string {
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		return out[:i]
	}
	return out
}
