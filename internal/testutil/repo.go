package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// CreateEngineRepo creates a bare git repository with an initial commit,
// standing in for the upstream engine repository. Returns the bare repo path
// and the full SHA of its head commit.
func CreateEngineRepo(t *testing.T) (bare, head string) {
	t.Helper()
	dir := t.TempDir()
	bare = filepath.Join(dir, "engine.git")

	work := filepath.Join(dir, "work")
	Run(t, dir, "git", "init", "-b", "main", work)
	Run(t, work, "git", "config", "user.email", "test@example.com")
	Run(t, work, "git", "config", "user.name", "Test")

	deps := filepath.Join(work, "DEPS")
	if err := os.WriteFile(deps, []byte("deps_os = {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	Run(t, work, "git", "add", ".")
	Run(t, work, "git", "commit", "-m", "initial commit")
	head = Output(t, work, "git", "rev-parse", "HEAD")

	Run(t, dir, "git", "clone", "--bare", work, bare)
	return bare, head
}

// Run executes a command and fails the test on error.
func Run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("command %s %v failed: %v\n%s", name, args, err, out)
	}
}

// Output executes a command and returns its trimmed stdout.
func Output(t *testing.T, dir string, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("command %s %v failed: %v", name, args, err)
	}
	return strings.TrimSpace(string(out))
}
