package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// IsInstalled returns true if git is available on the system PATH.
func IsInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsRepo returns true if dir is a git repository, working tree or bare.
func IsRepo(dir string) bool {
	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		return true
	}
	// Bare layout: HEAD plus an objects directory at the top level.
	if _, err := os.Stat(filepath.Join(dir, "HEAD")); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "objects"))
	return err == nil && info.IsDir()
}

// Init creates a repository with a working tree at dir.
func Init(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return run(ctx, dir, "init")
}

// InitBare creates a bare repository at dir.
func InitBare(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return run(ctx, dir, "init", "--bare")
}

// SetRemote points the named remote at url, creating it if absent.
func SetRemote(ctx context.Context, dir, name, url string) error {
	if _, err := output(ctx, dir, "remote", "get-url", name); err != nil {
		return run(ctx, dir, "remote", "add", name, url)
	}
	return run(ctx, dir, "remote", "set-url", name, url)
}

// RemoveRemote deletes the named remote. A missing remote is not an error.
func RemoveRemote(ctx context.Context, dir, name string) error {
	if _, err := output(ctx, dir, "remote", "get-url", name); err != nil {
		return nil
	}
	return run(ctx, dir, "remote", "remove", name)
}

// Fetch fetches all branches and tags from the named remote.
func Fetch(ctx context.Context, dir, remote string) error {
	return run(ctx, dir, "fetch", "--tags", "--prune", remote)
}

// FetchMirror synchronizes a bare repository's local branches with the
// remote's, so refs resolve directly in the canonical repository.
func FetchMirror(ctx context.Context, dir, remote string) error {
	return run(ctx, dir, "fetch", "--tags", "--prune", remote, "+refs/heads/*:refs/heads/*")
}

// Checkout checks out the given ref, detaching so the working tree never
// tracks a shared branch. Branch names that only exist as remote-tracking
// refs after a fetch resolve through origin.
func Checkout(ctx context.Context, dir, ref string) error {
	err := run(ctx, dir, "checkout", "--detach", ref)
	if err == nil {
		return nil
	}
	if ferr := run(ctx, dir, "checkout", "--detach", "origin/"+ref); ferr == nil {
		return nil
	}
	return err
}

// HasCommit reports whether ref resolves to a commit present in dir's object
// database (including alternates).
func HasCommit(ctx context.Context, dir, ref string) bool {
	err := run(ctx, dir, "cat-file", "-e", ref+"^{commit}")
	return err == nil
}

// RevParse resolves a ref to a full commit SHA.
func RevParse(ctx context.Context, dir, ref string) (string, error) {
	out, err := output(ctx, dir, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ObjectsDir returns the object database path for a repository, bare or not.
func ObjectsDir(dir string) string {
	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		return filepath.Join(dir, ".git", "objects")
	}
	return filepath.Join(dir, "objects")
}

// WriteAlternates points the checkout's object lookup at a shared object
// database. The file holds exactly one line: the shared objects directory.
// The checkout reads through the indirection and never writes into the
// shared store.
func WriteAlternates(checkoutDir, sharedObjectsDir string) error {
	infoDir := filepath.Join(ObjectsDir(checkoutDir), "info")
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		return fmt.Errorf("creating objects/info: %w", err)
	}
	path := filepath.Join(infoDir, "alternates")
	if err := os.WriteFile(path, []byte(sharedObjectsDir+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing alternates: %w", err)
	}
	return nil
}

// run executes a git command, capturing stderr for the error message.
func run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// output executes a git command and returns its stdout.
func output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
