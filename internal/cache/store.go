// Package cache owns the shared on-disk engine caches: one extracted engine
// tree per engine version, reused by every environment that pins it. It
// downloads, verifies, and repairs caches; eviction lives in the gc package.
package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tksoh/puro/internal/config"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/lockfile"
	"github.com/tksoh/puro/internal/platform"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/ui"
)

// MarkerName is the version marker file inside each cache directory. Its
// modification time is the garbage collector's eviction signal; Ensure
// refreshes it on every call.
const MarkerName = "engine.version"

// extractTimeout bounds archive extraction.
const extractTimeout = time.Hour

// Engine versions are upstream commit hashes; the cache directory name is the
// version string itself.
var versionRE = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// ValidVersion reports whether v names a cache directory by convention.
func ValidVersion(v string) bool {
	return versionRE.MatchString(v)
}

// sdkVersionRE extracts the release version from the tool's self-report.
var sdkVersionRE = regexp.MustCompile(`\d+\.\d+\.\d+[^\s]*`)

// DownloadError is a fatal non-2xx response for an engine artifact.
type DownloadError struct {
	URL    string
	Status int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s: HTTP %d", e.URL, e.Status)
}

// VersionParseError is a fatal mismatch between the tool's self-report and
// the expected version pattern. The raw output is preserved.
type VersionParseError struct {
	Output string
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("unexpected version output: %q", strings.TrimSpace(e.Output))
}

// Store manages the shared caches root. All collaborators are explicit; the
// zero value is not usable.
type Store struct {
	Root     string
	BaseURL  string
	Client   *http.Client
	Runner   execx.Runner
	Platform *platform.Resolver
	Progress ui.Sink

	lockPath func(name string) string
}

// New creates a cache store over the configured caches root.
func New(cfg *config.Context, client *http.Client, runner execx.Runner, progress ui.Sink) *Store {
	return &Store{
		Root:     cfg.CachesDir(),
		BaseURL:  cfg.Config.StorageBaseURL,
		Client:   client,
		Runner:   runner,
		Platform: platform.NewResolver(runner),
		Progress: progress,
		lockPath: cfg.LockPath,
	}
}

// CacheDir is the extracted engine tree for a version. The directory name is
// a deterministic function of the version string alone.
func (s *Store) CacheDir(version string) string {
	return filepath.Join(s.Root, version)
}

// MarkerPath is the version marker file for a cached version.
func (s *Store) MarkerPath(version string) string {
	return filepath.Join(s.CacheDir(version), MarkerName)
}

// ArchivePath is the transient download target; it must not outlive a
// successful Ensure.
func (s *Store) ArchivePath(version string) string {
	return filepath.Join(s.Root, version+".zip")
}

// Ensure makes the cache for version usable, downloading and extracting the
// engine artifact when the cache is absent or fails its sanity check.
// Returns whether a fresh download occurred. An intact cache costs one
// subprocess call and no network I/O.
func (s *Store) Ensure(ctx context.Context, version string) (didDownload bool, err error) {
	if !ValidVersion(version) {
		return false, fmt.Errorf("invalid engine version %q", version)
	}

	lock, err := lockfile.Acquire(s.lockPath("engine-" + version))
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := lock.Release(); err == nil {
			err = rerr
		}
	}()

	dir := s.CacheDir(version)
	if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
		if s.sanityCheck(ctx, version) == nil {
			s.touchMarker(version)
			return false, nil
		}
		// Corrupt cache: remove and redownload. The check failure itself is
		// never surfaced.
		s.Progress.Logf("engine cache %s failed sanity check, rebuilding", version)
		if err := os.RemoveAll(dir); err != nil {
			return false, fmt.Errorf("removing corrupt cache: %w", err)
		}
	}

	target, err := s.Platform.Resolve(ctx)
	if err != nil {
		return false, err
	}
	archive, err := s.download(ctx, version, target)
	if err != nil {
		return false, err
	}

	s.Progress.Step(fmt.Sprintf("Extracting engine %s", shortVersion(version)))
	if err := s.extract(ctx, archive, dir); err != nil {
		return false, err
	}
	if err := s.writeMarker(version); err != nil {
		return false, err
	}
	if err := os.Remove(archive); err != nil {
		return false, fmt.Errorf("removing download archive: %w", err)
	}
	return true, nil
}

// download fetches the engine artifact to the transient archive path. A 404
// for the Apple-silicon artifact retries the Intel artifact: builds predating
// arm64 ship none, and the x64 build runs under emulation. Any other failure
// is fatal.
func (s *Store) download(ctx context.Context, version string, target platform.BuildTarget) (string, error) {
	artifact, err := target.ArtifactName()
	if err != nil {
		return "", err
	}
	s.Progress.Step(fmt.Sprintf("Downloading engine %s for %s", shortVersion(version), target))

	dest := s.ArchivePath(version)
	status, err := s.fetch(ctx, version, artifact, dest)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		if fallback, ok := target.Fallback(); ok {
			s.Progress.Logf("no %s artifact for %s, falling back to %s", target, shortVersion(version), fallback)
			fbArtifact, err := fallback.ArtifactName()
			if err != nil {
				return "", err
			}
			if status, err = s.fetch(ctx, version, fbArtifact, dest); err != nil {
				return "", err
			}
			if status == http.StatusOK {
				return dest, nil
			}
			return "", &DownloadError{URL: s.artifactURL(version, fbArtifact), Status: status}
		}
	}
	if status != http.StatusOK {
		return "", &DownloadError{URL: s.artifactURL(version, artifact), Status: status}
	}
	return dest, nil
}

func (s *Store) artifactURL(version, artifact string) string {
	return fmt.Sprintf("%s/flutter/%s/%s", strings.TrimRight(s.BaseURL, "/"), version, artifact)
}

// fetch downloads one artifact, returning the HTTP status. Transport errors
// and short writes remove the partial file.
func (s *Store) fetch(ctx context.Context, version, artifact, dest string) (int, error) {
	url := s.artifactURL(version, artifact)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return 0, fmt.Errorf("creating caches root: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("creating archive file: %w", err)
	}
	_, err = io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}
	return http.StatusOK, nil
}

// extract unpacks the archive with the platform's archive tool chain:
// 7-Zip when available on Windows (falling back to the PowerShell expansion
// cmdlet), the standard unzip utility elsewhere. Extraction failure is fatal.
func (s *Store) extract(ctx context.Context, archive, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	var cmd execx.Cmd
	if s.Platform.GOOS == "windows" {
		if _, err := s.Runner.LookPath("7z"); err == nil {
			cmd = execx.Cmd{Name: "7z", Args: []string{"x", "-y", "-o" + dest, archive}}
		} else {
			cmd = execx.Cmd{
				Name: "powershell",
				Args: []string{"-NoProfile", "-Command",
					fmt.Sprintf("Expand-Archive -Force -Path %q -DestinationPath %q", archive, dest)},
			}
		}
	} else {
		cmd = execx.Cmd{Name: "unzip", Args: []string{"-o", "-q", archive, "-d", dest}}
	}
	// Engine archives run to hundreds of megabytes; on slow disks the default
	// subprocess timeout is too tight.
	cmd.Timeout = extractTimeout

	if _, err := s.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("extracting engine archive: %w", err)
	}
	return nil
}

// sanityCheck invokes the cached tool's self-report and verifies it prints a
// plausible version. Any failure marks the cache corrupt.
func (s *Store) sanityCheck(ctx context.Context, version string) error {
	out, err := s.Runner.Run(ctx, execx.Cmd{
		Name: s.toolPath(version),
		Args: []string{"--version"},
	})
	if err != nil {
		return err
	}
	if !sdkVersionRE.MatchString(out) {
		return &VersionParseError{Output: out}
	}
	return nil
}

// ToolVersion reports the cached tool's version. Output that does not match
// the expected pattern is a fatal VersionParseError carrying the raw output.
func (s *Store) ToolVersion(ctx context.Context, version string) (string, error) {
	out, err := s.Runner.Run(ctx, execx.Cmd{
		Name: s.toolPath(version),
		Args: []string{"--version"},
	})
	if err != nil {
		return "", err
	}
	m := sdkVersionRE.FindString(out)
	if m == "" {
		return "", &VersionParseError{Output: out}
	}
	return m, nil
}

// SDKVersion resolves an environment's SDK version: the checkout's version
// file when present, else the cached tool's self-report for the pinned
// engine.
func (s *Store) SDKVersion(ctx context.Context, env registry.Environment) (string, error) {
	if data, err := os.ReadFile(env.SDKVersionFile()); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if env.EngineVersion != "" {
		if _, err := os.Stat(s.CacheDir(env.EngineVersion)); err == nil {
			return s.ToolVersion(ctx, env.EngineVersion)
		}
	}
	return "", fmt.Errorf("no version information for environment %s", env.Name)
}

func (s *Store) toolPath(version string) string {
	name := "dart"
	if s.Platform.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(s.CacheDir(version), "dart-sdk", "bin", name)
}

func (s *Store) writeMarker(version string) error {
	if err := os.WriteFile(s.MarkerPath(version), []byte(version+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing version marker: %w", err)
	}
	return nil
}

// touchMarker refreshes the eviction signal. A missing marker is rewritten;
// either way the cache counts as freshly used.
func (s *Store) touchMarker(version string) {
	now := time.Now()
	if err := os.Chtimes(s.MarkerPath(version), now, now); err != nil {
		_ = s.writeMarker(version)
	}
}

func shortVersion(v string) string {
	if len(v) > 10 {
		return v[:10]
	}
	return v
}
