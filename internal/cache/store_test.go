package cache

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tksoh/puro/internal/config"
	"github.com/tksoh/puro/internal/execx"
	"github.com/tksoh/puro/internal/platform"
	"github.com/tksoh/puro/internal/registry"
	"github.com/tksoh/puro/internal/testutil"
	"github.com/tksoh/puro/internal/ui"
)

const testVersion = "3f4b2a1c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f4a"

// engineZip builds an archive shaped like a real engine artifact.
func engineZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("dart-sdk/bin/dart")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("#!/bin/sh\necho fake\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// handleUnzip makes the fake runner actually extract archives, standing in
// for the platform unzip utility.
func handleUnzip(t *testing.T, r *testutil.FakeRunner) {
	t.Helper()
	r.Handle("unzip", func(c execx.Cmd) (string, error) {
		// unzip -o -q <archive> -d <dest>
		archive, dest := c.Args[2], c.Args[4]
		zr, err := zip.OpenReader(archive)
		if err != nil {
			return "", err
		}
		defer func() { _ = zr.Close() }()
		for _, f := range zr.File {
			path := filepath.Join(dest, f.Name)
			if f.FileInfo().IsDir() {
				if err := os.MkdirAll(path, 0o755); err != nil {
					return "", err
				}
				continue
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			rc, err := f.Open()
			if err != nil {
				return "", err
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return "", err
			}
			if err := os.WriteFile(path, data, 0o755); err != nil {
				return "", err
			}
		}
		return "", nil
	})
}

func newTestStore(t *testing.T, serverURL string, runner *testutil.FakeRunner) *Store {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := New(cfg, http.DefaultClient, runner, ui.Discard)
	s.BaseURL = serverURL
	s.Platform = &platform.Resolver{Runner: runner, GOOS: "linux"}
	runner.Handle("uname", func(execx.Cmd) (string, error) { return "x86_64\n", nil })
	return s
}

func TestEnsure_downloadsOnceThenReusesCache(t *testing.T) {
	var hits atomic.Int32
	zipData := engineZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == fmt.Sprintf("/flutter/%s/dart-sdk-linux-x64.zip", testVersion) {
			_, _ = w.Write(zipData)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	runner := testutil.NewFakeRunner()
	handleUnzip(t, runner)
	s := newTestStore(t, srv.URL, runner)
	runner.Handle(s.toolPath(testVersion), func(execx.Cmd) (string, error) {
		return "Dart SDK version: 3.5.0 (stable)\n", nil
	})

	ctx := context.Background()
	did, err := s.Ensure(ctx, testVersion)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if !did {
		t.Error("first Ensure() should report a fresh download")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}

	// Extracted tree and marker present, transient archive gone.
	if _, err := os.Stat(filepath.Join(s.CacheDir(testVersion), "dart-sdk", "bin", "dart")); err != nil {
		t.Errorf("extracted tree missing: %v", err)
	}
	marker, err := os.ReadFile(s.MarkerPath(testVersion))
	if err != nil {
		t.Fatalf("marker missing: %v", err)
	}
	if string(marker) != testVersion+"\n" {
		t.Errorf("marker content = %q", marker)
	}
	if _, err := os.Stat(s.ArchivePath(testVersion)); !os.IsNotExist(err) {
		t.Error("transient archive should not outlive Ensure")
	}

	// Extraction runs with its own generous timeout, not the default.
	unzipCalls := runner.CallsTo("unzip")
	if len(unzipCalls) != 1 {
		t.Fatalf("unzip calls = %d, want 1", len(unzipCalls))
	}
	if unzipCalls[0].Timeout != extractTimeout {
		t.Errorf("unzip timeout = %v, want %v", unzipCalls[0].Timeout, extractTimeout)
	}

	// Second call: sanity check only, no network.
	did, err = s.Ensure(ctx, testVersion)
	if err != nil {
		t.Fatalf("second Ensure() error: %v", err)
	}
	if did {
		t.Error("second Ensure() should not download")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits after second Ensure = %d, want 1", hits.Load())
	}
}

func TestEnsure_repairsCorruptCache(t *testing.T) {
	zipData := engineZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zipData)
	}))
	defer srv.Close()

	runner := testutil.NewFakeRunner()
	handleUnzip(t, runner)
	s := newTestStore(t, srv.URL, runner)

	// A cache whose tool cannot self-report is corrupt.
	stale := filepath.Join(s.CacheDir(testVersion), "junk")
	if err := os.MkdirAll(s.CacheDir(testVersion), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner.Handle(s.toolPath(testVersion), func(execx.Cmd) (string, error) {
		return "", errors.New("exec format error")
	})

	did, err := s.Ensure(context.Background(), testVersion)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if !did {
		t.Error("repair should trigger a fresh download")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("corrupt cache contents should have been removed")
	}
}

func TestEnsure_darwinArmFallsBackToIntelArtifact(t *testing.T) {
	zipData := engineZip(t)
	var armRequested, intelServed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "dart-sdk-darwin-arm64.zip"):
			armRequested = true
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "dart-sdk-darwin-x64.zip"):
			intelServed = true
			_, _ = w.Write(zipData)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	runner := testutil.NewFakeRunner()
	handleUnzip(t, runner)
	s := newTestStore(t, srv.URL, runner)
	s.Platform = &platform.Resolver{Runner: runner, GOOS: "darwin"}
	runner.Handle("sysctl", func(execx.Cmd) (string, error) { return "1\n", nil })

	did, err := s.Ensure(context.Background(), testVersion)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if !did {
		t.Error("fallback download should count as fresh")
	}
	if !armRequested || !intelServed {
		t.Errorf("armRequested = %v, intelServed = %v; want both", armRequested, intelServed)
	}
}

func TestEnsure_fatalOnOtherHTTPFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	runner := testutil.NewFakeRunner()
	s := newTestStore(t, srv.URL, runner)

	_, err := s.Ensure(context.Background(), testVersion)
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("error = %v, want *DownloadError", err)
	}
	if dlErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", dlErr.Status)
	}
}

func TestEnsure_rejectsInvalidVersion(t *testing.T) {
	runner := testutil.NewFakeRunner()
	s := newTestStore(t, "http://unused", runner)
	if _, err := s.Ensure(context.Background(), "../evil"); err == nil {
		t.Error("Ensure() should reject non-version names")
	}
}

func TestToolVersion_parseFailureCarriesOutput(t *testing.T) {
	runner := testutil.NewFakeRunner()
	s := newTestStore(t, "http://unused", runner)
	runner.Handle(s.toolPath(testVersion), func(execx.Cmd) (string, error) {
		return "segmentation fault\n", nil
	})

	_, err := s.ToolVersion(context.Background(), testVersion)
	var parseErr *VersionParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want *VersionParseError", err)
	}
	if !strings.Contains(parseErr.Output, "segmentation fault") {
		t.Errorf("Output = %q, should carry raw output", parseErr.Output)
	}
}

func TestSDKVersion_readsCheckoutVersionFile(t *testing.T) {
	runner := testutil.NewFakeRunner()
	s := newTestStore(t, "http://unused", runner)

	envRoot := t.TempDir()
	env := registry.Environment{Name: "foo", Root: envRoot, Exists: true}
	if err := os.MkdirAll(env.SDKDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.SDKVersionFile(), []byte("3.24.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := s.SDKVersion(context.Background(), env)
	if err != nil {
		t.Fatalf("SDKVersion() error: %v", err)
	}
	if v != "3.24.1" {
		t.Errorf("SDKVersion() = %q, want 3.24.1", v)
	}
}

func TestValidVersion(t *testing.T) {
	tests := []struct {
		v    string
		want bool
	}{
		{testVersion, true},
		{"abcdef0", true},
		{"ABCDEF0", false},
		{"v1.2.3", false},
		{"short", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidVersion(tt.v); got != tt.want {
			t.Errorf("ValidVersion(%q) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
