package enginesrc

import (
	"fmt"
	"os"
	"strings"
)

// Solution is one entry in the build-dependency manifest consumed by the
// dependency-sync tool.
type Solution struct {
	Name     string
	URL      string
	DepsFile string
}

// WriteDepsManifest emits the declarative build-dependency manifest. The
// format is the sync tool's scripting syntax, not JSON: a solutions list
// plus a cache_dir pointing dependency fetches at the shared build cache so
// third-party dependencies are deduplicated across environments.
func WriteDepsManifest(path string, solutions []Solution, cacheDir string) error {
	var b strings.Builder
	b.WriteString("solutions = [\n")
	for _, s := range solutions {
		fmt.Fprintf(&b, "  {\n")
		fmt.Fprintf(&b, "    %q: %q,\n", "name", s.Name)
		fmt.Fprintf(&b, "    %q: %q,\n", "url", s.URL)
		fmt.Fprintf(&b, "    %q: %q,\n", "deps_file", s.DepsFile)
		fmt.Fprintf(&b, "    %q: False,\n", "managed")
		fmt.Fprintf(&b, "    %q: {},\n", "custom_deps")
		fmt.Fprintf(&b, "  },\n")
	}
	b.WriteString("]\n")
	fmt.Fprintf(&b, "cache_dir = %q\n", cacheDir)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing dependency manifest: %w", err)
	}
	return nil
}
