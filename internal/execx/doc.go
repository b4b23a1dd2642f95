// Package execx wraps external process execution behind a small Runner
// interface so that commands which shell out (git plumbing, platform probes,
// archive extraction, dependency sync) can be faked in tests. The default
// implementation enforces a per-command timeout and captures combined output
// for error reporting.
package execx
