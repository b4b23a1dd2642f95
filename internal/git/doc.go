// Package git wraps the git CLI plumbing needed for engine source sharing:
// repository initialization, remote configuration, fetch/checkout, commit
// lookup, and the objects/info/alternates indirection that lets every
// per-environment checkout reuse the canonical repository's object store.
package git
