// Package ui holds terminal output helpers: the progress Sink consumed by
// long-running operations and a tabwriter-backed table for list output.
package ui
