// Package preflight provides readiness checks for the filesystem paths and
// external programs stylizer depends on.
//
// The daemon runs them at startup and from the status endpoint; the CLI status
// command renders the same results.
package preflight
