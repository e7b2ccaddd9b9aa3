// Package daemon coordinates the long-running stylizer process.
//
// It wires configuration, the upload ingest service, the transfer launcher,
// and the job history store into a single lifecycle with flock-based locking
// to prevent multiple instances on one upload area. The daemon owns the HTTP
// boundary (legacy /upload and /transfer endpoints plus the /api resources),
// maps tagged errors to status codes, and runs the upload retention janitor.
//
// Keep orchestration logic here: ingestion and job supervision live in their
// respective packages while the daemon focuses on startup, shutdown, and
// request translation.
package daemon
