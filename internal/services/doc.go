// Package services defines the shared error markers and context helpers used by
// the ingest, transfer, and HTTP layers.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs and request correlation identifiers
//     for logging.
//   - Structured error markers plus the Wrap helper, and the mapping from those
//     markers to HTTP status codes and client-visible messages.
//
// Components tag failures with a marker at the point they occur; only the HTTP
// boundary decides how a marker is rendered.
package services
