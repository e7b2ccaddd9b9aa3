// Package ingest streams multipart media uploads into the staging area.
//
// Only parts whose form field matches the configured name and whose declared
// MIME type belongs to an allowed class are written; everything else is read
// and discarded. Each accepted part is capped at the configured size and never
// buffered in memory.
package ingest
