// Package api defines wire-format types and converters for the HTTP API. It
// translates transfer jobs and daemon state into transport-friendly DTOs that
// the web client and the CLI decode without coupling to internal types.
//
// # Key Types
//
// Envelope: the {data, error} wrapper every endpoint returns.
//
// UploadData, TransferAck, TransferStatus: the legacy /upload and /transfer
// payloads, kept wire compatible with the original browser client.
//
// Job: transport representation of a transfer job for the /api/jobs resources.
//
// DaemonStatus: aggregated runtime information including dependencies and
// upload area health.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Nullable legacy fields are pointers so that
// null and "" stay distinguishable on the wire. Timestamps use RFC3339 with
// milliseconds.
package api
