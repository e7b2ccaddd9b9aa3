// Package transfer launches the external style-transfer command and tracks
// each invocation as a job.
//
// Jobs live in a keyed Registry: at most one job per subject/style pair runs at
// a time, bounded further by a global running limit. Start spawns the process
// synchronously and hands it to a supervision goroutine that drains stdout and
// stderr line by line, then applies exactly one terminal transition
// (completed or failed). Readers only ever see copies.
package transfer
