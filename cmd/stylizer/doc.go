// Command stylizer runs the upload-and-transfer daemon and drives it from the
// command line.
//
// `stylizer serve` starts the HTTP daemon in the foreground. The remaining
// commands talk to a running daemon over its API: upload media, start a style
// transfer, follow jobs, and fetch results. Job history commands fall back to
// reading the SQLite job database when no daemon answers.
package main
