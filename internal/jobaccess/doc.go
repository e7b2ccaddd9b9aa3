// Package jobaccess gives CLI commands one view of job history whether or not
// the daemon is running: the HTTP API when it answers, the SQLite job database
// otherwise.
package jobaccess
