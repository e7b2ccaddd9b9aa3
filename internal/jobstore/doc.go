// Package jobstore persists transfer job history in SQLite so that job status
// survives daemon restarts.
//
// The store is deliberately small: one table keyed by job id, upserted on every
// state change the launcher makes. On startup the daemon marks rows left in the
// running state as failed, because the processes behind them died with the
// previous daemon, and then seeds the in-memory registry from List.
package jobstore
