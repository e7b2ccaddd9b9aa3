// Package apiclient talks to a running stylizer daemon over its HTTP API.
//
// The CLI uses it to upload media, start transfer jobs, poll their state, and
// download results. Every response is decoded from the daemon's data/error
// envelope; non-2xx replies surface as *Error values carrying the status code
// and the daemon's public message.
package apiclient
