// Package staging maintains the upload area over time: it reports the day
// directories the storage package creates and removes the ones that fall
// outside the configured retention window.
package staging
