// Package storage manages the date-partitioned upload staging area and the
// unique filenames written into it.
package storage
