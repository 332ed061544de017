// Package apperr defines the sentinel errors shared across packages.
// Callers wrap them with context and test with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// Fatal to a sync run.
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceFormat      = errors.New("source format error")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrSyncTimeout       = errors.New("sync timed out")

	// Per-record; counted, never fatal.
	ErrUnresolvedReference = errors.New("unresolved reference")
)
