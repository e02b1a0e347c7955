package store

import "errors"

// Sentinel errors for store operations. These are part of the Store's
// public API and should be checked with errors.Is.
var (
	// ErrNotFound indicates the requested session or message does not exist.
	// Absence is a normal case for callers, not an exceptional one.
	ErrNotFound = errors.New("not found")

	// ErrMissingSessionID indicates SaveSession was called without a session id.
	ErrMissingSessionID = errors.New("session id is required")
)
