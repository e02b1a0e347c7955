package recorder

import "errors"

// Sentinel errors for recorder operations, checked with errors.Is.
var (
	// ErrEmptyTitle indicates a supplied session title was empty or
	// whitespace. The machine stays in AwaitingTitle; callers retry.
	ErrEmptyTitle = errors.New("session title is empty")

	// ErrNotAwaitingTitle indicates SupplyTitle was called when no session
	// is waiting for a title, or for a stale session id.
	ErrNotAwaitingTitle = errors.New("no session awaiting a title")
)
