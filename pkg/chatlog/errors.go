package chatlog

import "errors"

var (
	// ErrNotFound indicates a reference that no fallback tier could resolve.
	ErrNotFound = errors.New("chatlog: not found")
	// ErrTransient indicates a remote or file failure eligible for retry.
	ErrTransient = errors.New("chatlog: transient failure")
	// ErrPersistentIO indicates a non-retryable I/O failure.
	ErrPersistentIO = errors.New("chatlog: persistent io failure")
	// ErrRecursionOverflow indicates nesting deeper than the safety bound.
	ErrRecursionOverflow = errors.New("chatlog: recursion depth exceeded")
	// ErrCorruptLog indicates a persisted log that could not be decoded.
	ErrCorruptLog = errors.New("chatlog: corrupt log")
	// ErrInvalidGroupID indicates a group identifier unusable as a log key.
	ErrInvalidGroupID = errors.New("chatlog: invalid group id")
	// ErrSyncInFlight indicates an overlapping request for a group that was
	// dropped instead of queued.
	ErrSyncInFlight = errors.New("chatlog: sync already in flight")
)
