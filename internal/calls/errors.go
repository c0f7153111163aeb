package calls

import "errors"

var (
	// ErrSystemShutDown is returned when a call is rejected (or an
	// in-flight call cancelled) because the manager is draining or
	// terminated.
	ErrSystemShutDown = errors.New("call system shut down")

	// ErrTimeout is returned when a call's per-call timeout expires
	// before a response arrives.
	ErrTimeout = errors.New("call timed out")

	// ErrCancelled is returned when the caller's task was cancelled
	// while the call was in flight.
	ErrCancelled = errors.New("call cancelled")

	// ErrDuplicateCallID is returned when a call ID is registered
	// twice. Call IDs are unique per client system and never reused.
	ErrDuplicateCallID = errors.New("duplicate call id")
)
