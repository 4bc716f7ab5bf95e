package task

import "errors"

// Engine-level errors. These classify the expected race outcomes of the
// claim/complete protocol; none of them indicates a broken system.
var (
	// ErrNoTaskAvailable is returned by Claim when the queue has nothing
	// claimable. Polling workers treat this as "sleep and try again".
	ErrNoTaskAvailable = errors.New("no task available")

	// ErrStaleClaim is returned when an ACK or FAIL references a task that
	// is currently claimed by a different worker — typically because a
	// sweep reassigned the task while the original worker's completion was
	// in flight. The completion must not overwrite the new claim.
	ErrStaleClaim = errors.New("stale claim")

	// ErrInvalidTransition is returned when an ACK or FAIL references a
	// task that is not in the claimed state (and, for ACK, not already
	// done). Surfaced rather than swallowed so misbehaving workers are
	// visible.
	ErrInvalidTransition = errors.New("invalid task transition")
)
