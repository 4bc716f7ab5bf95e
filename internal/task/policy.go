package task

// Outcome is the retry policy's decision for a failed task.
type Outcome int

// Possible policy outcomes
const (
	// OutcomeRequeue returns the task to the queue at high priority.
	OutcomeRequeue Outcome = iota

	// OutcomeDeadLetter retires the task to the terminal failure bucket
	// for manual intervention.
	OutcomeDeadLetter
)

// String returns a human-readable name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeRequeue:
		return "requeue"
	case OutcomeDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Decide is the shared retry/dead-letter decision. attempts is the task's
// failure count including the failure being recorded right now; when it
// reaches maxAttempts the task is dead-lettered, otherwise it is requeued.
//
// This is a pure function with no side effects. The FAIL handler, the
// heartbeat monitor and the stuck-task sweep all route through it, so the
// three recovery paths can never drift apart in policy. Callers apply the
// decision with a conditional update keyed on the attempts value they read,
// which is what keeps two racing recovery paths from double-applying it.
func Decide(attempts, maxAttempts int) Outcome {
	if attempts >= maxAttempts {
		return OutcomeDeadLetter
	}
	return OutcomeRequeue
}
