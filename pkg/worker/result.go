package worker

// Outcome distinguishes the result variants a worker can return.
type Outcome int

const (
	// OutcomeUnknown is the zero value; the reconciler interprets it as a
	// success with a fallback payload and logs a warning.
	OutcomeUnknown Outcome = iota

	// OutcomeSuccess means the downstream system now matches desired state.
	OutcomeSuccess

	// OutcomeDefer means the worker cannot proceed yet but expects to on a
	// later tick, once downstream state becomes consistent.
	OutcomeDefer

	// OutcomeError means the task failed; it stays in ERROR until the next
	// user edit or sync trigger.
	OutcomeError
)

// Result is the tagged return value of Worker.Process. Payload keys are
// merged into the task's state_details; Reason and Err populate the
// reconciler-owned transient keys.
type Result struct {
	Outcome Outcome
	Payload map[string]any
	Reason  string
	Err     error
}

// Success reports completion, with optional payload to persist in
// state_details.
func Success(payload map[string]any) Result {
	return Result{Outcome: OutcomeSuccess, Payload: payload}
}

// Defer requests a retry on the next reconciler tick.
func Defer(reason string, payload map[string]any) Result {
	return Result{Outcome: OutcomeDefer, Payload: payload, Reason: reason}
}

// Error reports a failure. Domain errors (errdefs kinds) are recorded with
// their message; anything else is recorded as an unhandled error.
func Error(err error) Result {
	return Result{Outcome: OutcomeError, Err: err}
}
