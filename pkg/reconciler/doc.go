/*
Package reconciler drives pending worker tasks to steady state.

The reconciler runs as a background process that periodically claims
PENDING tasks, invokes the matching worker with a consistent snapshot of
the hardware and its availability windows, and records the outcome.

# Dispatch

Each cycle takes one snapshot and fans it out in waves:

	PENDING tasks
	    │ group by hardware, take the nth task of each group
	    ▼
	layers ── chunk (task_concurrency) ── semaphore (task_pool_size)
	    │
	    ▼
	worker.Process → STEADY / PENDING (deferred) / ERROR

Layering means at most one task per hardware runs in a wave, so workers
for the same hardware never race each other. Chunks are cut within a layer
and never span two layers; a chunk completes before the next starts.
Within a chunk, tasks that cannot get a pool slot are skipped and picked
up on the next tick.

Each task is claimed by flipping it to IN_PROGRESS before the worker runs;
a claim that loses the race is skipped silently. Worker panics are
recovered per task and recorded as an unhandled error, so one broken
driver cannot take down the cycle.

The snapshot includes soft-deleted hardware: their requeued tasks are how
workers observe deletion and release downstream resources.
*/
package reconciler
