/*
Package types defines the core data model shared across all Foundry packages.

The three entities mirror the persisted tables:

  - Hardware: a managed compute unit with a declared hardware type and
    free-form typed properties. Destroyed hardware is soft-deleted; the name
    uniqueness constraint only covers non-deleted rows.
  - AvailabilityWindow: a bookable time interval, owned by a Hardware.
  - WorkerTask: one reconciliation row per (hardware, worker) pair, carrying
    the PENDING / IN_PROGRESS / STEADY / ERROR state machine and an opaque
    state_details map.

state_details is owned jointly: the reconciler manages the transient keys
(last_error, defer_count, defer_reason, result) and workers persist their own
payload keys. On a successful reconcile all transient keys are cleared.
*/
package types
