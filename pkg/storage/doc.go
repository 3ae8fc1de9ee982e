/*
Package storage provides BoltDB-backed persistence for the hardware inventory.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for hardware, availability
windows and worker tasks. All rows are serialized as JSON and kept in
separate buckets, with a secondary index for the hardware name uniqueness
constraint.

# Bucket layout

	┌──────────────────── BOLTDB STORAGE ────────────────────┐
	│                                                         │
	│  hardware               uuid → Hardware JSON            │
	│  hardware_names         name → uuid (non-deleted only)  │
	│  availability_windows   uuid → AvailabilityWindow JSON  │
	│  worker_tasks           uuid → WorkerTask JSON          │
	│                                                         │
	└─────────────────────────────────────────────────────────┘

Every row carries a Seq assigned from the bucket's NextSequence counter.
Seq is the keyset-pagination cursor: listings sort by it and resume after
the marker row, so pages stay stable while rows are inserted.

# Write semantics

Writes that span entities run in one bolt transaction:

  - CreateHardware inserts the row, claims the name, applies hardware-type
    property defaults and worker overrides, and fans out one WorkerTask per
    enabled worker.
  - DestroyHardware soft-deletes the hardware, releases its name, removes
    its availability windows, and requeues every task so workers can tear
    down downstream state.
  - CommitPatch applies a patched document (hardware fields plus the full
    availability window set) and requeues tasks, atomically.

Task state transitions are enforced here: a STEADY task cannot be written
STEADY again, and SetTasksPending leaves IN_PROGRESS rows alone so a
running worker is never preempted.
*/
package storage
