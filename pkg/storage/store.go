package storage

import (
	"github.com/cuemby/foundry/pkg/types"
)

// ListOpts controls hardware list queries.
type ListOpts struct {
	// Limit caps the number of rows returned. Zero means no limit.
	Limit int

	// Marker is the UUID of the last row of the previous page; rows are
	// returned strictly after it in the sort order.
	Marker string

	// SortKey optionally names a secondary sort column: one of name,
	// created_at, updated_at, hardware_type, project_id. The insertion
	// sequence is always the final tiebreaker.
	SortKey string

	// SortDir is "asc" (default) or "desc".
	SortDir string

	// ProjectID filters to one tenant when non-empty.
	ProjectID string

	// IncludeDeleted includes soft-deleted rows.
	IncludeDeleted bool
}

// TaskUpdate is a partial update to a worker task. Nil fields are left
// unchanged. State carries the STEADY-to-STEADY restriction: writing the
// state it already has is rejected for STEADY rows, so callers persist
// details first and set State only when it actually changed.
type TaskUpdate struct {
	State        *types.WorkerState
	StateDetails map[string]any
}

// Store is the durable storage for hardware, availability windows, and
// worker tasks. One logical transaction per call; composite operations
// (CreateHardware, DestroyHardware, CommitPatch) are atomic.
type Store interface {
	// Hardware
	CreateHardware(hw *types.Hardware, initialTaskState types.WorkerState) error
	UpdateHardware(hw *types.Hardware) error
	DestroyHardware(uuid string) error
	GetHardwareByUUID(uuid string) (*types.Hardware, error)
	GetHardwareByName(name string) (*types.Hardware, error)
	ListHardware(opts ListOpts) ([]*types.Hardware, error)

	// Availability windows
	CreateAvailabilityWindow(w *types.AvailabilityWindow) error
	UpdateAvailabilityWindow(w *types.AvailabilityWindow) error
	DestroyAvailabilityWindow(uuid string) error
	ListAvailabilityWindows(hardwareUUID string) ([]types.AvailabilityWindow, error)
	ListAllAvailabilityWindows() (map[string][]types.AvailabilityWindow, error)

	// Worker tasks
	GetWorkerTasksInState(state types.WorkerState) ([]*types.WorkerTask, error)
	ListWorkerTasksForHardware(hardwareUUID string) ([]*types.WorkerTask, error)
	UpdateWorkerTask(uuid string, update TaskUpdate) (*types.WorkerTask, error)
	SetTasksPending(hardwareUUID string) error

	// CommitPatch atomically persists the outcome of a hardware patch: the
	// updated hardware row, window inserts/updates/removals, and requeues
	// every task for the hardware that is not IN_PROGRESS.
	CommitPatch(hw *types.Hardware, add, update []types.AvailabilityWindow, removeUUIDs []string) error

	Close() error
}
