package types

import (
	"time"
)

// Hardware represents a managed compute unit in the inventory.
type Hardware struct {
	UUID         string         `json:"uuid"`
	Name         string         `json:"name"`
	ProjectID    string         `json:"project_id"`
	HardwareType string         `json:"hardware_type"`
	Properties   map[string]any `json:"properties"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Deleted      bool           `json:"deleted"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}

// AvailabilityWindow is a [start, end) interval during which a hardware
// item is bookable downstream. Windows only exist for non-deleted hardware.
type AvailabilityWindow struct {
	UUID         string    `json:"uuid"`
	HardwareUUID string    `json:"hardware_uuid"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WorkerState represents the state of a worker task.
type WorkerState string

const (
	WorkerStatePending    WorkerState = "PENDING"
	WorkerStateInProgress WorkerState = "IN_PROGRESS"
	WorkerStateSteady     WorkerState = "STEADY"
	WorkerStateError      WorkerState = "ERROR"
)

// Transient state_details keys owned by the reconciler. Workers own every
// other key in the map.
const (
	LastErrorDetail       = "last_error"
	DeferCountDetail      = "defer_count"
	DeferReasonDetail     = "defer_reason"
	FallbackPayloadDetail = "result"
)

// TransientDetails lists the state_details keys cleared on success.
var TransientDetails = []string{
	LastErrorDetail,
	DeferCountDetail,
	DeferReasonDetail,
	FallbackPayloadDetail,
}

// WorkerTask is the per-(hardware, worker) reconciliation row. One task is
// created per enabled worker when the hardware is enrolled, and the pair
// (HardwareUUID, WorkerType) is unique. Tasks survive soft-deletion of their
// hardware so workers can release downstream state.
type WorkerTask struct {
	UUID         string         `json:"uuid"`
	HardwareUUID string         `json:"hardware_uuid"`
	WorkerType   string         `json:"worker_type"`
	State        WorkerState    `json:"state"`
	StateDetails map[string]any `json:"state_details"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DeferCount reads the defer counter out of state details. The counter is
// stored as a JSON number, so it may round-trip as float64.
func (t *WorkerTask) DeferCount() int {
	switch v := t.StateDetails[DeferCountDetail].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Clone returns a copy of the task safe to hand to a worker: state details
// are copied so concurrent executions never share the map.
func (t *WorkerTask) Clone() *WorkerTask {
	dup := *t
	dup.StateDetails = make(map[string]any, len(t.StateDetails))
	for k, v := range t.StateDetails {
		dup.StateDetails[k] = v
	}
	return &dup
}
