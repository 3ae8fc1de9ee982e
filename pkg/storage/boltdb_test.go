package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/storage"
	"github.com/cuemby/foundry/pkg/types"

	_ "github.com/cuemby/foundry/pkg/driver/hwtype"
	_ "github.com/cuemby/foundry/pkg/driver/workers"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func newStore(t *testing.T, hardwareTypes, workerTypes []string) storage.Store {
	t.Helper()
	cfg := config.Default()
	cfg.EnabledHardwareTypes = hardwareTypes
	cfg.EnabledWorkerTypes = workerTypes
	reg, err := driver.Load(cfg)
	require.NoError(t, err)

	store, err := storage.NewBoltStore(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newFakeStore(t *testing.T) storage.Store {
	return newStore(t, []string{"fake-hardware"}, []string{"fake-worker"})
}

func fakeHardware(name string) *types.Hardware {
	return &types.Hardware{
		Name:         name,
		ProjectID:    "project-a",
		HardwareType: "fake-hardware",
		Properties:   map[string]any{"default_required_field": "x"},
	}
}

func TestCreateHardwareFansOutTasks(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	require.NotEmpty(t, hw.UUID)
	assert.False(t, hw.CreatedAt.IsZero())

	tasks, err := store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "fake-worker", tasks[0].WorkerType)
	assert.Equal(t, types.WorkerStatePending, tasks[0].State)
	assert.NotNil(t, tasks[0].StateDetails)
}

func TestCreateHardwareUniqueness(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))

	dupName := fakeHardware("node-1")
	err := store.CreateHardware(dupName, types.WorkerStatePending)
	assert.True(t, errdefs.IsConflict(err))

	dupUUID := fakeHardware("node-2")
	dupUUID.UUID = hw.UUID
	err = store.CreateHardware(dupUUID, types.WorkerStatePending)
	assert.True(t, errdefs.IsConflict(err))
}

func TestCreateHardwareFillsDefaultsAndTaskOrder(t *testing.T) {
	store := newStore(t, []string{"baremetal"}, []string{"blazar", "ironic"})

	hw := &types.Hardware{
		Name:         "bm-1",
		ProjectID:    "project-a",
		HardwareType: "baremetal",
		Properties: map[string]any{
			"management_address": "10.0.0.5",
			"interfaces": []any{
				map[string]any{"name": "eno1", "mac_address": "aa:bb:cc:dd:ee:ff"},
			},
		},
	}
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	assert.Equal(t, "x86_64", hw.Properties["cpu_arch"])

	tasks, err := store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "blazar", tasks[0].WorkerType)
	assert.Equal(t, "ironic", tasks[1].WorkerType)
}

func TestCreateHardwareAppliesWorkerOverrides(t *testing.T) {
	store := newStore(t, []string{"device"}, []string{"blazar", "k8s", "tunelo"})

	hw := &types.Hardware{
		Name:         "dev-1",
		ProjectID:    "project-a",
		HardwareType: "device",
		Properties: map[string]any{
			"device_type":          "raspberrypi4-64",
			"contact_email":        "ops@example.com",
			"channels":             map[string]any{"user": map[string]any{"channel_type": "wireguard"}},
			"blazar_device_driver": "i-want-something-else",
		},
	}
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	// The hardware type pins the value; user input is discarded.
	assert.Equal(t, "k8s", hw.Properties["blazar_device_driver"])
}

func TestDestroyHardwareSoftDeletes(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	require.NoError(t, store.CreateAvailabilityWindow(&types.AvailabilityWindow{
		HardwareUUID: hw.UUID,
		Start:        time.Now().UTC(),
		End:          time.Now().UTC().Add(time.Hour),
	}))

	// Move the task out of PENDING so the requeue is observable.
	tasks, err := store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	steady := types.WorkerStateSteady
	_, err = store.UpdateWorkerTask(tasks[0].UUID, storage.TaskUpdate{State: &steady})
	require.NoError(t, err)

	require.NoError(t, store.DestroyHardware(hw.UUID))

	_, err = store.GetHardwareByUUID(hw.UUID)
	assert.True(t, errdefs.IsNotFound(err))
	_, err = store.GetHardwareByName("node-1")
	assert.True(t, errdefs.IsNotFound(err))

	// Windows are physically removed.
	windows, err := store.ListAvailabilityWindows(hw.UUID)
	require.NoError(t, err)
	assert.Empty(t, windows)

	// Tasks requeue so workers can release downstream state.
	tasks, err = store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.WorkerStatePending, tasks[0].State)

	// The deleted row is visible when asked for.
	all, err := store.ListHardware(storage.ListOpts{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted)
	require.NotNil(t, all[0].DeletedAt)

	// The name is free for reuse.
	require.NoError(t, store.CreateHardware(fakeHardware("node-1"), types.WorkerStatePending))
}

func TestUpdateHardware(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	other := fakeHardware("node-2")
	require.NoError(t, store.CreateHardware(other, types.WorkerStatePending))

	t.Run("rename", func(t *testing.T) {
		updated := *hw
		updated.Name = "node-1-renamed"
		require.NoError(t, store.UpdateHardware(&updated))

		byName, err := store.GetHardwareByName("node-1-renamed")
		require.NoError(t, err)
		assert.Equal(t, hw.UUID, byName.UUID)
		_, err = store.GetHardwareByName("node-1")
		assert.True(t, errdefs.IsNotFound(err))
	})

	t.Run("rename onto taken name", func(t *testing.T) {
		updated := *hw
		updated.Name = "node-2"
		err := store.UpdateHardware(&updated)
		assert.True(t, errdefs.IsConflict(err))
	})

	t.Run("project_id immutable", func(t *testing.T) {
		updated := *hw
		updated.Name = "node-1-renamed"
		updated.ProjectID = "project-b"
		err := store.UpdateHardware(&updated)
		assert.True(t, errdefs.IsInvalid(err))
	})

	t.Run("hardware_type immutable", func(t *testing.T) {
		updated := *hw
		updated.Name = "node-1-renamed"
		updated.HardwareType = "baremetal"
		err := store.UpdateHardware(&updated)
		assert.True(t, errdefs.IsInvalid(err))
	})
}

func TestListHardwarePagination(t *testing.T) {
	store := newFakeStore(t)

	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		require.NoError(t, store.CreateHardware(fakeHardware(name), types.WorkerStatePending))
	}

	var seen []string
	marker := ""
	for {
		page, err := store.ListHardware(storage.ListOpts{Limit: 2, Marker: marker})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, hw := range page {
			seen = append(seen, hw.Name)
		}
		marker = page[len(page)-1].UUID
	}
	// Insertion order is the default sort.
	assert.Equal(t, names, seen)
}

func TestListHardwareSortAndFilter(t *testing.T) {
	store := newFakeStore(t)

	hwA := fakeHardware("alpha")
	require.NoError(t, store.CreateHardware(hwA, types.WorkerStatePending))
	hwB := fakeHardware("bravo")
	hwB.ProjectID = "project-b"
	require.NoError(t, store.CreateHardware(hwB, types.WorkerStatePending))
	hwC := fakeHardware("charlie")
	require.NoError(t, store.CreateHardware(hwC, types.WorkerStatePending))

	desc, err := store.ListHardware(storage.ListOpts{SortKey: "name", SortDir: "desc"})
	require.NoError(t, err)
	var names []string
	for _, hw := range desc {
		names = append(names, hw.Name)
	}
	assert.Equal(t, []string{"charlie", "bravo", "alpha"}, names)

	mine, err := store.ListHardware(storage.ListOpts{ProjectID: "project-b"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "bravo", mine[0].Name)

	_, err = store.ListHardware(storage.ListOpts{SortKey: "nope"})
	assert.True(t, errdefs.IsInvalid(err))

	_, err = store.ListHardware(storage.ListOpts{Marker: "unknown-marker"})
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUpdateWorkerTaskSteadyToSteadyRejected(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	tasks, err := store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	task := tasks[0]

	steady := types.WorkerStateSteady
	_, err = store.UpdateWorkerTask(task.UUID, storage.TaskUpdate{State: &steady})
	require.NoError(t, err)

	_, err = store.UpdateWorkerTask(task.UUID, storage.TaskUpdate{State: &steady})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalid(err))

	// Details-only updates of a STEADY row stay legal.
	updated, err := store.UpdateWorkerTask(task.UUID, storage.TaskUpdate{
		StateDetails: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateSteady, updated.State)
	assert.Equal(t, "v", updated.StateDetails["k"])
}

func TestSetTasksPendingSkipsInProgress(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	tasks, err := store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	task := tasks[0]

	inProgress := types.WorkerStateInProgress
	_, err = store.UpdateWorkerTask(task.UUID, storage.TaskUpdate{State: &inProgress})
	require.NoError(t, err)

	require.NoError(t, store.SetTasksPending(hw.UUID))
	tasks, err = store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateInProgress, tasks[0].State)

	errState := types.WorkerStateError
	_, err = store.UpdateWorkerTask(task.UUID, storage.TaskUpdate{State: &errState})
	require.NoError(t, err)

	require.NoError(t, store.SetTasksPending(hw.UUID))
	tasks, err = store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatePending, tasks[0].State)
}

func TestGetWorkerTasksInStateSkipsDisabledWorkers(t *testing.T) {
	store := newStore(t, []string{"baremetal"}, []string{"blazar", "ironic"})

	hw := &types.Hardware{
		Name:         "bm-1",
		ProjectID:    "project-a",
		HardwareType: "baremetal",
		Properties: map[string]any{
			"management_address": "10.0.0.5",
			"interfaces": []any{
				map[string]any{"name": "eno1", "mac_address": "aa:bb:cc:dd:ee:ff"},
			},
		},
	}
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))

	pending, err := store.GetWorkerTasksInState(types.WorkerStatePending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	steady, err := store.GetWorkerTasksInState(types.WorkerStateSteady)
	require.NoError(t, err)
	assert.Empty(t, steady)
}

func TestAvailabilityWindows(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))

	later := types.AvailabilityWindow{
		HardwareUUID: hw.UUID,
		Start:        time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
	}
	earlier := types.AvailabilityWindow{
		HardwareUUID: hw.UUID,
		Start:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateAvailabilityWindow(&later))
	require.NoError(t, store.CreateAvailabilityWindow(&earlier))

	windows, err := store.ListAvailabilityWindows(hw.UUID)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, earlier.UUID, windows[0].UUID, "windows sort by start time")

	// Windows cannot reference missing or deleted hardware.
	err = store.CreateAvailabilityWindow(&types.AvailabilityWindow{
		HardwareUUID: "00000000-0000-0000-0000-000000000000",
		Start:        earlier.Start,
		End:          earlier.End,
	})
	assert.True(t, errdefs.IsNotFound(err))

	// Windows cannot move between hardware.
	moved := windows[0]
	moved.HardwareUUID = "00000000-0000-0000-0000-000000000000"
	err = store.UpdateAvailabilityWindow(&moved)
	assert.True(t, errdefs.IsInvalid(err))

	require.NoError(t, store.DestroyAvailabilityWindow(later.UUID))
	err = store.DestroyAvailabilityWindow(later.UUID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestCommitPatch(t *testing.T) {
	store := newFakeStore(t)

	hw := fakeHardware("node-1")
	require.NoError(t, store.CreateHardware(hw, types.WorkerStatePending))
	old := types.AvailabilityWindow{
		HardwareUUID: hw.UUID,
		Start:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateAvailabilityWindow(&old))

	tasks, err := store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	steady := types.WorkerStateSteady
	_, err = store.UpdateWorkerTask(tasks[0].UUID, storage.TaskUpdate{State: &steady})
	require.NoError(t, err)

	patched := *hw
	patched.Name = "node-1-patched"
	add := types.AvailabilityWindow{
		UUID:         "7b66ad33-9c0b-47a9-9a74-21b84e2e9c40",
		HardwareUUID: hw.UUID,
		Start:        time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CommitPatch(&patched,
		[]types.AvailabilityWindow{add}, nil, []string{old.UUID}))

	got, err := store.GetHardwareByUUID(hw.UUID)
	require.NoError(t, err)
	assert.Equal(t, "node-1-patched", got.Name)

	windows, err := store.ListAvailabilityWindows(hw.UUID)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, add.UUID, windows[0].UUID)

	// The patch requeued the STEADY task.
	tasks, err = store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatePending, tasks[0].State)
}
