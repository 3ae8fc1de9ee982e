package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/types"
)

var (
	// Bucket names
	bucketHardware      = []byte("hardware")
	bucketHardwareNames = []byte("hardware_names")
	bucketWindows       = []byte("availability_windows")
	bucketTasks         = []byte("worker_tasks")
)

// hardwareRecord wraps a Hardware with its insertion sequence, the keyset
// pagination cursor.
type hardwareRecord struct {
	types.Hardware
	Seq uint64 `json:"seq"`
}

// taskRecord wraps a WorkerTask with its insertion sequence, which fixes the
// per-hardware execution order.
type taskRecord struct {
	types.WorkerTask
	Seq uint64 `json:"seq"`
}

// BoltStore implements Store using BoltDB. The driver registry is consulted
// for task fan-out on create and for filtering tasks of disabled workers.
type BoltStore struct {
	db       *bolt.DB
	registry *driver.Registry
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string, registry *driver.Registry) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "foundry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketHardware,
			bucketHardwareNames,
			bucketWindows,
			bucketTasks,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, registry: registry}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Hardware operations

// CreateHardware inserts the hardware row plus one worker task per worker
// enabled for its hardware type, all in one transaction. Worker field
// defaults are filled into properties when the user omitted them, and the
// hardware type's worker overrides are applied last.
func (s *BoltStore) CreateHardware(hw *types.Hardware, initialTaskState types.WorkerState) error {
	if initialTaskState == "" {
		initialTaskState = types.WorkerStatePending
	}
	if hw.UUID == "" {
		hw.UUID = uuid.New().String()
	}
	if hw.Properties == nil {
		hw.Properties = map[string]any{}
	}

	hwt, err := s.registry.HardwareType(hw.HardwareType)
	if err != nil {
		return err
	}

	for _, field := range s.registry.FieldsFor(hwt) {
		if field.Default != nil {
			if _, ok := hw.Properties[field.Name]; !ok {
				hw.Properties[field.Name] = field.Default
			}
		}
	}
	for name, value := range hwt.WorkerOverrides() {
		hw.Properties[name] = value
	}

	now := time.Now().UTC()
	hw.CreatedAt = now
	hw.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHardware)
		nb := tx.Bucket(bucketHardwareNames)
		tb := tx.Bucket(bucketTasks)

		if hb.Get([]byte(hw.UUID)) != nil {
			return errdefs.HardwareAlreadyExists(hw.UUID)
		}
		if nb.Get([]byte(hw.Name)) != nil {
			return errdefs.HardwareDuplicateName(hw.Name)
		}

		seq, err := hb.NextSequence()
		if err != nil {
			return err
		}
		if err := putJSON(hb, hw.UUID, &hardwareRecord{Hardware: *hw, Seq: seq}); err != nil {
			return err
		}
		if err := nb.Put([]byte(hw.Name), []byte(hw.UUID)); err != nil {
			return err
		}

		for _, w := range s.registry.WorkersFor(hwt) {
			taskSeq, err := tb.NextSequence()
			if err != nil {
				return err
			}
			task := taskRecord{
				WorkerTask: types.WorkerTask{
					UUID:         uuid.New().String(),
					HardwareUUID: hw.UUID,
					WorkerType:   w.WorkerType(),
					State:        initialTaskState,
					StateDetails: map[string]any{},
					CreatedAt:    now,
					UpdatedAt:    now,
				},
				Seq: taskSeq,
			}
			if err := putJSON(tb, task.UUID, &task); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateHardware persists changes to a non-deleted hardware row. Immutable
// fields and worker-override properties are rejected if changed.
func (s *BoltStore) UpdateHardware(hw *types.Hardware) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		updated, err := s.updateHardwareTx(tx, hw)
		if err != nil {
			return err
		}
		*hw = updated.Hardware
		return nil
	})
}

func (s *BoltStore) updateHardwareTx(tx *bolt.Tx, hw *types.Hardware) (*hardwareRecord, error) {
	hb := tx.Bucket(bucketHardware)
	nb := tx.Bucket(bucketHardwareNames)

	existing, err := getHardwareTx(tx, hw.UUID)
	if err != nil {
		return nil, err
	}

	if hw.ProjectID != existing.ProjectID {
		return nil, errdefs.InvalidParameterValue(
			"cannot overwrite project_id for existing hardware")
	}
	if hw.HardwareType != existing.HardwareType {
		return nil, errdefs.InvalidParameterValue(
			"cannot overwrite hardware_type for existing hardware")
	}

	hwt, err := s.registry.HardwareType(existing.HardwareType)
	if err != nil {
		return nil, err
	}
	// Worker overrides are pinned by the hardware type; silently restore
	// them, matching update semantics for server-controlled fields.
	if hw.Properties == nil {
		hw.Properties = map[string]any{}
	}
	for name, value := range hwt.WorkerOverrides() {
		hw.Properties[name] = value
	}

	if hw.Name != existing.Name {
		if nb.Get([]byte(hw.Name)) != nil {
			return nil, errdefs.HardwareDuplicateName(hw.Name)
		}
		if err := nb.Delete([]byte(existing.Name)); err != nil {
			return nil, err
		}
		if err := nb.Put([]byte(hw.Name), []byte(hw.UUID)); err != nil {
			return nil, err
		}
	}

	record := hardwareRecord{Hardware: *hw, Seq: existing.Seq}
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	record.Deleted = existing.Deleted
	record.DeletedAt = existing.DeletedAt
	if err := putJSON(hb, hw.UUID, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DestroyHardware soft-deletes the hardware, physically removes its
// availability windows, and requeues its tasks so workers observe the
// deletion and release downstream state.
func (s *BoltStore) DestroyHardware(hardwareUUID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHardware)
		nb := tx.Bucket(bucketHardwareNames)

		record, err := getHardwareTx(tx, hardwareUUID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		record.Deleted = true
		record.DeletedAt = &now
		record.UpdatedAt = now
		if err := putJSON(hb, record.UUID, record); err != nil {
			return err
		}
		// Lift the name uniqueness constraint for this row.
		if err := nb.Delete([]byte(record.Name)); err != nil {
			return err
		}

		if err := deleteWindowsForHardwareTx(tx, hardwareUUID); err != nil {
			return err
		}
		return setTasksPendingTx(tx, hardwareUUID)
	})
}

// GetHardwareByUUID returns a non-deleted hardware by UUID.
func (s *BoltStore) GetHardwareByUUID(hardwareUUID string) (*types.Hardware, error) {
	var hw *types.Hardware
	err := s.db.View(func(tx *bolt.Tx) error {
		record, err := getHardwareTx(tx, hardwareUUID)
		if err != nil {
			return err
		}
		hw = &record.Hardware
		return nil
	})
	return hw, err
}

// GetHardwareByName returns a non-deleted hardware by name.
func (s *BoltStore) GetHardwareByName(name string) (*types.Hardware, error) {
	var hw *types.Hardware
	err := s.db.View(func(tx *bolt.Tx) error {
		nb := tx.Bucket(bucketHardwareNames)
		uuidBytes := nb.Get([]byte(name))
		if uuidBytes == nil {
			return errdefs.HardwareNotFound(name)
		}
		record, err := getHardwareTx(tx, string(uuidBytes))
		if err != nil {
			return err
		}
		hw = &record.Hardware
		return nil
	})
	return hw, err
}

// ListHardware returns hardware rows with keyset pagination by insertion
// sequence, optionally under a secondary sort key.
func (s *BoltStore) ListHardware(opts ListOpts) ([]*types.Hardware, error) {
	less, err := hardwareSortFunc(opts.SortKey, opts.SortDir)
	if err != nil {
		return nil, err
	}

	var records []hardwareRecord
	var markerRecord *hardwareRecord
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHardware)
		return b.ForEach(func(k, v []byte) error {
			var record hardwareRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.UUID == opts.Marker {
				markerRecord = &record
			}
			if record.Deleted && !opts.IncludeDeleted {
				return nil
			}
			if opts.ProjectID != "" && record.ProjectID != opts.ProjectID {
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if opts.Marker != "" && markerRecord == nil {
		return nil, errdefs.HardwareNotFound(opts.Marker)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return less(&records[i], &records[j])
	})

	start := 0
	if markerRecord != nil {
		start = len(records)
		for i := range records {
			if records[i].UUID == markerRecord.UUID {
				start = i + 1
				break
			}
			// The marker row itself may be filtered out of this page;
			// resume at the first row sorting after it.
			if !less(&records[i], markerRecord) {
				start = i
				break
			}
		}
	}

	end := len(records)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > end {
		start = end
	}

	result := make([]*types.Hardware, 0, end-start)
	for i := start; i < end; i++ {
		hw := records[i].Hardware
		result = append(result, &hw)
	}
	return result, nil
}

func hardwareSortFunc(sortKey, sortDir string) (func(a, b *hardwareRecord) bool, error) {
	var key func(r *hardwareRecord) string
	switch sortKey {
	case "", "id":
		key = nil
	case "name":
		key = func(r *hardwareRecord) string { return r.Name }
	case "project_id":
		key = func(r *hardwareRecord) string { return r.ProjectID }
	case "hardware_type":
		key = func(r *hardwareRecord) string { return r.HardwareType }
	case "created_at":
		key = func(r *hardwareRecord) string { return r.CreatedAt.Format(time.RFC3339Nano) }
	case "updated_at":
		key = func(r *hardwareRecord) string { return r.UpdatedAt.Format(time.RFC3339Nano) }
	default:
		return nil, errdefs.InvalidParameterValue(
			"the sort_key value %q is an invalid field for sorting", sortKey)
	}

	desc := false
	switch sortDir {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, errdefs.InvalidParameterValue(
			"the sort_dir value %q is not one of asc, desc", sortDir)
	}

	return func(a, b *hardwareRecord) bool {
		if key != nil {
			ka, kb := key(a), key(b)
			if ka != kb {
				if desc {
					return ka > kb
				}
				return ka < kb
			}
		}
		if desc {
			return a.Seq > b.Seq
		}
		return a.Seq < b.Seq
	}, nil
}

// Availability window operations

// CreateAvailabilityWindow inserts a window for a non-deleted hardware.
func (s *BoltStore) CreateAvailabilityWindow(w *types.AvailabilityWindow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return createWindowTx(tx, w)
	})
}

func createWindowTx(tx *bolt.Tx, w *types.AvailabilityWindow) error {
	if w.UUID == "" {
		w.UUID = uuid.New().String()
	}
	if _, err := getHardwareTx(tx, w.HardwareUUID); err != nil {
		return err
	}
	wb := tx.Bucket(bucketWindows)
	if wb.Get([]byte(w.UUID)) != nil {
		return errdefs.HardwareAlreadyExists(w.UUID)
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	return putJSON(wb, w.UUID, w)
}

// UpdateAvailabilityWindow persists changes to an existing window.
func (s *BoltStore) UpdateAvailabilityWindow(w *types.AvailabilityWindow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return updateWindowTx(tx, w)
	})
}

func updateWindowTx(tx *bolt.Tx, w *types.AvailabilityWindow) error {
	wb := tx.Bucket(bucketWindows)
	data := wb.Get([]byte(w.UUID))
	if data == nil {
		return errdefs.AvailabilityWindowNotFound(w.UUID)
	}
	var existing types.AvailabilityWindow
	if err := json.Unmarshal(data, &existing); err != nil {
		return err
	}
	if w.HardwareUUID != existing.HardwareUUID {
		return errdefs.InvalidParameterValue(
			"cannot overwrite hardware_uuid for existing availability window")
	}
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = time.Now().UTC()
	return putJSON(wb, w.UUID, w)
}

// DestroyAvailabilityWindow removes a window.
func (s *BoltStore) DestroyAvailabilityWindow(windowUUID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return destroyWindowTx(tx, windowUUID)
	})
}

func destroyWindowTx(tx *bolt.Tx, windowUUID string) error {
	wb := tx.Bucket(bucketWindows)
	if wb.Get([]byte(windowUUID)) == nil {
		return errdefs.AvailabilityWindowNotFound(windowUUID)
	}
	return wb.Delete([]byte(windowUUID))
}

func deleteWindowsForHardwareTx(tx *bolt.Tx, hardwareUUID string) error {
	wb := tx.Bucket(bucketWindows)
	var toDelete [][]byte
	err := wb.ForEach(func(k, v []byte) error {
		var w types.AvailabilityWindow
		if err := json.Unmarshal(v, &w); err != nil {
			return err
		}
		if w.HardwareUUID == hardwareUUID {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ListAvailabilityWindows returns the windows for one hardware, ordered by
// start time.
func (s *BoltStore) ListAvailabilityWindows(hardwareUUID string) ([]types.AvailabilityWindow, error) {
	all, err := s.ListAllAvailabilityWindows()
	if err != nil {
		return nil, err
	}
	return all[hardwareUUID], nil
}

// ListAllAvailabilityWindows returns every window grouped by hardware UUID.
func (s *BoltStore) ListAllAvailabilityWindows() (map[string][]types.AvailabilityWindow, error) {
	grouped := make(map[string][]types.AvailabilityWindow)
	err := s.db.View(func(tx *bolt.Tx) error {
		wb := tx.Bucket(bucketWindows)
		return wb.ForEach(func(k, v []byte) error {
			var w types.AvailabilityWindow
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			grouped[w.HardwareUUID] = append(grouped[w.HardwareUUID], w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, windows := range grouped {
		sort.Slice(windows, func(i, j int) bool {
			return windows[i].Start.Before(windows[j].Start)
		})
	}
	return grouped, nil
}

// Worker task operations

// GetWorkerTasksInState returns tasks in the given state whose worker type
// is currently enabled. Tasks for disabled workers are dormant and skipped.
// Order preserves per-hardware task creation order.
func (s *BoltStore) GetWorkerTasksInState(state types.WorkerState) ([]*types.WorkerTask, error) {
	var records []taskRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		return tb.ForEach(func(k, v []byte) error {
			var record taskRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.State != state {
				return nil
			}
			if !s.registry.WorkerEnabled(record.WorkerType) {
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return taskPointers(records), nil
}

// ListWorkerTasksForHardware returns the enabled-worker tasks of one
// hardware in creation order.
func (s *BoltStore) ListWorkerTasksForHardware(hardwareUUID string) ([]*types.WorkerTask, error) {
	var records []taskRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		return tb.ForEach(func(k, v []byte) error {
			var record taskRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.HardwareUUID != hardwareUUID {
				return nil
			}
			if !s.registry.WorkerEnabled(record.WorkerType) {
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return taskPointers(records), nil
}

// UpdateWorkerTask applies a partial update to a task. A STEADY row cannot
// be re-written as STEADY; callers persist details first and set State only
// when it changed.
func (s *BoltStore) UpdateWorkerTask(taskUUID string, update TaskUpdate) (*types.WorkerTask, error) {
	var result *types.WorkerTask
	err := s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		data := tb.Get([]byte(taskUUID))
		if data == nil {
			return errdefs.WorkerTaskNotFound(taskUUID)
		}
		var record taskRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}

		if update.StateDetails != nil {
			record.StateDetails = update.StateDetails
		}
		if record.StateDetails == nil {
			record.StateDetails = map[string]any{}
		}
		if update.State != nil {
			if *update.State == types.WorkerStateSteady && record.State == types.WorkerStateSteady {
				return errdefs.InvalidParameterValue(
					"worker task %s is already STEADY", taskUUID)
			}
			record.State = *update.State
		}
		record.UpdatedAt = time.Now().UTC()

		if err := putJSON(tb, record.UUID, &record); err != nil {
			return err
		}
		result = &record.WorkerTask
		return nil
	})
	return result, err
}

// SetTasksPending requeues every task of a hardware that is not currently
// IN_PROGRESS. IN_PROGRESS tasks observe the new state on their next scan.
func (s *BoltStore) SetTasksPending(hardwareUUID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return setTasksPendingTx(tx, hardwareUUID)
	})
}

func setTasksPendingTx(tx *bolt.Tx, hardwareUUID string) error {
	tb := tx.Bucket(bucketTasks)
	var records []taskRecord
	err := tb.ForEach(func(k, v []byte) error {
		var record taskRecord
		if err := json.Unmarshal(v, &record); err != nil {
			return err
		}
		if record.HardwareUUID != hardwareUUID {
			return nil
		}
		if record.State == types.WorkerStateInProgress || record.State == types.WorkerStatePending {
			return nil
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range records {
		records[i].State = types.WorkerStatePending
		records[i].UpdatedAt = now
		if err := putJSON(tb, records[i].UUID, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

// CommitPatch persists a patched hardware and its window delta in one
// transaction, then requeues the hardware's non-IN_PROGRESS tasks.
func (s *BoltStore) CommitPatch(hw *types.Hardware, add, update []types.AvailabilityWindow, removeUUIDs []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := s.updateHardwareTx(tx, hw); err != nil {
			return err
		}
		for i := range add {
			if err := createWindowTx(tx, &add[i]); err != nil {
				return err
			}
		}
		for i := range update {
			if err := updateWindowTx(tx, &update[i]); err != nil {
				return err
			}
		}
		for _, windowUUID := range removeUUIDs {
			if err := destroyWindowTx(tx, windowUUID); err != nil {
				return err
			}
		}
		return setTasksPendingTx(tx, hw.UUID)
	})
}

// Helpers

func getHardwareTx(tx *bolt.Tx, hardwareUUID string) (*hardwareRecord, error) {
	hb := tx.Bucket(bucketHardware)
	data := hb.Get([]byte(hardwareUUID))
	if data == nil {
		return nil, errdefs.HardwareNotFound(hardwareUUID)
	}
	var record hardwareRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	if record.Deleted {
		return nil, errdefs.HardwareNotFound(hardwareUUID)
	}
	return &record, nil
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func taskPointers(records []taskRecord) []*types.WorkerTask {
	tasks := make([]*types.WorkerTask, len(records))
	for i := range records {
		tasks[i] = &records[i].WorkerTask
	}
	return tasks
}
