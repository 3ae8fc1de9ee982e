package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/worker"
)

// HardwareType is a named class of Hardware: it enumerates which workers
// apply, contributes default property fields, and may pin worker field
// values that end users cannot override.
type HardwareType interface {
	Name() string

	// EnabledWorkers lists worker type names valid for this hardware type,
	// in the order their tasks should be created.
	EnabledWorkers() []string

	// DefaultFields are property slots that apply to the type generically.
	DefaultFields() []worker.Field

	// WorkerOverrides maps worker field names to pinned values, applied
	// last on enroll. End users cannot set or change these.
	WorkerOverrides() map[string]any
}

// Compile-time registry. Drivers register themselves from init functions;
// Load then filters the registry down to what configuration enables.
var (
	registryMu      sync.Mutex
	hardwareTypeReg = map[string]HardwareType{}
	workerReg       = map[string]worker.Worker{}
)

// RegisterHardwareType adds a hardware type to the compile-time registry.
// Intended to be called from driver init functions; duplicate names panic
// since they indicate a programmer error.
func RegisterHardwareType(hwt HardwareType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := hardwareTypeReg[hwt.Name()]; ok {
		panic(fmt.Sprintf("hardware type %q registered twice", hwt.Name()))
	}
	hardwareTypeReg[hwt.Name()] = hwt
}

// RegisterWorker adds a worker to the compile-time registry.
func RegisterWorker(w worker.Worker) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := workerReg[w.WorkerType()]; ok {
		panic(fmt.Sprintf("worker type %q registered twice", w.WorkerType()))
	}
	workerReg[w.WorkerType()] = w
}

// Registry is the set of enabled drivers. It is built once at process start
// and shared read-only by all concurrent task executions.
type Registry struct {
	hardwareTypes map[string]HardwareType
	workers       map[string]worker.Worker
}

// Load filters the compile-time registry by the enabled names in cfg and
// hands each enabled worker its configuration group. Fatal at startup: an
// enabled name that is not compiled in, or an empty enabled set, aborts the
// process.
func Load(cfg *config.Config) (*Registry, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	r := &Registry{
		hardwareTypes: make(map[string]HardwareType),
		workers:       make(map[string]worker.Worker),
	}

	for _, name := range cfg.EnabledHardwareTypes {
		hwt, ok := hardwareTypeReg[name]
		if !ok {
			return nil, fmt.Errorf("enabled hardware type is not compiled in: %w",
				errdefs.DriverNotFound(name))
		}
		r.hardwareTypes[name] = hwt
	}

	for _, name := range cfg.EnabledWorkerTypes {
		w, ok := workerReg[name]
		if !ok {
			return nil, fmt.Errorf("enabled worker type is not compiled in: %w",
				errdefs.DriverNotFound(name))
		}
		if cr, ok := w.(worker.ConfigReceiver); ok {
			if err := cr.SetConfig(cfg); err != nil {
				return nil, fmt.Errorf("failed to load driver %s: %w", name, err)
			}
		}
		r.workers[name] = w
	}

	if len(r.hardwareTypes) == 0 || len(r.workers) == 0 {
		return nil, fmt.Errorf("no hardware types or workers were loaded")
	}

	logger := log.WithComponent("driver")
	logger.Info().
		Strs("hardware_types", sortedKeys(r.hardwareTypes)).
		Strs("worker_types", sortedKeys(r.workers)).
		Msg("Loaded drivers")
	return r, nil
}

// HardwareType looks up an enabled hardware type by name.
func (r *Registry) HardwareType(name string) (HardwareType, error) {
	hwt, ok := r.hardwareTypes[name]
	if !ok {
		return nil, errdefs.DriverNotFound(name)
	}
	return hwt, nil
}

// Worker looks up an enabled worker by type name.
func (r *Registry) Worker(name string) (worker.Worker, error) {
	w, ok := r.workers[name]
	if !ok {
		return nil, errdefs.DriverNotFound(name)
	}
	return w, nil
}

// HardwareTypes returns all enabled hardware types keyed by name.
func (r *Registry) HardwareTypes() map[string]HardwareType {
	return r.hardwareTypes
}

// Workers returns all enabled workers keyed by type name.
func (r *Registry) Workers() map[string]worker.Worker {
	return r.workers
}

// WorkerEnabled reports whether the named worker type is enabled.
func (r *Registry) WorkerEnabled(name string) bool {
	_, ok := r.workers[name]
	return ok
}

// WorkersFor returns the enabled workers valid for a hardware type, in the
// hardware type's declared order. Workers the type lists but configuration
// disables are skipped; their tasks stay dormant until re-enabled.
func (r *Registry) WorkersFor(hwt HardwareType) []worker.Worker {
	var workers []worker.Worker
	for _, name := range hwt.EnabledWorkers() {
		if w, ok := r.workers[name]; ok {
			workers = append(workers, w)
		}
	}
	return workers
}

// FieldsFor returns the full field set for a hardware type: its default
// fields plus the fields of every enabled worker it uses.
func (r *Registry) FieldsFor(hwt HardwareType) []worker.Field {
	fields := append([]worker.Field{}, hwt.DefaultFields()...)
	for _, w := range r.WorkersFor(hwt) {
		fields = append(fields, w.Fields()...)
	}
	return fields
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
