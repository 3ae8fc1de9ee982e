package reconciler

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/metrics"
	"github.com/cuemby/foundry/pkg/storage"
	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

// unhandledError is what gets recorded on the task row when a worker fails
// with something that is not a domain error, including panics. The real
// error goes to the log only.
const unhandledError = "Unhandled error"

// Reconciler drives PENDING worker tasks to their steady state.
type Reconciler struct {
	store    storage.Store
	registry *driver.Registry
	cfg      *config.Config
	pool     *semaphore.Weighted

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New creates a reconciler with a worker pool sized from configuration.
func New(store storage.Store, registry *driver.Registry, cfg *config.Config) *Reconciler {
	return &Reconciler{
		store:    store,
		registry: registry,
		cfg:      cfg,
		pool:     semaphore.NewWeighted(int64(cfg.Worker.TaskPoolSize)),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	go r.run(ctx)
}

// Stop stops the reconciler and waits for in-flight tasks to finish.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.doneCh
}

// run is the main reconciliation loop
func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	logger := log.WithComponent("reconciler")
	ticker := time.NewTicker(r.cfg.ProcessPendingInterval())
	defer ticker.Stop()

	// Process immediately on start
	if err := r.ProcessPending(ctx); err != nil {
		logger.Error().Err(err).Msg("Reconcile cycle failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := r.ProcessPending(ctx); err != nil {
				logger.Error().Err(err).Msg("Reconcile cycle failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending runs one reconcile cycle: snapshot the tables, group the
// PENDING tasks by hardware, and dispatch them through the worker pool.
//
// Tasks are layered so that no two tasks for the same hardware run
// concurrently: the first layer takes the first pending task of every
// hardware, the second layer the second, and so on. Each layer is split into
// chunks of task_concurrency; a chunk runs in parallel, bounded by the pool,
// and completes before the next chunk starts. Chunks never span layers, so a
// hardware's nth task always finishes before its (n+1)th starts.
func (r *Reconciler) ProcessPending(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileCycleDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	logger := log.WithComponent("reconciler")

	// Deleted hardware is part of the snapshot: its tasks keep running so
	// workers can release downstream state.
	hardware, err := r.store.ListHardware(storage.ListOpts{IncludeDeleted: true})
	if err != nil {
		return err
	}
	hwByUUID := make(map[string]*types.Hardware, len(hardware))
	for _, hw := range hardware {
		hwByUUID[hw.UUID] = hw
	}

	windows, err := r.store.ListAllAvailabilityWindows()
	if err != nil {
		return err
	}

	tasks, err := r.store.GetWorkerTasksInState(types.WorkerStatePending)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	logger.Debug().Int("count", len(tasks)).Msg("Processing pending tasks")

	for _, layer := range layerTasks(tasks) {
		for _, chunk := range chunkTasks(layer, r.cfg.Worker.TaskConcurrency) {
			r.processChunk(ctx, chunk, hwByUUID, windows)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return nil
}

// layerTasks arranges pending tasks into layers holding at most one task per
// hardware: layer i holds the ith pending task of every hardware, in
// hardware insertion order. Grouping preserves the tasks' stored order.
func layerTasks(tasks []*types.WorkerTask) [][]*types.WorkerTask {
	groups := make(map[string][]*types.WorkerTask)
	var order []string
	for _, t := range tasks {
		if _, ok := groups[t.HardwareUUID]; !ok {
			order = append(order, t.HardwareUUID)
		}
		groups[t.HardwareUUID] = append(groups[t.HardwareUUID], t)
	}

	depth := 0
	for _, g := range groups {
		if len(g) > depth {
			depth = len(g)
		}
	}

	layers := make([][]*types.WorkerTask, 0, depth)
	for i := 0; i < depth; i++ {
		var layer []*types.WorkerTask
		for _, hwUUID := range order {
			if g := groups[hwUUID]; i < len(g) {
				layer = append(layer, g[i])
			}
		}
		layers = append(layers, layer)
	}
	return layers
}

func chunkTasks(tasks []*types.WorkerTask, size int) [][]*types.WorkerTask {
	if size <= 0 {
		size = 1
	}
	var chunks [][]*types.WorkerTask
	for len(tasks) > 0 {
		n := size
		if n > len(tasks) {
			n = len(tasks)
		}
		chunks = append(chunks, tasks[:n])
		tasks = tasks[n:]
	}
	return chunks
}

// processChunk dispatches one chunk through the pool and waits for every
// task in it to finish.
func (r *Reconciler) processChunk(ctx context.Context, chunk []*types.WorkerTask,
	hwByUUID map[string]*types.Hardware, windows map[string][]types.AvailabilityWindow) {

	logger := log.WithComponent("reconciler")
	var inFlight []chan struct{}

	for _, task := range chunk {
		if ctx.Err() != nil {
			break
		}
		if !r.pool.TryAcquire(1) {
			// Leave the task PENDING; the next cycle picks it up.
			logger.Warn().
				Str("task_uuid", task.UUID).
				Err(errdefs.NoFreeWorker()).
				Msg("Skipping task")
			continue
		}

		task := task
		done := make(chan struct{})
		inFlight = append(inFlight, done)
		go func() {
			defer close(done)
			defer r.pool.Release(1)
			r.processTask(ctx, task, hwByUUID[task.HardwareUUID], windows[task.HardwareUUID])
		}()
	}

	for _, done := range inFlight {
		<-done
	}
}

// processTask claims one PENDING task, runs its worker, and persists the
// outcome.
func (r *Reconciler) processTask(ctx context.Context, task *types.WorkerTask,
	hw *types.Hardware, windows []types.AvailabilityWindow) {

	logger := log.WithComponent("reconciler").With().
		Str("task_uuid", task.UUID).
		Str("hardware_uuid", task.HardwareUUID).
		Str("worker_type", task.WorkerType).
		Logger()

	if hw == nil {
		logger.Warn().Msg("Task references unknown hardware")
		return
	}

	w, err := r.registry.Worker(task.WorkerType)
	if err != nil {
		logger.Warn().Err(err).Msg("Task references unknown worker")
		return
	}

	inProgress := types.WorkerStateInProgress
	if _, err := r.store.UpdateWorkerTask(task.UUID, storage.TaskUpdate{State: &inProgress}); err != nil {
		// Claimed by a concurrent cycle, or gone.
		logger.Debug().Err(err).Msg("Could not claim task")
		return
	}

	timer := metrics.NewTimer()
	result := runWorker(ctx, w, hw, windows, task)
	timer.ObserveDurationVec(metrics.TaskDuration, task.WorkerType)

	details := task.Clone().StateDetails
	var newState types.WorkerState

	switch result.Outcome {
	case worker.OutcomeSuccess:
		// Transient keys are cleared before the payload merges, so a worker
		// may legitimately persist a key with a transient name.
		for _, k := range types.TransientDetails {
			delete(details, k)
		}
		for k, v := range result.Payload {
			details[k] = v
		}
		newState = types.WorkerStateSteady
		logger.Info().Msg("Task reached steady state")

	case worker.OutcomeDefer:
		for k, v := range result.Payload {
			details[k] = v
		}
		details[types.DeferCountDetail] = task.DeferCount() + 1
		if result.Reason != "" {
			details[types.DeferReasonDetail] = result.Reason
		}
		newState = types.WorkerStatePending
		logger.Info().Str("reason", result.Reason).Msg("Task deferred")

	case worker.OutcomeError:
		if errdefs.IsDomain(result.Err) {
			details[types.LastErrorDetail] = result.Err.Error()
		} else {
			details[types.LastErrorDetail] = unhandledError
		}
		newState = types.WorkerStateError
		logger.Error().Err(result.Err).Msg("Task failed")

	default:
		// A worker that returns a zero Result is treated as a success with
		// its payload parked under a reserved key.
		details[types.FallbackPayloadDetail] = result.Payload
		newState = types.WorkerStateSteady
		logger.Warn().Msg("Worker returned no outcome; assuming success")
	}

	metrics.TaskResultsTotal.WithLabelValues(task.WorkerType, outcomeLabel(result.Outcome)).Inc()

	if _, err := r.store.UpdateWorkerTask(task.UUID, storage.TaskUpdate{
		State:        &newState,
		StateDetails: details,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist task outcome")
	}
}

// runWorker executes the worker with panic isolation. A panic is logged with
// its stack and surfaced as an unclassified error result.
func runWorker(ctx context.Context, w worker.Worker, hw *types.Hardware,
	windows []types.AvailabilityWindow, task *types.WorkerTask) (result worker.Result) {

	defer func() {
		if p := recover(); p != nil {
			logger := log.WithComponent("reconciler")
			logger.Error().
				Str("task_uuid", task.UUID).
				Any("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Worker panicked")
			result = worker.Error(panicError{})
		}
	}()
	return w.Process(ctx, hw, windows, task.Clone().StateDetails)
}

// panicError is a non-domain error standing in for a recovered panic; the
// row records it as unhandled.
type panicError struct{}

func (panicError) Error() string { return unhandledError }

func outcomeLabel(o worker.Outcome) string {
	switch o {
	case worker.OutcomeSuccess:
		return "success"
	case worker.OutcomeDefer:
		return "defer"
	case worker.OutcomeError:
		return "error"
	default:
		return "fallback"
	}
}
