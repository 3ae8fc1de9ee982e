package metrics

import (
	"time"

	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/storage"
	"github.com/cuemby/foundry/pkg/types"
)

// Collector periodically gauges inventory totals from the store.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	logger := log.WithComponent("metrics")

	hardware, err := c.store.ListHardware(storage.ListOpts{})
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to collect hardware metrics")
		return
	}
	byType := map[string]int{}
	for _, hw := range hardware {
		byType[hw.HardwareType]++
	}
	HardwareTotal.Reset()
	for hwType, n := range byType {
		HardwareTotal.WithLabelValues(hwType).Set(float64(n))
	}

	states := []types.WorkerState{
		types.WorkerStatePending,
		types.WorkerStateInProgress,
		types.WorkerStateSteady,
		types.WorkerStateError,
	}
	for _, state := range states {
		tasks, err := c.store.GetWorkerTasksInState(state)
		if err != nil {
			logger.Debug().Err(err).Msg("Failed to collect task metrics")
			return
		}
		WorkerTasksTotal.WithLabelValues(string(state)).Set(float64(len(tasks)))
	}

	windows, err := c.store.ListAllAvailabilityWindows()
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to collect window metrics")
		return
	}
	total := 0
	for _, ws := range windows {
		total += len(ws)
	}
	AvailabilityWindowsTotal.Set(float64(total))
}
