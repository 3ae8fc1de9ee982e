// Package importer adopts hardware already registered in downstream
// services into the inventory.
package importer

import (
	"context"

	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/storage"
	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

// Importer merges discovery results from every enabled worker that supports
// import and enrolls the items that are not in the inventory yet.
type Importer struct {
	store    storage.Store
	registry *driver.Registry
}

// Summary counts what one import run did (or would do, in dry-run mode).
type Summary struct {
	Discovered int
	Created    int
	Skipped    int
}

func New(store storage.Store, registry *driver.Registry) *Importer {
	return &Importer{store: store, registry: registry}
}

// candidate is one discovered item, attributed to the hardware type whose
// worker found it.
type candidate struct {
	hardwareType string
	item         worker.ImportedHardware
}

// Run discovers and enrolls hardware. Imported items are owned by projectID
// and their tasks start STEADY: the downstream systems already know about
// them, so there is nothing to reconcile until the next edit.
func (i *Importer) Run(ctx context.Context, projectID string, dryRun bool) (*Summary, error) {
	logger := log.WithComponent("importer")

	merged := map[string]*candidate{}
	var order []string

	for typeName, hwt := range i.registry.HardwareTypes() {
		for _, w := range i.registry.WorkersFor(hwt) {
			imp, ok := w.(worker.Importer)
			if !ok {
				continue
			}
			items, err := imp.ImportExisting(ctx)
			if err != nil {
				logger.Warn().Err(err).
					Str("worker_type", w.WorkerType()).
					Msg("Worker failed to list existing hardware")
				continue
			}
			for _, item := range items {
				if item.UUID == "" {
					logger.Warn().Str("name", item.Name).Msg("Skipping import with no UUID")
					continue
				}
				existing, ok := merged[item.UUID]
				if !ok {
					merged[item.UUID] = &candidate{hardwareType: typeName, item: item}
					order = append(order, item.UUID)
					continue
				}
				if existing.hardwareType != typeName {
					logger.Warn().
						Str("hardware_uuid", item.UUID).
						Str("hardware_type", typeName).
						Str("kept", existing.hardwareType).
						Msg("Item discovered under two hardware types; keeping first")
					continue
				}
				// Same item seen by another worker of the same type; merge
				// the properties it contributes.
				if existing.item.Name == "" {
					existing.item.Name = item.Name
				}
				for k, v := range item.Properties {
					if _, ok := existing.item.Properties[k]; !ok {
						existing.item.Properties[k] = v
					}
				}
			}
		}
	}

	summary := &Summary{Discovered: len(merged)}
	for _, uuid := range order {
		c := merged[uuid]

		_, err := i.store.GetHardwareByUUID(uuid)
		if err == nil {
			summary.Skipped++
			continue
		}
		if !errdefs.IsNotFound(err) {
			return summary, err
		}

		hw := &types.Hardware{
			UUID:         uuid,
			Name:         c.item.Name,
			ProjectID:    projectID,
			HardwareType: c.hardwareType,
			Properties:   c.item.Properties,
		}
		if hw.Properties == nil {
			hw.Properties = map[string]any{}
		}

		if dryRun {
			logger.Info().
				Str("hardware_uuid", hw.UUID).
				Str("name", hw.Name).
				Str("hardware_type", hw.HardwareType).
				Msg("Would import hardware")
			summary.Created++
			continue
		}

		if err := i.store.CreateHardware(hw, types.WorkerStateSteady); err != nil {
			if errdefs.IsConflict(err) {
				logger.Warn().Err(err).Str("hardware_uuid", hw.UUID).Msg("Skipping conflicting import")
				summary.Skipped++
				continue
			}
			return summary, err
		}
		logger.Info().
			Str("hardware_uuid", hw.UUID).
			Str("name", hw.Name).
			Msg("Imported hardware")
		summary.Created++
	}
	return summary, nil
}
