package importer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/importer"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/storage"
	"github.com/cuemby/foundry/pkg/types"

	_ "github.com/cuemby/foundry/pkg/driver/hwtype"
	_ "github.com/cuemby/foundry/pkg/driver/workers"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

const importerConfig = `
enabled_hardware_types: [fake-hardware]
enabled_worker_types: [fake-worker]
drivers:
  fake-worker:
    imports:
      - uuid: 11111111-1111-1111-1111-111111111111
        name: discovered-1
        properties:
          default_required_field: one
      - uuid: 22222222-2222-2222-2222-222222222222
        name: discovered-2
        properties:
          default_required_field: two
`

func newImporterFixture(t *testing.T) (*importer.Importer, storage.Store) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "foundry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(importerConfig), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	reg, err := driver.Load(cfg)
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return importer.New(store, reg), store
}

func TestImportDryRun(t *testing.T) {
	imp, store := newImporterFixture(t)

	summary, err := imp.Run(context.Background(), "project-a", true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 0, summary.Skipped)

	// Dry run writes nothing.
	all, err := store.ListHardware(storage.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImportCreatesSteadyHardware(t *testing.T) {
	imp, store := newImporterFixture(t)

	summary, err := imp.Run(context.Background(), "project-a", false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)

	hw, err := store.GetHardwareByUUID("11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Equal(t, "discovered-1", hw.Name)
	assert.Equal(t, "project-a", hw.ProjectID)
	assert.Equal(t, "fake-hardware", hw.HardwareType)
	assert.Equal(t, "one", hw.Properties["default_required_field"])

	// Imported items are already in sync downstream; nothing to reconcile.
	tasks, err := store.ListWorkerTasksForHardware(hw.UUID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.WorkerStateSteady, tasks[0].State)
}

func TestImportSkipsExisting(t *testing.T) {
	imp, _ := newImporterFixture(t)

	_, err := imp.Run(context.Background(), "project-a", false)
	require.NoError(t, err)

	summary, err := imp.Run(context.Background(), "project-a", false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 2, summary.Skipped)
}
