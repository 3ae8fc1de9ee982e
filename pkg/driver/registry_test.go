package driver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"

	_ "github.com/cuemby/foundry/pkg/driver/hwtype"
	_ "github.com/cuemby/foundry/pkg/driver/workers"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func loadRegistry(t *testing.T, hardwareTypes, workerTypes []string) *driver.Registry {
	t.Helper()
	cfg := config.Default()
	cfg.EnabledHardwareTypes = hardwareTypes
	cfg.EnabledWorkerTypes = workerTypes
	reg, err := driver.Load(cfg)
	require.NoError(t, err)
	return reg
}

func TestLoadFiltersByEnabledNames(t *testing.T) {
	reg := loadRegistry(t, []string{"fake-hardware"}, []string{"fake-worker"})

	assert.True(t, reg.WorkerEnabled("fake-worker"))
	assert.False(t, reg.WorkerEnabled("blazar"))

	_, err := reg.HardwareType("baremetal")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestLoadRejectsUnknownNames(t *testing.T) {
	cfg := config.Default()
	cfg.EnabledHardwareTypes = []string{"fake-hardware"}
	cfg.EnabledWorkerTypes = []string{"no-such-worker"}

	_, err := driver.Load(cfg)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestWorkersForPreservesDeclaredOrder(t *testing.T) {
	reg := loadRegistry(t,
		[]string{"baremetal"},
		[]string{"ironic", "blazar"})

	hwt, err := reg.HardwareType("baremetal")
	require.NoError(t, err)

	var names []string
	for _, w := range reg.WorkersFor(hwt) {
		names = append(names, w.WorkerType())
	}
	// Order comes from the hardware type declaration, not the config list.
	assert.Equal(t, []string{"blazar", "ironic"}, names)
}

func TestWorkersForSkipsDisabledWorkers(t *testing.T) {
	reg := loadRegistry(t, []string{"baremetal"}, []string{"ironic"})

	hwt, err := reg.HardwareType("baremetal")
	require.NoError(t, err)

	workers := reg.WorkersFor(hwt)
	require.Len(t, workers, 1)
	assert.Equal(t, "ironic", workers[0].WorkerType())
}

func TestFieldsForMergesDefaultAndWorkerFields(t *testing.T) {
	reg := loadRegistry(t, []string{"fake-hardware"}, []string{"fake-worker"})

	hwt, err := reg.HardwareType("fake-hardware")
	require.NoError(t, err)

	var names []string
	for _, f := range reg.FieldsFor(hwt) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"default_field",
		"default_required_field",
		"private-field",
		"private-and-sensitive-field",
		"sensitive-field",
	}, names)
}
