package workers

import (
	"context"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

// FakeWorker is a worker useful for development and testing. It reaches
// steady state immediately and can serve canned import results from its
// config group.
type FakeWorker struct {
	imports []worker.ImportedHardware
}

type fakeOptions struct {
	Imports []struct {
		UUID       string         `yaml:"uuid"`
		Name       string         `yaml:"name"`
		Properties map[string]any `yaml:"properties"`
	} `yaml:"imports"`
}

func (w *FakeWorker) WorkerType() string { return "fake-worker" }

func (w *FakeWorker) Fields() []worker.Field {
	return []worker.Field{
		{Name: "private-field", Private: true},
		{Name: "private-and-sensitive-field", Private: true, Sensitive: true},
		{Name: "sensitive-field", Sensitive: true},
	}
}

func (w *FakeWorker) SetConfig(cfg *config.Config) error {
	var opts fakeOptions
	if err := cfg.DecodeDriver(w.WorkerType(), &opts); err != nil {
		return err
	}
	w.imports = nil
	for _, i := range opts.Imports {
		w.imports = append(w.imports, worker.ImportedHardware{
			UUID:       i.UUID,
			Name:       i.Name,
			Properties: i.Properties,
		})
	}
	return nil
}

func (w *FakeWorker) Process(ctx context.Context, hw *types.Hardware,
	windows []types.AvailabilityWindow, stateDetails map[string]any) worker.Result {

	if hw.Deleted {
		return worker.Success(map[string]any{"fake-result": nil})
	}
	return worker.Success(map[string]any{
		"fake-result": "fake-worker-prefix-" + hw.UUID,
	})
}

func (w *FakeWorker) ImportExisting(ctx context.Context) ([]worker.ImportedHardware, error) {
	return w.imports, nil
}

func init() {
	driver.RegisterWorker(&FakeWorker{})
}
