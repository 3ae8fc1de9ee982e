// Package hwtype defines the built-in hardware types.
//
// Each type registers itself at init; cmd/foundry blank-imports this package
// so the compiled-in set is available before configuration filters it.
package hwtype

import (
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/schema"
	"github.com/cuemby/foundry/pkg/worker"
)

// Fake is a hardware type useful for development and testing.
type Fake struct{}

func (Fake) Name() string { return "fake-hardware" }

func (Fake) EnabledWorkers() []string { return []string{"fake-worker"} }

func (Fake) DefaultFields() []worker.Field {
	return []worker.Field{
		{Name: "default_field", Schema: schema.String},
		{Name: "default_required_field", Schema: schema.String, Required: true},
	}
}

func (Fake) WorkerOverrides() map[string]any { return nil }

func init() {
	driver.RegisterHardwareType(Fake{})
}
