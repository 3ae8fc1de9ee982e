package hwtype

import (
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/schema"
	"github.com/cuemby/foundry/pkg/worker"
)

// There is no mac_address format in JSON-Schema, so interface addresses are
// plain strings.
var interfacesSchema = schema.Array(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":           schema.String,
		"enabled":        schema.Boolean,
		"mac_address":    schema.String,
		"vendor":         schema.String,
		"model":          schema.String,
		"switch_id":      schema.String,
		"switch_port_id": schema.String,
		"switch_info":    schema.String,
		"pxe_enabled":    schema.Boolean,
	},
	"required":             []any{"name", "mac_address"},
	"additionalProperties": false,
}, 1)

// Baremetal is a bare metal node, provisionable via e.g. Ironic.
type Baremetal struct{}

func (Baremetal) Name() string { return "baremetal" }

func (Baremetal) EnabledWorkers() []string {
	return []string{"blazar", "ironic"}
}

func (Baremetal) DefaultFields() []worker.Field {
	return []worker.Field{
		{
			Name:        "management_address",
			Schema:      schema.HostOrIP,
			Required:    true,
			Private:     true,
			Description: "The out-of-band address, e.g. IPMI.",
		},
		{
			Name:        "interfaces",
			Schema:      interfacesSchema,
			Required:    true,
			Description: "A list of network interfaces installed on the node.",
		},
		{
			Name:        "cpu_arch",
			Schema:      schema.CPUArch,
			Required:    true,
			Default:     "x86_64",
			Description: "The CPU architecture.",
		},
	}
}

func (Baremetal) WorkerOverrides() map[string]any { return nil }

func init() {
	driver.RegisterHardwareType(Baremetal{})
}
