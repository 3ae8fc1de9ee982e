package hwtype

import (
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/schema"
	"github.com/cuemby/foundry/pkg/worker"
)

var (
	supportedDeviceTypes  = []string{"jetson-nano", "raspberrypi3-64", "raspberrypi4-64"}
	supportedChannelTypes = []string{"wireguard"}
)

var channelSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"channel_type": schema.Enum(supportedChannelTypes...),
		"public_key":   schema.String,
	},
	"required":             []any{"channel_type"},
	"additionalProperties": false,
}

var channelsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"user": channelSchema,
		"mgmt": channelSchema,
	},
	"required":             []any{"user"},
	"additionalProperties": false,
}

// Device is an edge device scheduled as a Kubernetes node and reached over
// tunneled channels.
type Device struct{}

func (Device) Name() string { return "device" }

func (Device) EnabledWorkers() []string {
	return []string{"blazar", "k8s", "tunelo"}
}

func (Device) DefaultFields() []worker.Field {
	return []worker.Field{
		{
			Name:        "device_type",
			Schema:      schema.Enum(supportedDeviceTypes...),
			Required:    true,
			Description: "The type of device; must be an explicitly supported device type.",
		},
		{
			Name:     "contact_email",
			Schema:   schema.Email,
			Required: true,
			Private:  true,
			Description: "A contact email to use for any communication about the " +
				"device. Secure messages containing enrollment credentials may be " +
				"sent here, so ensure it is an active mailbox.",
		},
		{
			Name:     "channels",
			Schema:   channelsSchema,
			Required: true,
			Private:  true,
			Description: "The communications channels this device uses. All devices " +
				"provide at minimum a 'user' channel carrying workload traffic; a " +
				"'mgmt' channel is often also needed to configure the device.",
		},
	}
}

func (Device) WorkerOverrides() map[string]any {
	return map[string]any{"blazar_device_driver": "k8s"}
}

func init() {
	driver.RegisterHardwareType(Device{})
}
