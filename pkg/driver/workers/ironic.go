package workers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/schema"
	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

// provisionStateTimeout caps how long one Process call waits for Ironic to
// settle a provision state transition before deferring to the next tick.
const provisionStateTimeout = 60 * time.Second

const ironicNodeDetail = "ironic_node_created"

type ironicNode struct {
	UUID           string `json:"uuid"`
	Name           string `json:"name"`
	ProvisionState string `json:"provision_state"`
}

// IronicWorker enrolls bare metal nodes into Ironic and walks them to the
// available provision state.
type IronicWorker struct {
	client *restClient
	driver string
}

type ironicOptions struct {
	clientOptions `yaml:",inline"`

	// Driver is the Ironic hardware driver assigned to enrolled nodes.
	Driver string `yaml:"driver"`
}

func (w *IronicWorker) WorkerType() string { return "ironic" }

func (w *IronicWorker) Fields() []worker.Field {
	return []worker.Field{
		{Name: "ipmi_username", Schema: schema.String, Private: true,
			Description: "The IPMI username for out-of-band management."},
		{Name: "ipmi_password", Schema: schema.String, Private: true, Sensitive: true,
			Description: "The IPMI password for out-of-band management."},
		{Name: "ipmi_terminal_port", Schema: schema.PortRange,
			Description: "The port for the serial-over-LAN console."},
	}
}

func (w *IronicWorker) SetConfig(cfg *config.Config) error {
	var opts ironicOptions
	opts.Driver = "ipmi"
	if err := cfg.DecodeDriver(w.WorkerType(), &opts); err != nil {
		return err
	}
	w.client = newRESTClient(opts.clientOptions)
	w.driver = opts.Driver
	return nil
}

func (w *IronicWorker) Process(ctx context.Context, hw *types.Hardware,
	windows []types.AvailabilityWindow, stateDetails map[string]any) worker.Result {

	if w.client == nil {
		return worker.Error(notConfigured(w.WorkerType()))
	}

	if hw.Deleted {
		err := w.client.do(ctx, "ironic", http.MethodDelete, "/v1/nodes/"+hw.UUID, nil, nil)
		if err != nil && !isStatus(err, http.StatusNotFound) {
			return worker.Error(err)
		}
		return worker.Success(map[string]any{ironicNodeDetail: nil})
	}

	node, err := w.getNode(ctx, hw.UUID)
	if err != nil {
		if !isStatus(err, http.StatusNotFound) {
			return worker.Error(err)
		}
		if node, err = w.enrollNode(ctx, hw); err != nil {
			return worker.Error(err)
		}
	}

	switch node.ProvisionState {
	case "enroll":
		if err := w.setProvisionState(ctx, hw.UUID, "manage"); err != nil {
			return worker.Error(err)
		}
		node, err = w.waitForProvisionState(ctx, hw.UUID, "manageable")
		if err != nil {
			return worker.Error(err)
		}
		if node.ProvisionState != "manageable" {
			return worker.Defer(
				fmt.Sprintf("Waiting for node to become manageable; currently %s", node.ProvisionState), nil)
		}
		fallthrough

	case "manageable":
		if err := w.setProvisionState(ctx, hw.UUID, "provide"); err != nil {
			return worker.Error(err)
		}
		node, err = w.waitForProvisionState(ctx, hw.UUID, "available")
		if err != nil {
			return worker.Error(err)
		}
		if node.ProvisionState != "available" {
			return worker.Defer(
				fmt.Sprintf("Waiting for node to become available; currently %s", node.ProvisionState), nil)
		}

	case "available", "active":
		// Settled.

	case "error", "clean failed", "deploy failed":
		return worker.Error(errdefs.InvalidParameterValue(
			"node %s is in failed provision state %q", hw.UUID, node.ProvisionState))

	default:
		// Mid-transition (verifying, cleaning, deploying, ...).
		return worker.Defer(
			fmt.Sprintf("Node is in transient provision state %q", node.ProvisionState), nil)
	}

	return worker.Success(map[string]any{ironicNodeDetail: true})
}

func (w *IronicWorker) getNode(ctx context.Context, uuid string) (*ironicNode, error) {
	var node ironicNode
	if err := w.client.do(ctx, "ironic", http.MethodGet, "/v1/nodes/"+uuid, nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (w *IronicWorker) enrollNode(ctx context.Context, hw *types.Hardware) (*ironicNode, error) {
	driverInfo := map[string]any{
		"ipmi_address": hw.Properties["management_address"],
	}
	for _, k := range []string{"ipmi_username", "ipmi_password", "ipmi_terminal_port"} {
		if v, ok := hw.Properties[k]; ok && v != nil {
			driverInfo[k] = v
		}
	}

	var node ironicNode
	body := map[string]any{
		"uuid":        hw.UUID,
		"name":        hw.Name,
		"driver":      w.driver,
		"driver_info": driverInfo,
		"properties": map[string]any{
			"cpu_arch": hw.Properties["cpu_arch"],
		},
	}
	if err := w.client.do(ctx, "ironic", http.MethodPost, "/v1/nodes", body, &node); err != nil {
		return nil, err
	}
	logger := log.WithHardware(hw.UUID)
	logger.Info().Msg("Enrolled node in Ironic")
	return &node, nil
}

func (w *IronicWorker) setProvisionState(ctx context.Context, uuid, target string) error {
	body := map[string]any{"target": target}
	return w.client.do(ctx, "ironic", http.MethodPut,
		"/v1/nodes/"+uuid+"/states/provision", body, nil)
}

// waitForProvisionState polls until the node reaches target or the per-call
// ceiling elapses. Hitting the ceiling is not an error; the caller defers.
func (w *IronicWorker) waitForProvisionState(ctx context.Context, uuid, target string) (*ironicNode, error) {
	deadline := time.Now().Add(provisionStateTimeout)
	for {
		node, err := w.getNode(ctx, uuid)
		if err != nil {
			return nil, err
		}
		if node.ProvisionState == target || time.Now().After(deadline) {
			return node, nil
		}
		select {
		case <-ctx.Done():
			return node, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// ImportExisting lists the nodes already enrolled in Ironic so they can be
// adopted into the inventory.
func (w *IronicWorker) ImportExisting(ctx context.Context) ([]worker.ImportedHardware, error) {
	if w.client == nil {
		return nil, notConfigured(w.WorkerType())
	}

	var resp struct {
		Nodes []struct {
			UUID       string         `json:"uuid"`
			Name       string         `json:"name"`
			DriverInfo map[string]any `json:"driver_info"`
			Properties map[string]any `json:"properties"`
		} `json:"nodes"`
	}
	if err := w.client.do(ctx, "ironic", http.MethodGet, "/v1/nodes?detail=true", nil, &resp); err != nil {
		return nil, err
	}

	imported := make([]worker.ImportedHardware, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		props := map[string]any{}
		if v, ok := n.DriverInfo["ipmi_address"]; ok {
			props["management_address"] = v
		}
		if v, ok := n.Properties["cpu_arch"]; ok {
			props["cpu_arch"] = v
		}
		imported = append(imported, worker.ImportedHardware{
			UUID:       n.UUID,
			Name:       n.Name,
			Properties: props,
		})
	}
	return imported, nil
}

func init() {
	driver.RegisterWorker(&IronicWorker{})
}
