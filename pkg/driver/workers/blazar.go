package workers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/schema"
	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

const (
	// Blazar's API only resolves lease dates to the minute.
	blazarDateFormat = "2006-01-02 15:04"

	leaseNamePrefix = "availability_window_"

	blazarHostIDDetail = "blazar_host_id"
	blazarLeasesDetail = "blazar_leases"
)

var placementSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"rack": schema.String,
		"node": schema.String,
	},
	"additionalProperties": false,
}

// BlazarWorker syncs hardware into the Blazar reservation service: one host
// per hardware, one lease per availability window.
type BlazarWorker struct {
	client *restClient
}

func (w *BlazarWorker) WorkerType() string { return "blazar" }

func (w *BlazarWorker) Fields() []worker.Field {
	return []worker.Field{
		{Name: "node_type", Schema: schema.String,
			Description: "The scheduling class of the node."},
		{Name: "placement", Schema: placementSchema,
			Description: "Physical placement hints, e.g. rack and node."},
		{Name: "su_factor", Schema: map[string]any{"type": "number"},
			Description: "The billing multiplier applied to reservations."},
		{Name: "blazar_device_driver", Schema: schema.String, Private: true,
			Description: "Which Blazar plugin manages this item."},
	}
}

func (w *BlazarWorker) SetConfig(cfg *config.Config) error {
	var opts clientOptions
	if err := cfg.DecodeDriver(w.WorkerType(), &opts); err != nil {
		return err
	}
	w.client = newRESTClient(opts)
	return nil
}

func (w *BlazarWorker) Process(ctx context.Context, hw *types.Hardware,
	windows []types.AvailabilityWindow, stateDetails map[string]any) worker.Result {

	if w.client == nil {
		return worker.Error(notConfigured(w.WorkerType()))
	}

	hostID, _ := stateDetails[blazarHostIDDetail].(string)
	leases := stringMap(stateDetails[blazarLeasesDetail])

	if hw.Deleted {
		for windowUUID, leaseID := range leases {
			err := w.client.do(ctx, "blazar", http.MethodDelete, "/leases/"+leaseID, nil, nil)
			if err != nil && !isStatus(err, http.StatusNotFound) {
				return worker.Error(err)
			}
			delete(leases, windowUUID)
		}
		if hostID != "" {
			err := w.client.do(ctx, "blazar", http.MethodDelete, "/os-hosts/"+hostID, nil, nil)
			if err != nil && !isStatus(err, http.StatusNotFound) {
				return worker.Error(err)
			}
		}
		return worker.Success(map[string]any{
			blazarHostIDDetail: nil,
			blazarLeasesDetail: nil,
		})
	}

	hostID, result := w.syncHost(ctx, hw, hostID)
	if result != nil {
		return *result
	}

	leases, err := w.syncLeases(ctx, hw, windows, leases)
	payload := map[string]any{
		blazarHostIDDetail: hostID,
		blazarLeasesDetail: leases,
	}
	if err != nil {
		return worker.Error(err)
	}
	return worker.Success(payload)
}

// syncHost creates or updates the Blazar host for hw. A non-nil result
// short-circuits processing.
func (w *BlazarWorker) syncHost(ctx context.Context, hw *types.Hardware, hostID string) (string, *worker.Result) {
	body := blazarHostBody(hw)

	if hostID != "" {
		err := w.client.do(ctx, "blazar", http.MethodPut, "/os-hosts/"+hostID, body, nil)
		if err == nil {
			return hostID, nil
		}
		if !isStatus(err, http.StatusNotFound) {
			res := worker.Error(err)
			return "", &res
		}
		// The host was removed behind our back; recreate it.
		hostID = ""
	}

	var created struct {
		Host struct {
			ID any `json:"id"`
		} `json:"host"`
	}
	createBody := map[string]any{"name": hw.UUID}
	for k, v := range body {
		createBody[k] = v
	}
	err := w.client.do(ctx, "blazar", http.MethodPost, "/os-hosts", createBody, &created)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			// Blazar cannot see the node downstream yet (e.g. it has not
			// finished enrolling); try again next tick.
			res := worker.Defer("Blazar does not know about the host yet", nil)
			return "", &res
		}
		res := worker.Error(err)
		return "", &res
	}
	return fmt.Sprint(created.Host.ID), nil
}

// blazarHostBody maps hardware properties to Blazar extra capabilities.
// Nulled-out fields are skipped: Blazar cannot delete extra capabilities, so
// unsetting one is not expressible through its API.
func blazarHostBody(hw *types.Hardware) map[string]any {
	body := map[string]any{
		"uid":       hw.UUID,
		"node_name": hw.Name,
	}
	props := hw.Properties
	for _, k := range []string{"node_type", "cpu_arch", "su_factor"} {
		if v, ok := props[k]; ok && v != nil {
			body[k] = v
		}
	}
	if placement, ok := props["placement"].(map[string]any); ok {
		if v, ok := placement["node"]; ok && v != nil {
			body["placement.node"] = v
		}
		if v, ok := placement["rack"]; ok && v != nil {
			body["placement.rack"] = v
		}
	}
	return body
}

// syncLeases converges the lease set onto the current windows. The returned
// map is the authoritative window-to-lease mapping, even on error, so the
// payload reflects whatever was actually created or destroyed.
func (w *BlazarWorker) syncLeases(ctx context.Context, hw *types.Hardware,
	windows []types.AvailabilityWindow, leases map[string]string) (map[string]string, error) {

	desired := make(map[string]types.AvailabilityWindow, len(windows))
	for _, win := range windows {
		desired[win.UUID] = win
	}

	for windowUUID, leaseID := range leases {
		if _, ok := desired[windowUUID]; ok {
			continue
		}
		err := w.client.do(ctx, "blazar", http.MethodDelete, "/leases/"+leaseID, nil, nil)
		if err != nil && !isStatus(err, http.StatusNotFound) {
			return leases, err
		}
		delete(leases, windowUUID)
	}

	for windowUUID, win := range desired {
		body := map[string]any{
			"name":       leaseNamePrefix + windowUUID,
			"start_date": win.Start.UTC().Format(blazarDateFormat),
			"end_date":   win.End.UTC().Format(blazarDateFormat),
			"reservations": []any{
				map[string]any{
					"resource_type":       "physical:host",
					"min":                 1,
					"max":                 1,
					"resource_properties": fmt.Sprintf(`["==","$uid","%s"]`, hw.UUID),
				},
			},
		}

		if leaseID, ok := leases[windowUUID]; ok {
			update := map[string]any{
				"start_date": body["start_date"],
				"end_date":   body["end_date"],
			}
			err := w.client.do(ctx, "blazar", http.MethodPut, "/leases/"+leaseID, update, nil)
			if err == nil {
				continue
			}
			if !isStatus(err, http.StatusNotFound) {
				return leases, err
			}
			delete(leases, windowUUID)
		}

		var created struct {
			Lease struct {
				ID any `json:"id"`
			} `json:"lease"`
		}
		if err := w.client.do(ctx, "blazar", http.MethodPost, "/leases", body, &created); err != nil {
			return leases, err
		}
		leases[windowUUID] = fmt.Sprint(created.Lease.ID)
	}
	return leases, nil
}

// stringMap coerces a state detail value back into map[string]string; detail
// maps round-trip through JSON as map[string]any.
func stringMap(v any) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	case map[string]any:
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func init() {
	driver.RegisterWorker(&BlazarWorker{})
}
