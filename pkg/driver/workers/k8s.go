package workers

import (
	"context"
	"net/http"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

const mergePatchContentType = "application/merge-patch+json"

// K8sWorker labels the Kubernetes node backing a device so workloads can be
// scheduled onto it, and cordons the node when the device is destroyed.
//
// Devices self-register as nodes named after their inventory name; until the
// node shows up the task defers.
type K8sWorker struct {
	client      *restClient
	labelPrefix string
}

type k8sOptions struct {
	clientOptions `yaml:",inline"`

	// LabelPrefix namespaces the labels this worker owns on the node.
	LabelPrefix string `yaml:"label_prefix"`
}

func (w *K8sWorker) WorkerType() string { return "k8s" }

func (w *K8sWorker) Fields() []worker.Field { return nil }

func (w *K8sWorker) SetConfig(cfg *config.Config) error {
	var opts k8sOptions
	opts.LabelPrefix = "foundry.io"
	if err := cfg.DecodeDriver(w.WorkerType(), &opts); err != nil {
		return err
	}
	w.client = newRESTClient(opts.clientOptions)
	w.labelPrefix = opts.LabelPrefix
	return nil
}

func (w *K8sWorker) Process(ctx context.Context, hw *types.Hardware,
	windows []types.AvailabilityWindow, stateDetails map[string]any) worker.Result {

	if w.client == nil {
		return worker.Error(notConfigured(w.WorkerType()))
	}

	nodePath := "/api/v1/nodes/" + hw.Name

	if hw.Deleted {
		patch := map[string]any{"spec": map[string]any{"unschedulable": true}}
		err := w.client.doWith(ctx, "kubernetes", http.MethodPatch, nodePath,
			mergePatchContentType, patch, nil)
		if err != nil && !isStatus(err, http.StatusNotFound) {
			return worker.Error(err)
		}
		return worker.Success(map[string]any{"k8s_node": nil})
	}

	if err := w.client.do(ctx, "kubernetes", http.MethodGet, nodePath, nil, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return worker.Defer("No matching k8s node found", nil)
		}
		return worker.Error(err)
	}

	labels := map[string]any{
		w.labelPrefix + "/uuid":       hw.UUID,
		w.labelPrefix + "/project-id": hw.ProjectID,
	}
	if deviceType, ok := hw.Properties["device_type"].(string); ok {
		labels[w.labelPrefix+"/device-type"] = deviceType
	}
	patch := map[string]any{
		"metadata": map[string]any{"labels": labels},
		"spec":     map[string]any{"unschedulable": false},
	}
	err := w.client.doWith(ctx, "kubernetes", http.MethodPatch, nodePath,
		mergePatchContentType, patch, nil)
	if err != nil {
		return worker.Error(err)
	}

	return worker.Success(map[string]any{"k8s_node": hw.Name})
}

func init() {
	driver.RegisterWorker(&K8sWorker{})
}
