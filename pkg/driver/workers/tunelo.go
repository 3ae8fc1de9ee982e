package workers

import (
	"context"
	"net/http"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

const tuneloChannelsDetail = "tunelo_channels"

// TuneloWorker maintains one tunnel channel per entry in the hardware's
// channels property.
type TuneloWorker struct {
	client *restClient
}

func (w *TuneloWorker) WorkerType() string { return "tunelo" }

func (w *TuneloWorker) Fields() []worker.Field { return nil }

func (w *TuneloWorker) SetConfig(cfg *config.Config) error {
	var opts clientOptions
	if err := cfg.DecodeDriver(w.WorkerType(), &opts); err != nil {
		return err
	}
	w.client = newRESTClient(opts)
	return nil
}

func (w *TuneloWorker) Process(ctx context.Context, hw *types.Hardware,
	windows []types.AvailabilityWindow, stateDetails map[string]any) worker.Result {

	if w.client == nil {
		return worker.Error(notConfigured(w.WorkerType()))
	}

	existing := stringMap(stateDetails[tuneloChannelsDetail])

	desired := map[string]map[string]any{}
	if !hw.Deleted {
		if channels, ok := hw.Properties["channels"].(map[string]any); ok {
			for name, raw := range channels {
				if ch, ok := raw.(map[string]any); ok {
					desired[name] = ch
				}
			}
		}
	}

	for name, channelUUID := range existing {
		if _, ok := desired[name]; ok {
			continue
		}
		err := w.client.do(ctx, "tunelo", http.MethodDelete, "/channels/"+channelUUID, nil, nil)
		if err != nil && !isStatus(err, http.StatusNotFound) {
			return worker.Error(err)
		}
		delete(existing, name)
	}

	if hw.Deleted {
		return worker.Success(map[string]any{tuneloChannelsDetail: nil})
	}

	for name, ch := range desired {
		if channelUUID, ok := existing[name]; ok {
			err := w.client.do(ctx, "tunelo", http.MethodGet, "/channels/"+channelUUID, nil, nil)
			if err == nil {
				continue
			}
			if !isStatus(err, http.StatusNotFound) {
				return worker.Error(err)
			}
			delete(existing, name)
		}

		body := map[string]any{
			"channel_type": ch["channel_type"],
			"properties":   map[string]any{"public_key": ch["public_key"]},
		}
		var created struct {
			UUID string `json:"uuid"`
		}
		if err := w.client.do(ctx, "tunelo", http.MethodPost, "/channels", body, &created); err != nil {
			return worker.Error(err)
		}
		existing[name] = created.UUID
	}

	return worker.Success(map[string]any{tuneloChannelsDetail: existing})
}

func init() {
	driver.RegisterWorker(&TuneloWorker{})
}
