package api

import (
	"time"

	"github.com/cuemby/foundry/pkg/types"
	"github.com/cuemby/foundry/pkg/worker"
)

// sensitiveMask replaces sensitive values in serialized output.
const sensitiveMask = "************"

// serializeHardware renders a hardware row for API output. Properties are
// filtered to the fields the hardware type and its enabled workers declare:
// private fields are dropped for non-admins and sensitive values are always
// masked.
func (s *Server) serializeHardware(hw *types.Hardware, admin bool) map[string]any {
	out := map[string]any{
		"uuid":          hw.UUID,
		"name":          hw.Name,
		"project_id":    hw.ProjectID,
		"hardware_type": hw.HardwareType,
		"properties":    s.serializeProperties(hw, admin),
		"created_at":    hw.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":    hw.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if hw.Deleted {
		out["deleted"] = true
		if hw.DeletedAt != nil {
			out["deleted_at"] = hw.DeletedAt.UTC().Format(time.RFC3339)
		}
	}
	return out
}

func (s *Server) serializeProperties(hw *types.Hardware, admin bool) map[string]any {
	props := map[string]any{}
	for _, f := range s.fieldsFor(hw.HardwareType) {
		v, ok := hw.Properties[f.Name]
		if !ok {
			continue
		}
		if f.Private && !admin {
			continue
		}
		if f.Sensitive {
			v = sensitiveMask
		}
		props[f.Name] = v
	}
	return props
}

func (s *Server) fieldsFor(hardwareType string) []worker.Field {
	hwt, err := s.registry.HardwareType(hardwareType)
	if err != nil {
		// Hardware of a type that has since been disabled serializes with no
		// properties rather than leaking unfiltered ones.
		return nil
	}
	return s.registry.FieldsFor(hwt)
}

// serializeTasks renders the per-worker task summary shown on single
// hardware GETs. State detail keys named like a sensitive field are masked.
func (s *Server) serializeTasks(tasks []*types.WorkerTask) []map[string]any {
	sensitive := map[string]bool{}
	for _, hwt := range s.registry.HardwareTypes() {
		for _, f := range s.registry.FieldsFor(hwt) {
			if f.Sensitive {
				sensitive[f.Name] = true
			}
		}
	}

	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		details := make(map[string]any, len(t.StateDetails))
		for k, v := range t.StateDetails {
			if sensitive[k] {
				v = sensitiveMask
			}
			details[k] = v
		}
		out = append(out, map[string]any{
			"worker_type":   t.WorkerType,
			"state":         t.State,
			"state_details": details,
		})
	}
	return out
}

func (s *Server) serializeWindow(w *types.AvailabilityWindow) map[string]any {
	return map[string]any{
		"uuid":          w.UUID,
		"hardware_uuid": w.HardwareUUID,
		"start":         w.Start.UTC().Format(time.RFC3339),
		"end":           w.End.UTC().Format(time.RFC3339),
	}
}
