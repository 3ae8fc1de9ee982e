package worker

import (
	"context"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/types"
)

// Worker is a reconciliation actor that syncs a Hardware to one external
// system. Process must be idempotent: calling it twice with the same inputs
// must not produce observable drift beyond the first call. Workers may call
// external services but never mutate the store directly; the only channel
// back to the system is the returned Result.
//
// When hw.Deleted is true the worker must tear down any external state it
// owns, and on success clear its own keys from the returned payload.
type Worker interface {
	// WorkerType returns the unique name the worker registers under.
	WorkerType() string

	// Fields lists the hardware property slots this worker owns.
	Fields() []Field

	Process(ctx context.Context, hw *types.Hardware,
		windows []types.AvailabilityWindow,
		stateDetails map[string]any) Result
}

// ConfigReceiver is implemented by workers that read a driver option group
// from the configuration file. SetConfig runs once at registry load, before
// any Process call.
type ConfigReceiver interface {
	SetConfig(cfg *config.Config) error
}

// Importer is implemented by workers that can discover hardware already
// registered in their downstream service, for the import command.
type Importer interface {
	ImportExisting(ctx context.Context) ([]ImportedHardware, error)
}

// ImportedHardware is one discovered item from an Importer.
type ImportedHardware struct {
	UUID       string
	Name       string
	Properties map[string]any
}

// Field is a typed, validated hardware property slot contributed by a
// worker (or by a hardware type's default fields).
type Field struct {
	// Name of the property key.
	Name string

	// Schema is a JSON-Schema fragment validating the value. Defaults to
	// {"type": "string"} when nil.
	Schema map[string]any

	// Default value filled in at enroll time when the user omits the key.
	Default any

	// Required marks the field mandatory whenever the worker is in use.
	Required bool

	// Private fields are hidden from non-admin serializations.
	Private bool

	// Sensitive fields are masked when serialized.
	Sensitive bool

	// Description is surfaced in user-facing docs.
	Description string
}

// StringSchema is the implied schema for fields that declare none.
var StringSchema = map[string]any{"type": "string"}

// FieldSchema returns the field's schema, defaulting to string.
func (f Field) FieldSchema() map[string]any {
	if f.Schema == nil {
		return StringSchema
	}
	return f.Schema
}

// JSONSchema derives an object schema from a field list:
// {type: object, properties: ..., required: [...]}.
// The required key is omitted when no field is required, since an empty
// required array is invalid JSON-Schema.
func JSONSchema(fields []Field) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []string
	for _, f := range fields {
		properties[f.Name] = f.FieldSchema()
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
