package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cuemby/foundry/pkg/errdefs"
)

// Common JSON-Schema fragments shared by drivers and validators.
var (
	String  = map[string]any{"type": "string"}
	Boolean = map[string]any{"type": "boolean"}
	Integer = map[string]any{"type": "integer"}
	Email   = map[string]any{"type": "string", "format": "email"}
	UUID    = map[string]any{"type": "string", "format": "uuid"}
	// DateTime values round-trip downstream with minute precision.
	DateTime = map[string]any{"type": "string", "format": "date-time"}
	HostOrIP = map[string]any{"type": "string", "format": "host-or-ip"}
	PortRange = map[string]any{
		"type": "integer", "minimum": 1, "maximum": 65535,
	}
	CPUArch = Enum("x86_64", "aarch64", "riscv64")
)

// Enum builds a string enum fragment.
func Enum(values ...string) map[string]any {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return map[string]any{"type": "string", "enum": enum}
}

// Const builds a constant fragment.
func Const(value string) map[string]any {
	return map[string]any{"const": value}
}

// Array builds an array fragment over an item schema.
func Array(items map[string]any, minItems int) map[string]any {
	schema := map[string]any{"type": "array", "items": items}
	if minItems > 0 {
		schema["minItems"] = minItems
	}
	return schema
}

// Validator validates decoded JSON values against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles a schema document into a Validator. The document is
// round-tripped through JSON so fragments may be built from plain Go maps
// and slices.
func New(doc map[string]any) (*Validator, error) {
	normalized, err := normalize(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	compiler.RegisterFormat(&jsonschema.Format{
		Name:     "host-or-ip",
		Validate: validateHostOrIP,
	})
	if err := compiler.AddResource("schema.json", normalized); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustNew compiles a schema document, panicking on error. For use with
// static driver schemas, where a failure is a programmer error.
func MustNew(doc map[string]any) *Validator {
	v, err := New(doc)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks value against the schema. The value is normalized through
// a JSON round trip first, so callers may pass structs or typed maps.
// Violations are returned as Invalid domain errors.
func (v *Validator) Validate(value any) error {
	normalized, err := normalize(value)
	if err != nil {
		return errdefs.InvalidParameterValue("value is not JSON-encodable: %v", err)
	}
	if err := v.schema.Validate(normalized); err != nil {
		return fmt.Errorf("%v: %w", err, errdefs.ErrInvalid)
	}
	return nil
}

func normalize(value any) (any, error) {
	buf, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(buf))
}
