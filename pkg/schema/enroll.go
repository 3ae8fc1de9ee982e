package schema

import (
	"sort"

	"github.com/cuemby/foundry/pkg/driver"
)

// EnrollDocument composes the enroll request schema from the enabled
// drivers. The base object pins the allowed root attributes; a oneOf branch
// per hardware type constrains properties to the fields that type's default
// fields and enabled workers declare. project_id and uuid are absent on
// purpose: the server assigns both.
func EnrollDocument(reg *driver.Registry) map[string]any {
	typeNames := make([]string, 0, len(reg.HardwareTypes()))
	for name := range reg.HardwareTypes() {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	branches := make([]any, 0, len(typeNames))
	for _, name := range typeNames {
		hwt, _ := reg.HardwareType(name)
		branches = append(branches, enrollBranch(reg, hwt))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":          String,
			"hardware_type": Enum(typeNames...),
			"properties":    map[string]any{"type": "object"},
		},
		"required":             []any{"name", "hardware_type", "properties"},
		"additionalProperties": false,
		"allOf": []any{
			map[string]any{"oneOf": branches},
		},
	}
}

func enrollBranch(reg *driver.Registry, hwt driver.HardwareType) map[string]any {
	props := map[string]any{}
	var required []any
	seen := map[string]bool{}
	for _, f := range reg.FieldsFor(hwt) {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		props[f.Name] = f.FieldSchema()
		if f.Required {
			required = append(required, f.Name)
		}
	}

	properties := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		properties["required"] = required
	}

	return map[string]any{
		"properties": map[string]any{
			"hardware_type": Const(hwt.Name()),
			"properties":    properties,
		},
	}
}

// NewEnrollValidator compiles the composed enroll schema for the enabled
// drivers.
func NewEnrollValidator(reg *driver.Registry) (*Validator, error) {
	return New(EnrollDocument(reg))
}

// WindowDocument is the schema for one availability window as accepted over
// the patch surface. uuid and hardware_uuid are server-managed but appear in
// the virtual document, so they are allowed through unchanged.
func WindowDocument() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"uuid":          UUID,
			"hardware_uuid": UUID,
			"start":         DateTime,
			"end":           DateTime,
		},
		"required":             []any{"start", "end"},
		"additionalProperties": false,
	}
}

// NewWindowValidator compiles the availability window schema.
func NewWindowValidator() (*Validator, error) {
	return New(WindowDocument())
}
