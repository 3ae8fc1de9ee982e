// Package patch applies JSON Patch documents to hardware.
//
// Patches operate on a virtual document: the hardware's root attributes plus
// an availability object keyed by window UUID. Operations are applied one at
// a time so a failing operation can be reported precisely, and the result is
// diffed back into a hardware update plus window inserts, updates, and
// removals that the store commits in a single transaction.
package patch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/schema"
	"github.com/cuemby/foundry/pkg/types"
)

// Root attributes a patch may touch. hardware_type is present so a patch
// against it produces an immutability error rather than an unknown-attribute
// error.
var patchableRoots = map[string]bool{
	"name":          true,
	"hardware_type": true,
	"properties":    true,
	"availability":  true,
}

// Result is the outcome of a successfully applied patch, ready to be
// committed atomically.
type Result struct {
	Hardware types.Hardware

	AddWindows        []types.AvailabilityWindow
	UpdateWindows     []types.AvailabilityWindow
	RemoveWindowUUIDs []string

	// Changed reports whether the patch altered anything at all. A no-op
	// patch commits nothing and requeues no tasks.
	Changed bool
}

// Engine applies patches. It is stateless beyond the compiled window schema
// and safe for concurrent use.
type Engine struct {
	windows *schema.Validator
}

// NewEngine compiles the window schema the engine validates patched windows
// against.
func NewEngine() (*Engine, error) {
	v, err := schema.NewWindowValidator()
	if err != nil {
		return nil, err
	}
	return &Engine{windows: v}, nil
}

type operation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (o operation) String() string {
	buf, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf("{op:%s path:%s}", o.Op, o.Path)
	}
	return string(buf)
}

// Apply runs the patch against hw and its windows and returns the diffed
// result. hw itself is not mutated.
func (e *Engine) Apply(hw *types.Hardware, windows []types.AvailabilityWindow, raw []byte) (*Result, error) {
	var ops []operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, errdefs.InvalidParameterValue("patch is not a JSON Patch document: %v", err)
	}
	if len(ops) == 0 {
		return nil, errdefs.InvalidParameterValue("patch contains no operations")
	}

	doc, err := buildDocument(hw, windows)
	if err != nil {
		return nil, err
	}

	for i := range ops {
		op := &ops[i]
		if err := e.checkOperation(op); err != nil {
			return nil, err
		}
		doc, err = applyOne(doc, op)
		if err != nil {
			return nil, err
		}
	}

	return e.diff(hw, windows, doc)
}

// checkOperation enforces the patch surface before the op is applied: only
// add, replace, and remove are supported; only whitelisted root attributes
// may be touched; hardware_type is immutable; the availability append path
// "-" is rewritten to a fresh window UUID.
func (e *Engine) checkOperation(op *operation) error {
	switch op.Op {
	case "add", "replace", "remove":
	default:
		return errdefs.PatchError(op, fmt.Errorf("unsupported op %q", op.Op))
	}

	root, rest, err := splitPath(op.Path)
	if err != nil {
		return errdefs.PatchError(op, err)
	}
	if !patchableRoots[root] {
		return errdefs.PatchError(op, fmt.Errorf("attribute %q cannot be patched", root))
	}
	if root == "hardware_type" {
		return errdefs.PatchError(op, fmt.Errorf("hardware_type is immutable"))
	}
	if op.Op == "add" && root == "name" && rest == "" {
		// name always exists on the document; adding it is a replace in
		// disguise and allowed as such.
		op.Op = "replace"
	}

	if root == "availability" && rest == "-" {
		if op.Op != "add" {
			return errdefs.PatchError(op, fmt.Errorf("path /availability/- is only valid for add"))
		}
		op.Path = "/availability/" + uuid.NewString()
	}
	return nil
}

func splitPath(path string) (root, rest string, err error) {
	if !strings.HasPrefix(path, "/") {
		return "", "", fmt.Errorf("path %q must start with /", path)
	}
	parts := strings.SplitN(path[1:], "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("patching the document root is not allowed")
	}
	if len(parts) == 2 {
		rest = parts[1]
	}
	return unescapePointer(parts[0]), rest, nil
}

func unescapePointer(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

func applyOne(doc []byte, op *operation) ([]byte, error) {
	opDoc, err := json.Marshal([]*operation{op})
	if err != nil {
		return nil, errdefs.PatchError(op, err)
	}
	p, err := jsonpatch.DecodePatch(opDoc)
	if err != nil {
		return nil, errdefs.PatchError(op, err)
	}
	patched, err := p.Apply(doc)
	if err != nil {
		return nil, errdefs.PatchError(op, err)
	}
	return patched, nil
}

// document is the virtual JSON document patches are applied to.
type document struct {
	UUID         string                    `json:"uuid"`
	Name         string                    `json:"name"`
	ProjectID    string                    `json:"project_id"`
	HardwareType string                    `json:"hardware_type"`
	Properties   map[string]any            `json:"properties"`
	Availability map[string]windowDocument `json:"availability"`
}

type windowDocument struct {
	UUID         string `json:"uuid"`
	HardwareUUID string `json:"hardware_uuid"`
	Start        string `json:"start"`
	End          string `json:"end"`
}

func buildDocument(hw *types.Hardware, windows []types.AvailabilityWindow) ([]byte, error) {
	doc := document{
		UUID:         hw.UUID,
		Name:         hw.Name,
		ProjectID:    hw.ProjectID,
		HardwareType: hw.HardwareType,
		Properties:   hw.Properties,
		Availability: make(map[string]windowDocument, len(windows)),
	}
	if doc.Properties == nil {
		doc.Properties = map[string]any{}
	}
	for _, w := range windows {
		doc.Availability[w.UUID] = windowDocument{
			UUID:         w.UUID,
			HardwareUUID: w.HardwareUUID,
			Start:        w.Start.Format(time.RFC3339),
			End:          w.End.Format(time.RFC3339),
		}
	}
	return json.Marshal(doc)
}

func (e *Engine) diff(hw *types.Hardware, windows []types.AvailabilityWindow, raw []byte) (*Result, error) {
	var patched document
	if err := json.Unmarshal(raw, &patched); err != nil {
		return nil, errdefs.InvalidParameterValue("patched document is malformed: %v", err)
	}

	if patched.Name == "" {
		return nil, errdefs.InvalidParameterValue("hardware name cannot be removed or emptied")
	}
	if patched.Properties == nil {
		return nil, errdefs.InvalidParameterValue("hardware properties cannot be removed")
	}

	res := &Result{Hardware: *hw}
	res.Hardware.Name = patched.Name
	res.Hardware.Properties = patched.Properties
	if patched.Name != hw.Name || !reflect.DeepEqual(normalizeJSON(patched.Properties), normalizeJSON(hw.Properties)) {
		res.Changed = true
	}

	existing := make(map[string]types.AvailabilityWindow, len(windows))
	for _, w := range windows {
		existing[w.UUID] = w
	}

	for id, wd := range patched.Availability {
		parsed, err := e.parseWindow(id, hw.UUID, wd, existing)
		if err != nil {
			return nil, err
		}
		prev, ok := existing[id]
		switch {
		case !ok:
			res.AddWindows = append(res.AddWindows, parsed)
			res.Changed = true
		case !prev.Start.Equal(parsed.Start) || !prev.End.Equal(parsed.End):
			res.UpdateWindows = append(res.UpdateWindows, parsed)
			res.Changed = true
		}
	}
	for _, w := range windows {
		if _, ok := patched.Availability[w.UUID]; !ok {
			res.RemoveWindowUUIDs = append(res.RemoveWindowUUIDs, w.UUID)
			res.Changed = true
		}
	}
	return res, nil
}

// parseWindow validates one window from the patched document and resolves it
// against the server-managed identity fields.
func (e *Engine) parseWindow(id, hardwareUUID string, wd windowDocument, existing map[string]types.AvailabilityWindow) (types.AvailabilityWindow, error) {
	var zero types.AvailabilityWindow
	if err := e.windows.Validate(wd); err != nil {
		return zero, errdefs.InvalidParameterValue("availability window %s is invalid: %v", id, err)
	}
	if wd.UUID != "" && wd.UUID != id {
		return zero, errdefs.InvalidParameterValue(
			"availability window uuid %s does not match its key %s", wd.UUID, id)
	}
	if wd.HardwareUUID != "" && wd.HardwareUUID != hardwareUUID {
		return zero, errdefs.InvalidParameterValue(
			"availability window %s cannot be moved to another hardware", id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return zero, errdefs.InvalidParameterValue("availability window key %q is not a UUID", id)
	}

	start, err := parseWindowTime(wd.Start)
	if err != nil {
		return zero, errdefs.InvalidParameterValue("availability window %s start: %v", id, err)
	}
	end, err := parseWindowTime(wd.End)
	if err != nil {
		return zero, errdefs.InvalidParameterValue("availability window %s end: %v", id, err)
	}
	if !end.After(start) {
		return zero, errdefs.InvalidParameterValue("availability window %s must end after it starts", id)
	}

	w := types.AvailabilityWindow{
		UUID:         id,
		HardwareUUID: hardwareUUID,
		Start:        start,
		End:          end,
	}
	if prev, ok := existing[id]; ok {
		w.CreatedAt = prev.CreatedAt
	}
	return w, nil
}

// Window boundaries keep minute precision; downstream reservation systems do
// not resolve finer than that.
func parseWindowTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Minute), nil
}

// normalizeJSON round-trips a value through JSON so maps built from typed Go
// values compare equal to their decoded forms.
func normalizeJSON(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}
