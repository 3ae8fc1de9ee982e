package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/cuemby/foundry/pkg/errdefs"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/storage"
	"github.com/cuemby/foundry/pkg/types"
)

// enrollRequest is the POST /v1/hardware body. project_id and uuid are
// assigned by the server and rejected when supplied.
type enrollRequest struct {
	Name         string         `json:"name"`
	HardwareType string         `json:"hardware_type"`
	Properties   map[string]any `json:"properties"`
}

func (s *Server) handleListHardware(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFrom(r.Context())

	opts, err := s.parseListOpts(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("all_projects") == "true" {
		if !ident.IsAdmin() {
			writeError(w, errdefs.ErrNotAuthorized)
			return
		}
	} else {
		opts.ProjectID = ident.ProjectID
	}
	opts.IncludeDeleted = r.URL.Query().Get("include_deleted") == "true"

	hardware, err := s.store.ListHardware(opts)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(hardware))
	for _, hw := range hardware {
		items = append(items, s.serializeHardware(hw, ident.IsAdmin()))
	}
	body := map[string]any{"hardware": items}
	if next := nextPageLink(r, hardware, opts); next != "" {
		body["next"] = next
	}
	writeJSON(w, http.StatusOK, body)
}

// handleExportHardware is the unauthenticated public listing. Output uses
// the non-admin serialization, so private fields never appear and sensitive
// values are masked.
func (s *Server) handleExportHardware(w http.ResponseWriter, r *http.Request) {
	opts, err := s.parseListOpts(r)
	if err != nil {
		writeError(w, err)
		return
	}

	hardware, err := s.store.ListHardware(opts)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(hardware))
	for _, hw := range hardware {
		items = append(items, s.serializeHardware(hw, false))
	}
	body := map[string]any{"hardware": items}
	if next := nextPageLink(r, hardware, opts); next != "" {
		body["next"] = next
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetHardware(w http.ResponseWriter, r *http.Request) {
	hw, ident, err := s.authorizedHardware(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tasks, err := s.store.ListWorkerTasksForHardware(hw.UUID)
	if err != nil {
		writeError(w, err)
		return
	}

	body := s.serializeHardware(hw, ident.IsAdmin())
	body["workers"] = s.serializeTasks(tasks)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleEnrollHardware(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFrom(r.Context())

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errdefs.InvalidParameterValue("failed to read request body: %v", err))
		return
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		writeError(w, errdefs.InvalidParameterValue("request body is not a JSON object: %v", err))
		return
	}
	for _, k := range []string{"uuid", "project_id"} {
		if _, ok := generic[k]; ok {
			writeError(w, errdefs.InvalidParameterValue("%s is assigned by the server", k))
			return
		}
	}
	if err := s.enroll.Validate(generic); err != nil {
		writeError(w, err)
		return
	}

	var req enrollRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, errdefs.InvalidParameterValue("malformed enroll request: %v", err))
		return
	}

	hw := &types.Hardware{
		UUID:         uuid.NewString(),
		Name:         req.Name,
		ProjectID:    ident.ProjectID,
		HardwareType: req.HardwareType,
		Properties:   req.Properties,
	}
	if err := s.store.CreateHardware(hw, types.WorkerStatePending); err != nil {
		writeError(w, err)
		return
	}

	logger := log.WithHardware(hw.UUID)
	logger.Info().
		Str("name", hw.Name).
		Str("hardware_type", hw.HardwareType).
		Msg("Enrolled hardware")
	writeJSON(w, http.StatusCreated, s.serializeHardware(hw, ident.IsAdmin()))
}

func (s *Server) handlePatchHardware(w http.ResponseWriter, r *http.Request) {
	hw, ident, err := s.authorizedHardware(r)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errdefs.InvalidParameterValue("failed to read request body: %v", err))
		return
	}

	windows, err := s.store.ListAvailabilityWindows(hw.UUID)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.engine.Apply(hw, windows, raw)
	if err != nil {
		writeError(w, err)
		return
	}

	// The patched hardware must still be a valid enrollment for its type.
	if err := s.enroll.Validate(map[string]any{
		"name":          res.Hardware.Name,
		"hardware_type": res.Hardware.HardwareType,
		"properties":    res.Hardware.Properties,
	}); err != nil {
		writeError(w, err)
		return
	}

	if !res.Changed {
		writeJSON(w, http.StatusOK, s.serializeHardware(hw, ident.IsAdmin()))
		return
	}

	if err := s.store.CommitPatch(&res.Hardware, res.AddWindows, res.UpdateWindows, res.RemoveWindowUUIDs); err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.store.GetHardwareByUUID(hw.UUID)
	if err != nil {
		writeError(w, err)
		return
	}
	logger := log.WithHardware(hw.UUID)
	logger.Info().Msg("Patched hardware")
	writeJSON(w, http.StatusOK, s.serializeHardware(updated, ident.IsAdmin()))
}

func (s *Server) handleDestroyHardware(w http.ResponseWriter, r *http.Request) {
	hw, _, err := s.authorizedHardware(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.DestroyHardware(hw.UUID); err != nil {
		writeError(w, err)
		return
	}
	logger := log.WithHardware(hw.UUID)
	logger.Info().Msg("Destroyed hardware")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "uuid": hw.UUID})
}

// handleSyncHardware requeues every task for the hardware that is not
// currently running, forcing a full re-reconcile.
func (s *Server) handleSyncHardware(w http.ResponseWriter, r *http.Request) {
	hw, _, err := s.authorizedHardware(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.SetTasksPending(hw.UUID); err != nil {
		writeError(w, err)
		return
	}

	tasks, err := s.store.ListWorkerTasksForHardware(hw.UUID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": s.serializeTasks(tasks)})
}

func (s *Server) handleListAvailability(w http.ResponseWriter, r *http.Request) {
	hw, _, err := s.authorizedHardware(r)
	if err != nil {
		writeError(w, err)
		return
	}

	windows, err := s.store.ListAvailabilityWindows(hw.UUID)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(windows))
	for i := range windows {
		items = append(items, s.serializeWindow(&windows[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"availability": items})
}

// authorizedHardware loads the hardware in the path and checks the caller
// may act on it. Hardware in a foreign project reads as not found so
// existence does not leak across tenants.
func (s *Server) authorizedHardware(r *http.Request) (*types.Hardware, *Identity, error) {
	ident := IdentityFrom(r.Context())
	id := r.PathValue("uuid")

	hw, err := s.store.GetHardwareByUUID(id)
	if err != nil {
		return nil, nil, err
	}
	if !canAccess(ident, hw.ProjectID) {
		return nil, nil, errdefs.HardwareNotFound(id)
	}
	return hw, ident, nil
}

func (s *Server) parseListOpts(r *http.Request) (storage.ListOpts, error) {
	q := r.URL.Query()
	opts := storage.ListOpts{
		Limit:   s.cfg.API.MaxLimit,
		Marker:  q.Get("marker"),
		SortKey: q.Get("sort_key"),
		SortDir: q.Get("sort_dir"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return opts, errdefs.InvalidParameterValue("limit must be a positive integer")
		}
		if limit < opts.Limit {
			opts.Limit = limit
		}
	}
	switch opts.SortDir {
	case "", "asc", "desc":
	default:
		return opts, errdefs.InvalidParameterValue("sort_dir must be asc or desc")
	}
	return opts, nil
}

// nextPageLink builds the keyset link to the next page when the current page
// is full.
func nextPageLink(r *http.Request, page []*types.Hardware, opts storage.ListOpts) string {
	if opts.Limit == 0 || len(page) < opts.Limit {
		return ""
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("marker", page[len(page)-1].UUID)
	if opts.SortKey != "" {
		q.Set("sort_key", opts.SortKey)
	}
	if opts.SortDir != "" {
		q.Set("sort_dir", opts.SortDir)
	}
	if r.URL.Query().Get("all_projects") == "true" {
		q.Set("all_projects", "true")
	}
	if opts.IncludeDeleted {
		q.Set("include_deleted", "true")
	}
	return r.URL.Path + "?" + q.Encode()
}
