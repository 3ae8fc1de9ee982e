package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foundry/pkg/api"
	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/driver"
	"github.com/cuemby/foundry/pkg/log"
	"github.com/cuemby/foundry/pkg/storage"
	"github.com/cuemby/foundry/pkg/types"

	_ "github.com/cuemby/foundry/pkg/driver/hwtype"
	_ "github.com/cuemby/foundry/pkg/driver/workers"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type apiFixture struct {
	handler http.Handler
	store   storage.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.Default()
	cfg.EnabledHardwareTypes = []string{"fake-hardware"}
	cfg.EnabledWorkerTypes = []string{"fake-worker"}
	cfg.API.Tokens = map[string]config.TokenIdentity{
		"token-admin": {UserID: "root", ProjectID: "project-ops", Roles: []string{"admin"}},
		"token-a":     {UserID: "alice", ProjectID: "project-a", Roles: []string{"member"}},
		"token-b":     {UserID: "bob", ProjectID: "project-b", Roles: []string{"member"}},
	}

	reg, err := driver.Load(cfg)
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server, err := api.NewServer(cfg, store, reg, nil)
	require.NoError(t, err)

	return &apiFixture{handler: server.Routes(), store: store}
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

const enrollBody = `{
	"name": "node-1",
	"hardware_type": "fake-hardware",
	"properties": {
		"default_required_field": "x",
		"private-field": "hidden",
		"sensitive-field": "s3cret"
	}
}`

func (f *apiFixture) enroll(t *testing.T, token string) string {
	t.Helper()
	rec, body := f.do(t, http.MethodPost, "/v1/hardware", token, enrollBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["uuid"].(string)
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodGet, "/v1/hardware", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, body, "error")

	rec, _ = f.do(t, http.MethodGet, "/v1/hardware", "token-wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnrollHardware(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodPost, "/v1/hardware", "token-a", enrollBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.NotEmpty(t, body["uuid"])
	assert.Equal(t, "node-1", body["name"])
	assert.Equal(t, "project-a", body["project_id"], "owner comes from the token, not the body")

	props := body["properties"].(map[string]any)
	assert.Equal(t, "x", props["default_required_field"])
	assert.NotContains(t, props, "private-field", "private fields hidden from non-admins")
	assert.Equal(t, "************", props["sensitive-field"])

	// One task per enabled worker, visible on the detail view.
	rec, body = f.do(t, http.MethodGet, "/v1/hardware/"+body["uuid"].(string), "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	workers := body["workers"].([]any)
	require.Len(t, workers, 1)
	task := workers[0].(map[string]any)
	assert.Equal(t, "fake-worker", task["worker_type"])
	assert.Equal(t, "PENDING", task["state"])
}

func TestEnrollValidationFailures(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing required property",
			`{"name": "n", "hardware_type": "fake-hardware", "properties": {}}`},
		{"unknown hardware type",
			`{"name": "n", "hardware_type": "mainframe", "properties": {}}`},
		{"client-supplied project_id",
			`{"name": "n", "hardware_type": "fake-hardware", "project_id": "p",
			  "properties": {"default_required_field": "x"}}`},
		{"not json", `{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodPost, "/v1/hardware", "token-a", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, body, "error")
		})
	}
}

func TestEnrollDuplicateName(t *testing.T) {
	f := newAPIFixture(t)
	f.enroll(t, "token-a")

	rec, _ := f.do(t, http.MethodPost, "/v1/hardware", "token-a", enrollBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProjectIsolation(t *testing.T) {
	f := newAPIFixture(t)
	hwUUID := f.enroll(t, "token-a")

	// Another tenant cannot see the item, not even its existence.
	rec, _ := f.do(t, http.MethodGet, "/v1/hardware/"+hwUUID, "token-b", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Admins can.
	rec, body := f.do(t, http.MethodGet, "/v1/hardware/"+hwUUID, "token-admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	props := body["properties"].(map[string]any)
	assert.Equal(t, "hidden", props["private-field"], "admins see private fields")
	assert.Equal(t, "************", props["sensitive-field"], "sensitive values masked even for admins")

	// Listing is scoped to the caller's project.
	rec, body = f.do(t, http.MethodGet, "/v1/hardware", "token-b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["hardware"])

	rec, body = f.do(t, http.MethodGet, "/v1/hardware", "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["hardware"], 1)

	// all_projects is admin-only.
	rec, _ = f.do(t, http.MethodGet, "/v1/hardware?all_projects=true", "token-a", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, body = f.do(t, http.MethodGet, "/v1/hardware?all_projects=true", "token-admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["hardware"], 1)
}

func TestExportIsPublicAndMasked(t *testing.T) {
	f := newAPIFixture(t)
	f.enroll(t, "token-a")

	rec, body := f.do(t, http.MethodGet, "/v1/hardware/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	items := body["hardware"].([]any)
	require.Len(t, items, 1)
	props := items[0].(map[string]any)["properties"].(map[string]any)
	assert.NotContains(t, props, "private-field")
	assert.Equal(t, "************", props["sensitive-field"])
}

func TestPatchHardware(t *testing.T) {
	f := newAPIFixture(t)
	hwUUID := f.enroll(t, "token-a")

	rec, body := f.do(t, http.MethodPatch, "/v1/hardware/"+hwUUID, "token-a",
		`[{"op": "replace", "path": "/name", "value": "node-1-renamed"},
		  {"op": "add", "path": "/availability/-", "value": {
			"start": "2026-09-01T08:00:00Z", "end": "2026-09-01T18:00:00Z"}}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "node-1-renamed", body["name"])

	rec, body = f.do(t, http.MethodGet, "/v1/hardware/"+hwUUID+"/availability", "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	windows := body["availability"].([]any)
	require.Len(t, windows, 1)
	w := windows[0].(map[string]any)
	assert.Equal(t, hwUUID, w["hardware_uuid"])
	assert.Equal(t, "2026-09-01T08:00:00Z", w["start"])

	// The edit requeued the hardware's tasks.
	tasks, err := f.store.ListWorkerTasksForHardware(hwUUID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.WorkerStatePending, tasks[0].State)
}

func TestPatchRejections(t *testing.T) {
	f := newAPIFixture(t)
	hwUUID := f.enroll(t, "token-a")

	tests := []struct {
		name  string
		patch string
	}{
		{"hardware_type immutable",
			`[{"op": "replace", "path": "/hardware_type", "value": "baremetal"}]`},
		{"unknown root attribute",
			`[{"op": "add", "path": "/nickname", "value": "speedy"}]`},
		{"patched properties must stay valid",
			`[{"op": "remove", "path": "/properties/default_required_field"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodPatch, "/v1/hardware/"+hwUUID, "token-a", tt.patch)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, body, "error")
		})
	}

	t.Run("foreign hardware reads as missing", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodPatch, "/v1/hardware/"+hwUUID, "token-b",
			`[{"op": "replace", "path": "/name", "value": "stolen"}]`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDestroyHardware(t *testing.T) {
	f := newAPIFixture(t)
	hwUUID := f.enroll(t, "token-a")

	rec, body := f.do(t, http.MethodDelete, "/v1/hardware/"+hwUUID, "token-a", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["deleted"])

	rec, _ = f.do(t, http.MethodGet, "/v1/hardware/"+hwUUID, "token-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The name is free again.
	rec, _ = f.do(t, http.MethodPost, "/v1/hardware", "token-a", enrollBody)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSyncHardware(t *testing.T) {
	f := newAPIFixture(t)
	hwUUID := f.enroll(t, "token-a")

	tasks, err := f.store.ListWorkerTasksForHardware(hwUUID)
	require.NoError(t, err)
	steady := types.WorkerStateSteady
	_, err = f.store.UpdateWorkerTask(tasks[0].UUID, storage.TaskUpdate{State: &steady})
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodPost, "/v1/hardware/"+hwUUID+"/sync", "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	workers := body["workers"].([]any)
	require.Len(t, workers, 1)
	assert.Equal(t, "PENDING", workers[0].(map[string]any)["state"])
}

func TestListPagination(t *testing.T) {
	f := newAPIFixture(t)

	for _, name := range []string{"node-1", "node-2", "node-3"} {
		body := strings.Replace(enrollBody, "node-1", name, 1)
		rec, _ := f.do(t, http.MethodPost, "/v1/hardware", "token-a", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, body := f.do(t, http.MethodGet, "/v1/hardware?limit=2", "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["hardware"], 2)
	next, ok := body["next"].(string)
	require.True(t, ok, "a full page links to the next one")
	assert.Contains(t, next, "marker=")

	rec, body = f.do(t, http.MethodGet, next, "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["hardware"], 1)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
