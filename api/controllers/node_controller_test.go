package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse-ng/api/services"
	core "synapse-ng/core"
)

func newTestController(t *testing.T) *NodeController {
	t.Helper()
	store, err := core.OpenStore(t.TempDir() + "/state.json")
	require.NoError(t, err)
	id, err := core.LoadOrCreateIdentity(t.TempDir() + "/id.pem")
	require.NoError(t, err)
	d := &core.Daemon{Identity: id, Store: store, WeightCfg: &core.WeightConfig{BaseLogBase: 2, BonusLogBase: 2, DecayFactor: 0.99, DecayFloor: 0.1}}
	svc := services.NewNodeService(d, 24*time.Hour, 0.5, 3, 100, 0.1)
	return NewNodeController(svc)
}

func TestWhoAmIHandlerReturnsNodeID(t *testing.T) {
	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	c.WhoAmI(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, c.svc.WhoAmI(), body["node_id"])
}

func TestCreateTaskHandlerRejectsMalformedBody(t *testing.T) {
	c := newTestController(t)
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	c.CreateTask(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTaskHandlerMapsInsufficientFundsToHTTPStatus(t *testing.T) {
	c := newTestController(t)
	body, _ := json.Marshal(services.CreateTaskRequest{Title: "t", Reward: 999})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBuffer(body))
	req.Header.Set("X-Node-Id", "alice")
	rec := httptest.NewRecorder()
	c.CreateTask(rec, req)

	assert.Equal(t, core.HTTPStatus(core.ErrInsufficientFunds), rec.Code)
}

func TestClaimTaskHandlerUsesRouteVarAndChannelQuery(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.svc.Daemon.Store.View(func(gs *core.GlobalState) {
		gs.Nodes["alice"] = &core.Node{ID: "alice", BalanceSP: 100}
	}))
	task, err := c.svc.CreateTask(core.GlobalChannel, "alice", services.CreateTaskRequest{Title: "t", Reward: 10})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks/"+task.ID+"/claim?channel="+core.GlobalChannel, nil)
	req.Header.Set("X-Node-Id", "bob")
	req = mux.SetURLVars(req, map[string]string{"id": task.ID})
	rec := httptest.NewRecorder()
	c.ClaimTask(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	state := c.svc.GetState()
	assert.Equal(t, core.TaskClaimed, state.Channels[core.GlobalChannel].Tasks[task.ID].Status)
}

func TestSchemaHandlerReturnsNotFoundForUnknownSchema(t *testing.T) {
	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/schemas/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "nope"})
	rec := httptest.NewRecorder()
	c.Schema(rec, req)
	assert.Equal(t, core.HTTPStatus(core.ErrNotFound), rec.Code)
}
