package controllers

import (
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"synapse-ng/api/services"
	core "synapse-ng/core"
)

// NodeController provides the HTTP handlers for every endpoint in §6,
// mirroring the wallet server's controller shape: thin handlers that decode
// the request, call the service, and encode the result or map the error.
type NodeController struct {
	svc *services.NodeService
}

// NewNodeController builds a controller bound to svc.
func NewNodeController(svc *services.NodeService) *NodeController {
	return &NodeController{svc: svc}
}

// ResolveNodeKey exposes the daemon's node-key resolution so routes.Register
// can wire request-signature verification without reaching past the
// controller into the service layer.
func (c *NodeController) ResolveNodeKey(nodeID string) (ed25519.PublicKey, bool) {
	return c.svc.Daemon.ResolveNodeKey(nodeID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, core.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func channelParam(r *http.Request) string {
	ch := r.URL.Query().Get("channel")
	if ch == "" {
		return core.GlobalChannel
	}
	return ch
}

func callerID(r *http.Request) string {
	return r.Header.Get("X-Node-Id")
}

// State handles GET /state.
func (c *NodeController) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.svc.GetState())
}

// WhoAmI handles GET /whoami.
func (c *NodeController) WhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"node_id": c.svc.WhoAmI()})
}

// Healthz handles the supplemental GET /healthz.
func (c *NodeController) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.svc.Healthz())
}

// CreateTask handles POST /tasks?channel=.
func (c *NodeController) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req services.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	task, err := c.svc.CreateTask(channelParam(r), callerID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// ClaimTask handles POST /tasks/{id}/claim?channel=.
func (c *NodeController) ClaimTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := c.svc.ClaimTask(channelParam(r), id, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

// ProgressTask handles POST /tasks/{id}/progress?channel=.
func (c *NodeController) ProgressTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := c.svc.ProgressTask(channelParam(r), id, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "in_progress"})
}

// CompleteTask handles POST /tasks/{id}/complete?channel=.
func (c *NodeController) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := c.svc.CompleteTask(channelParam(r), id, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// BidTask handles POST /tasks/{id}/bid?channel=.
func (c *NodeController) BidTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Cost      float64 `json:"cost"`
		SpeedDays float64 `json:"speed_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if err := c.svc.BidTask(channelParam(r), id, callerID(r), req.Cost, req.SpeedDays); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bid recorded"})
}

// CreateProposal handles POST /proposals?channel=.
func (c *NodeController) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req services.CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	p, err := c.svc.CreateProposal(channelParam(r), callerID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// VoteProposal handles POST /proposals/{id}/vote?channel=.
func (c *NodeController) VoteProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Choice string `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if err := c.svc.VoteProposal(channelParam(r), id, callerID(r), req.Choice); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "vote recorded"})
}

// CloseProposal handles POST /proposals/{id}/close?channel=.
func (c *NodeController) CloseProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := c.svc.CloseProposal(channelParam(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// Ratify handles POST /governance/ratify/{id}?channel=.
func (c *NodeController) Ratify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := c.svc.RatifyProposal(channelParam(r), id, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ratification recorded"})
}

// ExecuteTool handles POST /tools/{tool_id}/execute?channel=&task_id=.
func (c *NodeController) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	toolID := mux.Vars(r)["tool_id"]
	taskID := r.URL.Query().Get("task_id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	result, err := c.svc.ExecuteTool(r.Context(), channelParam(r), toolID, taskID, callerID(r), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Schemas handles GET /schemas.
func (c *NodeController) Schemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"schemas": c.svc.Schemas()})
}

// Schema handles GET /schemas/{name}.
func (c *NodeController) Schema(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	schema, err := c.svc.Schema(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// ValidateSchema handles POST /schemas/validate?schema_name=.
func (c *NodeController) ValidateSchema(w http.ResponseWriter, r *http.Request) {
	schemaName := r.URL.Query().Get("schema_name")
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	out, err := c.svc.ValidateAgainstSchema(schemaName, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
