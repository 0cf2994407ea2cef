package routes

import (
	"github.com/gorilla/mux"

	"synapse-ng/api/controllers"
	"synapse-ng/api/middleware"
)

// Register wires every §6 endpoint, plus the supplemental /healthz, onto r.
// Every mutating endpoint sits behind RequireSignature: the caller must sign
// the request body with the private key matching the node id it claims in
// X-Node-Id (§6 "all mutations require node signature on the request
// body"). Reads and /schemas/validate (pure validation, no state change)
// are left open.
func Register(r *mux.Router, c *controllers.NodeController) {
	r.Use(middleware.Logger)

	r.HandleFunc("/healthz", c.Healthz).Methods("GET")
	r.HandleFunc("/state", c.State).Methods("GET")
	r.HandleFunc("/whoami", c.WhoAmI).Methods("GET")
	r.HandleFunc("/schemas", c.Schemas).Methods("GET")
	r.HandleFunc("/schemas/{name}", c.Schema).Methods("GET")
	r.HandleFunc("/schemas/validate", c.ValidateSchema).Methods("POST")

	mutating := r.NewRoute().Subrouter()
	mutating.Use(middleware.RequireSignature(c.ResolveNodeKey))

	mutating.HandleFunc("/tasks", c.CreateTask).Methods("POST")
	mutating.HandleFunc("/tasks/{id}/claim", c.ClaimTask).Methods("POST")
	mutating.HandleFunc("/tasks/{id}/progress", c.ProgressTask).Methods("POST")
	mutating.HandleFunc("/tasks/{id}/complete", c.CompleteTask).Methods("POST")
	mutating.HandleFunc("/tasks/{id}/bid", c.BidTask).Methods("POST")

	mutating.HandleFunc("/proposals", c.CreateProposal).Methods("POST")
	mutating.HandleFunc("/proposals/{id}/vote", c.VoteProposal).Methods("POST")
	mutating.HandleFunc("/proposals/{id}/close", c.CloseProposal).Methods("POST")

	mutating.HandleFunc("/governance/ratify/{id}", c.Ratify).Methods("POST")

	mutating.HandleFunc("/tools/{tool_id}/execute", c.ExecuteTool).Methods("POST")
}
