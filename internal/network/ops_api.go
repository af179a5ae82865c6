// Package network - ops_api.go
// REST API for operators: inspect the world and issue orders.
package network

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coasim/coasim/internal/agents"
	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/platform/logger"
)

// OpsAPI exposes the Operator over HTTP.
type OpsAPI struct {
	operator *Operator
	logger   *logger.Logger
}

// NewOpsAPI creates a new operator API.
func NewOpsAPI(ops *Operator, log *logger.Logger) *OpsAPI {
	return &OpsAPI{operator: ops, logger: log}
}

// ObstacleRequest is the payload for POST /api/obstacles.
type ObstacleRequest struct {
	Action string     `json:"action"` // "add" or "clear"
	At     grid.Point `json:"at"`
}

// ObjectiveRequest is the payload for POST /api/objective.
type ObjectiveRequest struct {
	UnitID    string     `json:"unit_id"`
	Objective grid.Point `json:"objective"`
}

// PlanRequest is the payload for POST /api/plan.
type PlanRequest struct {
	UnitID string `json:"unit_id"`
}

// HandleState returns the current world.
// GET /api/state
func (api *OpsAPI) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonSuccess(w, api.operator.State())
}

// HandleObstacle adds or clears an obstacle.
// POST /api/obstacles
func (api *OpsAPI) HandleObstacle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ObstacleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	var eventID string
	switch req.Action {
	case "add", "":
		ev, e := api.operator.AddObstacle(req.At)
		eventID, err = ev.ID, e
	case "clear":
		ev, e := api.operator.ClearObstacle(req.At)
		eventID, err = ev.ID, e
	default:
		jsonError(w, "action must be add or clear", http.StatusBadRequest)
		return
	}
	if err != nil {
		api.orderError(w, err)
		return
	}

	jsonSuccess(w, map[string]any{
		"success":  true,
		"event_id": eventID,
		"at":       req.At,
	})
}

// HandleObjective retargets a unit.
// POST /api/objective
func (api *OpsAPI) HandleObjective(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ObjectiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UnitID == "" {
		jsonError(w, "Missing unit_id", http.StatusBadRequest)
		return
	}

	ev, err := api.operator.SetObjective(req.UnitID, req.Objective)
	if err != nil {
		api.orderError(w, err)
		return
	}
	jsonSuccess(w, map[string]any{
		"success":   true,
		"event_id":  ev.ID,
		"unit_id":   req.UnitID,
		"objective": req.Objective,
	})
}

// HandlePlan forces a unit to plan now.
// POST /api/plan
func (api *OpsAPI) HandlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UnitID == "" {
		jsonError(w, "Missing unit_id", http.StatusBadRequest)
		return
	}

	plan, err := api.operator.ForcePlan(r.Context(), req.UnitID)
	if errors.Is(err, agents.ErrUnknownUnit) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		expanded := 0
		if plan != nil {
			expanded = plan.Expanded
		}
		jsonStatus(w, http.StatusConflict, map[string]any{
			"success":  false,
			"error":    err.Error(),
			"expanded": expanded,
		})
		return
	}

	jsonSuccess(w, map[string]any{
		"success":    true,
		"unit_id":    req.UnitID,
		"path":       plan.Path,
		"length":     len(plan.Path) - 1,
		"expanded":   plan.Expanded,
		"latency_us": plan.Latency.Microseconds(),
	})
}

// RegisterRoutes sets up the operator API routes.
func (api *OpsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", api.HandleState)
	mux.HandleFunc("/api/obstacles", api.HandleObstacle)
	mux.HandleFunc("/api/objective", api.HandleObjective)
	mux.HandleFunc("/api/plan", api.HandlePlan)
}

func (api *OpsAPI) orderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agents.ErrUnknownUnit):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrRejected):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		api.logger.Errorf("operator order failed: %v", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// jsonError sends an error response.
func jsonError(w http.ResponseWriter, message string, status int) {
	jsonStatus(w, status, map[string]string{"error": message})
}

// jsonSuccess sends a success response.
func jsonSuccess(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
