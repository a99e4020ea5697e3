// ABOUTME: HTTP API handlers for fleet state, commands, logs, and auth.
// ABOUTME: Routes under /api/robots and /api/agents are dispatched by path segment.

package hub

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artbot/fleet-hub/internal/auth"
	"github.com/artbot/fleet-hub/internal/command"
	"github.com/artbot/fleet-hub/internal/fleet"
	"github.com/artbot/fleet-hub/internal/health"
)

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token       string `json:"access_token"`
	TokenType   string `json:"token_type"`
	AccessLevel string `json:"access_level"`
}

// RegisterAgentRequest is the JSON request body for POST /api/agents/register.
type RegisterAgentRequest struct {
	AgentID      string         `json:"agent_id"`
	Hostname     string         `json:"hostname"`
	IPAddress    string         `json:"ip_address"`
	SystemInfo   map[string]any `json:"system_info"`
	Capabilities []string       `json:"capabilities"`
}

// CommandRequest is the JSON request body for POST /api/robots/{id}/command.
type CommandRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// ExhibitionCommandRequest is the JSON request body for POST /api/exhibition/command.
type ExhibitionCommandRequest struct {
	Action string `json:"action"`
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes the request body into v, rejecting oversized payloads.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// queryLimit parses the limit query parameter, falling back to def.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// handleLogin handles POST /api/auth/login requests.
// It exchanges a shared password for a signed access token.
func (h *Hub) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, level, err := h.authn.Login(req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:       token,
		TokenType:   "bearer",
		AccessLevel: string(level),
	})
}

// handleAgentRegister handles POST /api/agents/register requests.
// Registration is upsert: a returning agent refreshes its record.
func (h *Hub) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RegisterAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	agent, robot := h.manager.RegisterAgent(req.AgentID, fleet.AgentInfo{
		Hostname:     req.Hostname,
		IPAddress:    req.IPAddress,
		SystemInfo:   req.SystemInfo,
		Capabilities: req.Capabilities,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "registered",
		"agent":  agent,
		"robot":  robot,
	})
}

// handleAgentHeartbeat handles POST /api/agents/{id}/heartbeat requests.
func (h *Hub) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/agents/"), "/heartbeat")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.manager.ApplyHeartbeat(id, body) {
		writeError(w, http.StatusNotFound, "agent not registered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAgents handles GET /api/agents requests.
func (h *Hub) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": h.manager.Agents.All()})
}

// handleAgentRoutes dispatches the authenticated routes under /api/agents/.
func (h *Hub) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")

	if rest == "stats/connections" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"registry":    h.manager.Agents.Stats(),
			"connections": h.conns.Stats(),
			"connected":   h.conns.ConnectedAgents(),
		})
		return
	}

	if strings.Contains(rest, "/") || rest == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		agent, ok := h.manager.Agents.Get(rest)
		if !ok {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, agent)
	case http.MethodDelete:
		authCtx := auth.FromContext(r.Context())
		if authCtx == nil || !authCtx.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		if !h.manager.RemoveAgent(rest) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleRobots handles GET /api/robots requests.
func (h *Hub) handleRobots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	robots := h.manager.Robots.All()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := robots[:0]
		for _, robot := range robots {
			if robot.Status == status {
				filtered = append(filtered, robot)
			}
		}
		robots = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"robots": robots, "count": len(robots)})
}

// handleRobotRoutes dispatches the routes under /api/robots/{id}.
func (h *Hub) handleRobotRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/robots/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	switch sub {
	case "":
		h.handleRobot(w, r, authCtx, id)
	case "command":
		h.handleRobotCommand(w, r, authCtx, id)
	case "commands":
		h.handleRobotCommands(w, r, authCtx, id)
	case "logs":
		h.handleRobotLogs(w, r, authCtx, id)
	case "health":
		h.handleRobotHealth(w, r, authCtx, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Hub) handleRobot(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, id string) {
	switch r.Method {
	case http.MethodGet:
		if !authCtx.Can("robot.view") {
			writeError(w, http.StatusForbidden, "insufficient access level")
			return
		}
		robot, ok := h.manager.Robots.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "robot not found")
			return
		}
		writeJSON(w, http.StatusOK, robot)
	case http.MethodDelete:
		if !authCtx.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		if !h.manager.Robots.Remove(id) {
			writeError(w, http.StatusNotFound, "robot not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Hub) handleRobotCommand(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !authCtx.Can("robot.control") {
		writeError(w, http.StatusForbidden, "insufficient access level")
		return
	}

	var req CommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	rec, err := h.manager.SendCommand(id, req.Action, req.Parameters, authCtx.Subject)
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrRobotNotFound):
			writeError(w, http.StatusNotFound, "robot not found")
		case errors.Is(err, fleet.ErrRobotOffline):
			writeError(w, http.StatusConflict, "robot offline")
		case errors.Is(err, command.ErrDeliveryFailed):
			writeError(w, http.StatusBadGateway, "command delivery failed")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Hub) handleRobotCommands(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !authCtx.Can("robot.view") {
		writeError(w, http.StatusForbidden, "insufficient access level")
		return
	}

	limit := queryLimit(r, 50)
	writeJSON(w, http.StatusOK, map[string]any{
		"robot_id": id,
		"commands": h.commands.History(id, limit),
		"pending":  h.commands.Pending(id),
	})
}

func (h *Hub) handleRobotLogs(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !authCtx.Can("robot.view") {
		writeError(w, http.StatusForbidden, "insufficient access level")
		return
	}

	level := r.URL.Query().Get("level")
	limit := queryLimit(r, 100)
	writeJSON(w, http.StatusOK, map[string]any{
		"robot_id": id,
		"logs":     h.logs.Robot(id, level, limit),
	})
}

func (h *Hub) handleRobotHealth(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !authCtx.Can("robot.view") {
		writeError(w, http.StatusForbidden, "insufficient access level")
		return
	}

	robot, ok := h.manager.Robots.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "robot not found")
		return
	}
	writeJSON(w, http.StatusOK, health.EvaluateAt(robot, time.Now().UTC(), h.config.Health.StaleThreshold))
}

// handleSystemLogs handles GET /api/logs requests.
func (h *Hub) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	level := r.URL.Query().Get("level")
	limit := queryLimit(r, 200)
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  h.logs.System(level, limit),
		"stats": h.logs.Stats(),
	})
}

// handleCommandStats handles GET /api/commands/stats requests.
func (h *Hub) handleCommandStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.commands.Stats())
}

// handleExhibitionCommand handles POST /api/exhibition/command requests.
func (h *Hub) handleExhibitionCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ExhibitionCommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	issuedBy := ""
	if authCtx := auth.FromContext(r.Context()); authCtx != nil {
		issuedBy = authCtx.Subject
	}

	var results map[string]string
	switch req.Action {
	case "start":
		results = h.manager.StartExhibition(issuedBy)
	case "stop":
		results = h.manager.StopExhibition(issuedBy)
	default:
		writeError(w, http.StatusBadRequest, "action must be start or stop")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"action":  req.Action,
		"results": results,
	})
}

// handleExhibitionStatus handles GET /api/exhibition/status requests.
func (h *Hub) handleExhibitionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.ExhibitionStatus())
}
