// ABOUTME: HTTP API tests exercising auth, agent flow, and error mapping.
// ABOUTME: Runs the full mux against httptest so routing is covered too.

package hub

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/artbot/fleet-hub/internal/config"
	"github.com/artbot/fleet-hub/internal/fleet"
)

const (
	testAdminPassword  = "admin-secret"
	testMuseumPassword = "museum-secret"
)

type hubFixture struct {
	hub    *Hub
	server *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Auth.JWTSecret = "test-signing-secret"
	cfg.Auth.AdminPassword = testAdminPassword
	cfg.Auth.MuseumPassword = testMuseumPassword
	cfg.Agents.LivenessWindow = 2 * time.Minute

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	server := httptest.NewServer(h.httpServer.Handler)
	t.Cleanup(server.Close)
	t.Cleanup(h.conns.CloseAll)
	return &hubFixture{hub: h, server: server}
}

func (f *hubFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func (f *hubFixture) login(t *testing.T, password string) string {
	t.Helper()
	resp := f.request(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Password: password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d", resp.StatusCode)
	}
	var out LoginResponse
	decodeResponse(t, resp, &out)
	return out.Token
}

func (f *hubFixture) registerAgent(t *testing.T, id string) {
	t.Helper()
	resp := f.request(t, http.MethodPost, "/api/agents/register", "", RegisterAgentRequest{
		AgentID:  id,
		Hostname: id + "-host",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register returned %d", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	f := newHubFixture(t)

	resp := f.request(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Password: testAdminPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out LoginResponse
	decodeResponse(t, resp, &out)
	if out.AccessLevel != "ADMIN" {
		t.Errorf("AccessLevel = %q, want ADMIN", out.AccessLevel)
	}
	if out.TokenType != "bearer" {
		t.Errorf("TokenType = %q, want bearer", out.TokenType)
	}
	if out.Token == "" {
		t.Error("Token should not be empty")
	}
}

func TestLogin_MuseumLevel(t *testing.T) {
	f := newHubFixture(t)

	resp := f.request(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Password: testMuseumPassword})
	var out LoginResponse
	decodeResponse(t, resp, &out)
	if out.AccessLevel != "MUSEUM" {
		t.Errorf("AccessLevel = %q, want MUSEUM", out.AccessLevel)
	}
}

func TestLogin_BadPassword(t *testing.T) {
	f := newHubFixture(t)

	resp := f.request(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Password: "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newHubFixture(t)

	resp := f.request(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}

	// No agent channels are connected, so the hub is not ready.
	resp = f.request(t, http.MethodGet, "/health/ready", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/health/ready status = %d, want 503", resp.StatusCode)
	}
}

func TestAgentRegisterAndHeartbeat(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")

	// Heartbeats need no token; agents live on the trusted segment.
	resp := f.request(t, http.MethodPost, "/api/agents/robot-1/heartbeat", "",
		map[string]any{"cpu_percent": 35.0, "memory_percent": 60.0, "battery_level": 80.0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status = %d, want 200", resp.StatusCode)
	}

	token := f.login(t, testMuseumPassword)
	resp = f.request(t, http.MethodGet, "/api/robots/robot-1", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("robot fetch status = %d, want 200", resp.StatusCode)
	}
	var robot fleet.Robot
	decodeResponse(t, resp, &robot)
	if robot.BatteryLevel != 80 {
		t.Errorf("BatteryLevel = %v, want 80", robot.BatteryLevel)
	}
	if robot.CPUUsage != 35 {
		t.Errorf("CPUUsage = %v, want 35", robot.CPUUsage)
	}
}

func TestAgentHeartbeat_Unregistered(t *testing.T) {
	f := newHubFixture(t)

	resp := f.request(t, http.MethodPost, "/api/agents/ghost/heartbeat", "",
		map[string]any{"cpu_percent": 10.0})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAgentRegister_MissingID(t *testing.T) {
	f := newHubFixture(t)

	resp := f.request(t, http.MethodPost, "/api/agents/register", "", RegisterAgentRequest{Hostname: "host"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRobots_RequiresToken(t *testing.T) {
	f := newHubFixture(t)

	resp := f.request(t, http.MethodGet, "/api/robots", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRobots_StatusFilter(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")
	f.registerAgent(t, "robot-2")
	f.hub.manager.Robots.SetStatus("robot-2", fleet.RobotStatusOffline, "")

	token := f.login(t, testMuseumPassword)
	resp := f.request(t, http.MethodGet, "/api/robots?status=online", token, nil)

	var out struct {
		Count  int           `json:"count"`
		Robots []fleet.Robot `json:"robots"`
	}
	decodeResponse(t, resp, &out)
	if out.Count != 1 {
		t.Fatalf("count = %d, want 1", out.Count)
	}
	if out.Robots[0].ID != "robot-1" {
		t.Errorf("robot = %q, want robot-1", out.Robots[0].ID)
	}
}

func TestRobotCommand_ErrorMapping(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")
	token := f.login(t, testAdminPassword)

	// Unknown robot.
	resp := f.request(t, http.MethodPost, "/api/robots/ghost/command", token,
		CommandRequest{Action: "start"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown robot status = %d, want 404", resp.StatusCode)
	}

	// Registered but no live channel: the dispatch fails downstream.
	resp = f.request(t, http.MethodPost, "/api/robots/robot-1/command", token,
		CommandRequest{Action: "start"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("no channel status = %d, want 502", resp.StatusCode)
	}

	// Offline robot is rejected before dispatch.
	f.hub.manager.Robots.SetStatus("robot-1", fleet.RobotStatusOffline, "")
	resp = f.request(t, http.MethodPost, "/api/robots/robot-1/command", token,
		CommandRequest{Action: "start"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("offline robot status = %d, want 409", resp.StatusCode)
	}

	// Unsupported action.
	f.hub.manager.Robots.SetStatus("robot-1", fleet.RobotStatusOnline, "")
	resp = f.request(t, http.MethodPost, "/api/robots/robot-1/command", token,
		CommandRequest{Action: "moonwalk"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad action status = %d, want 400", resp.StatusCode)
	}
}

func TestRobotCommand_MuseumForbidden(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")

	// Museum staff observe the fleet; individual robot control is
	// admin-only.
	token := f.login(t, testMuseumPassword)
	resp := f.request(t, http.MethodPost, "/api/robots/robot-1/command", token,
		CommandRequest{Action: "start"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestAgentDelete_RequiresAdmin(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")

	museum := f.login(t, testMuseumPassword)
	resp := f.request(t, http.MethodDelete, "/api/agents/robot-1", museum, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("museum delete status = %d, want 403", resp.StatusCode)
	}

	admin := f.login(t, testAdminPassword)
	resp = f.request(t, http.MethodDelete, "/api/agents/robot-1", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin delete status = %d, want 200", resp.StatusCode)
	}
}

func TestAgents_ListRequiresAdmin(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")

	museum := f.login(t, testMuseumPassword)
	resp := f.request(t, http.MethodGet, "/api/agents", museum, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("museum list status = %d, want 403", resp.StatusCode)
	}

	admin := f.login(t, testAdminPassword)
	resp = f.request(t, http.MethodGet, "/api/agents", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin list status = %d, want 200", resp.StatusCode)
	}
}

func TestRobotHealth(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")

	token := f.login(t, testMuseumPassword)
	resp := f.request(t, http.MethodGet, "/api/robots/robot-1/health", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var report struct {
		RobotID string  `json:"robot_id"`
		Score   float64 `json:"score"`
		Status  string  `json:"status"`
	}
	decodeResponse(t, resp, &report)
	if report.RobotID != "robot-1" {
		t.Errorf("robot_id = %q", report.RobotID)
	}
	if report.Status != "healthy" {
		t.Errorf("status = %q, want healthy for fresh defaults", report.Status)
	}
}

func TestSystemHealth(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")
	f.registerAgent(t, "robot-2")

	token := f.login(t, testMuseumPassword)
	resp := f.request(t, http.MethodGet, "/api/system/health", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		TotalRobots   int    `json:"total_robots"`
		OverallStatus string `json:"overall_status"`
	}
	decodeResponse(t, resp, &out)
	if out.TotalRobots != 2 {
		t.Errorf("total_robots = %d, want 2", out.TotalRobots)
	}
	if out.OverallStatus != "healthy" {
		t.Errorf("overall_status = %q, want healthy", out.OverallStatus)
	}
}

func TestSystemLogs(t *testing.T) {
	f := newHubFixture(t)
	f.hub.logs.Append("robot-1", "error", "motor fault", "drive")

	token := f.login(t, testMuseumPassword)
	resp := f.request(t, http.MethodGet, "/api/logs?level=error", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Logs []struct {
			Message string `json:"message"`
		} `json:"logs"`
	}
	decodeResponse(t, resp, &out)
	if len(out.Logs) != 1 || out.Logs[0].Message != "motor fault" {
		t.Errorf("logs = %v", out.Logs)
	}
}

func TestExhibitionEndpoints(t *testing.T) {
	f := newHubFixture(t)
	token := f.login(t, testMuseumPassword)

	resp := f.request(t, http.MethodGet, "/api/exhibition/status", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status fetch = %d, want 200", resp.StatusCode)
	}
	var status struct {
		Running     bool `json:"running"`
		TotalRobots int  `json:"total_robots"`
	}
	decodeResponse(t, resp, &status)
	if status.Running {
		t.Error("running = true with no robots, want false")
	}

	resp = f.request(t, http.MethodPost, "/api/exhibition/command", token,
		ExhibitionCommandRequest{Action: "open"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad action status = %d, want 400", resp.StatusCode)
	}

	// Start with an empty fleet succeeds with no per-robot results.
	resp = f.request(t, http.MethodPost, "/api/exhibition/command", token,
		ExhibitionCommandRequest{Action: "start"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("start status = %d, want 200", resp.StatusCode)
	}
}

func TestCommandStats(t *testing.T) {
	f := newHubFixture(t)
	token := f.login(t, testMuseumPassword)

	resp := f.request(t, http.MethodGet, "/api/commands/stats", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats map[string]any
	decodeResponse(t, resp, &stats)
	if stats["total_commands"] != 0.0 {
		t.Errorf("total_commands = %v, want 0", stats["total_commands"])
	}
}
