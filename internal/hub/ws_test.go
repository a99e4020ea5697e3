// ABOUTME: End-to-end websocket tests: agent channel, command delivery,
// ABOUTME: dashboard fan-out, and the disconnect cascade.

package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artbot/fleet-hub/internal/fleet"
	"github.com/artbot/fleet-hub/internal/protocol"
)

func (f *hubFixture) dialWS(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", path, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAgentChannel_RequiresRegistration(t *testing.T) {
	f := newHubFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/agent/ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial should fail for an unregistered agent")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("upgrade response = %v, want 404", resp)
	}
}

func TestAgentChannel_StatusReportUpdatesRobot(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")
	ws := f.dialWS(t, "/ws/agent/robot-1")

	frame, _ := json.Marshal(map[string]any{
		"type":     protocol.TypeRobotStatus,
		"agent_id": "robot-1",
		"data":     map[string]any{"cpu_percent": 20.0, "memory_percent": 45.0, "battery_level": 64.0},
	})
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("writing status frame: %v", err)
	}

	waitForCondition(t, func() bool {
		robot, ok := f.hub.manager.Robots.Get("robot-1")
		return ok && robot.BatteryLevel == 64
	})
}

func TestAgentChannel_CommandRoundTrip(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")
	ws := f.dialWS(t, "/ws/agent/robot-1")

	// Give the read loop a live channel before dispatching.
	waitForCondition(t, func() bool {
		return len(f.hub.conns.ConnectedAgents()) == 1
	})

	rec, err := f.hub.manager.SendCommand("robot-1", "start", nil, "admin")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	// The agent side receives the command frame.
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("reading command frame: %v", err)
	}
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Fatalf("decoding command frame: %v", err)
	}
	if cmd.CommandID != rec.ID || cmd.Action != "start" {
		t.Errorf("frame = %+v, want command %s action start", cmd, rec.ID)
	}

	// Confirm completion back over the channel.
	response, _ := json.Marshal(map[string]any{
		"type":       protocol.TypeCommandResponse,
		"agent_id":   "robot-1",
		"command_id": rec.ID,
		"data":       map[string]any{"status": "success", "message": "started"},
	})
	if err := ws.WriteMessage(websocket.TextMessage, response); err != nil {
		t.Fatalf("writing response frame: %v", err)
	}

	waitForCondition(t, func() bool {
		got, ok := f.hub.commands.Get(rec.ID)
		return ok && got.Status == "completed"
	})
}

func TestAgentChannel_DisconnectCascades(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")
	ws := f.dialWS(t, "/ws/agent/robot-1")

	waitForCondition(t, func() bool {
		return len(f.hub.conns.ConnectedAgents()) == 1
	})

	ws.Close()

	waitForCondition(t, func() bool {
		robot, ok := f.hub.manager.Robots.Get("robot-1")
		return ok && robot.Status == fleet.RobotStatusOffline
	})
	waitForCondition(t, func() bool {
		return len(f.hub.conns.ConnectedAgents()) == 0
	})
}

func TestDashboard_ReceivesRobotUpdates(t *testing.T) {
	f := newHubFixture(t)
	dash := f.dialWS(t, "/ws/dashboard")
	waitForCondition(t, func() bool {
		return f.hub.conns.Stats()["dashboard"] == 1
	})

	// Registration triggers a robot_update broadcast.
	f.registerAgent(t, "robot-1")

	_ = dash.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := dash.ReadMessage()
	if err != nil {
		t.Fatalf("reading dashboard frame: %v", err)
	}

	var update struct {
		Type    string `json:"type"`
		RobotID string `json:"robot_id"`
	}
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decoding dashboard frame: %v", err)
	}
	if update.Type != protocol.TypeRobotUpdate {
		t.Errorf("type = %q, want %q", update.Type, protocol.TypeRobotUpdate)
	}
	if update.RobotID != "robot-1" {
		t.Errorf("robot_id = %q, want robot-1", update.RobotID)
	}
}

func TestReady_WithConnectedAgent(t *testing.T) {
	f := newHubFixture(t)
	f.registerAgent(t, "robot-1")
	f.dialWS(t, "/ws/agent/robot-1")

	waitForCondition(t, func() bool {
		return len(f.hub.conns.ConnectedAgents()) == 1
	})

	resp := f.request(t, http.MethodGet, "/health/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health/ready status = %d, want 200", resp.StatusCode)
	}
}
