// ABOUTME: Tests for the coordination facade: dispatch flow, heartbeat
// ABOUTME: ingestion, command correlation, and the disconnect cascade.

package fleet

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/artbot/fleet-hub/internal/command"
	"github.com/artbot/fleet-hub/internal/logbook"
	"github.com/artbot/fleet-hub/internal/protocol"
	"github.com/artbot/fleet-hub/internal/transport"
)

// stubSocket satisfies transport.Socket; reads block until Close.
type stubSocket struct {
	readCh chan struct{}
}

func newStubSocket() *stubSocket {
	return &stubSocket{readCh: make(chan struct{})}
}

func (s *stubSocket) ReadMessage() (int, []byte, error) {
	<-s.readCh
	return 0, nil, errors.New("socket closed")
}

func (s *stubSocket) WriteMessage(int, []byte) error    { return nil }
func (s *stubSocket) SetReadDeadline(time.Time) error   { return nil }
func (s *stubSocket) SetWriteDeadline(time.Time) error  { return nil }
func (s *stubSocket) SetPongHandler(func(string) error) {}

func (s *stubSocket) Close() error {
	select {
	case <-s.readCh:
	default:
		close(s.readCh)
	}
	return nil
}

type managerFixture struct {
	manager *Manager
	conns   *transport.Registry
	clock   *time.Time
}

func newManagerFixture() *managerFixture {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := new(time.Time)
	*clock = base

	logger := discardLogger()
	tracker := NewLivenessTracker(2 * time.Minute)
	tracker.now = func() time.Time { return *clock }

	conns := transport.NewRegistry(logger)
	agents := NewAgentRegistry(tracker, logger)
	robots := NewRobotRegistry(tracker, logger)
	commands := command.NewService(conns, transport.AgentKey, logger)
	logs := logbook.New(logger)

	return &managerFixture{
		manager: NewManager(agents, robots, commands, logs, conns, logger),
		conns:   conns,
		clock:   clock,
	}
}

// connectAgent registers the agent and attaches a live duplex channel.
func (f *managerFixture) connectAgent(t *testing.T, id string) *transport.Conn {
	t.Helper()
	f.manager.RegisterAgent(id, AgentInfo{Hostname: id + "-host"})
	conn := transport.NewConn(transport.AgentKey(id), newStubSocket(), discardLogger())
	f.conns.Add(conn)
	t.Cleanup(func() { f.conns.CloseAll() })
	return conn
}

func TestManager_RegisterAgentPairsRobot(t *testing.T) {
	f := newManagerFixture()

	agent, robot := f.manager.RegisterAgent("robot-1", AgentInfo{
		Hostname:  "museum-bot-1",
		IPAddress: "10.0.0.5",
	})

	if agent.ID != "robot-1" || robot.ID != "robot-1" {
		t.Errorf("ids = %q / %q, want robot-1 pair", agent.ID, robot.ID)
	}
	if robot.Hostname != "museum-bot-1" {
		t.Errorf("robot Hostname = %q", robot.Hostname)
	}
	if robot.Status != RobotStatusOnline {
		t.Errorf("robot Status = %q, want online", robot.Status)
	}
}

func TestManager_SendCommandFlipsIntent(t *testing.T) {
	f := newManagerFixture()
	f.connectAgent(t, "robot-1")

	rec, err := f.manager.SendCommand("robot-1", "start", nil, "admin")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if rec.Status != command.StatusSent {
		t.Errorf("record Status = %q, want sent", rec.Status)
	}

	robot, _ := f.manager.Robots.Get("robot-1")
	if robot.Status != RobotStatusActive {
		t.Errorf("Status = %q, want active before the agent confirms", robot.Status)
	}
	if robot.CurrentAction != ActionPersonFollowing {
		t.Errorf("CurrentAction = %q, want person_following", robot.CurrentAction)
	}

	// The dispatch leaves a trail in the robot's logbook.
	entries := f.manager.Logs.Robot("robot-1", "", 10)
	if len(entries) != 1 {
		t.Fatalf("logbook has %d entries, want 1", len(entries))
	}
}

func TestManager_SendCommandIntentTable(t *testing.T) {
	tests := []struct {
		action     string
		wantStatus string
		wantAction string
	}{
		{action: "start", wantStatus: RobotStatusActive, wantAction: ActionPersonFollowing},
		{action: "resume", wantStatus: RobotStatusActive, wantAction: ActionPersonFollowing},
		{action: "stop", wantStatus: RobotStatusIdle, wantAction: ActionStopped},
		{action: "pause", wantStatus: RobotStatusIdle, wantAction: ActionStopped},
		{action: "restart", wantStatus: RobotStatusRestarting, wantAction: ActionSystemRestart},
		{action: "reboot", wantStatus: RobotStatusRebooting, wantAction: ActionSystemReboot},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			f := newManagerFixture()
			f.connectAgent(t, "robot-1")

			if _, err := f.manager.SendCommand("robot-1", tt.action, nil, "admin"); err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}
			robot, _ := f.manager.Robots.Get("robot-1")
			if robot.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", robot.Status, tt.wantStatus)
			}
			if robot.CurrentAction != tt.wantAction {
				t.Errorf("CurrentAction = %q, want %q", robot.CurrentAction, tt.wantAction)
			}
		})
	}
}

func TestManager_SendCommandQueryActions(t *testing.T) {
	// status, logs, and update dispatch like any command but carry no
	// intent: the robot's state is untouched until the agent responds.
	for _, action := range []string{"status", "logs", "get_logs", "update"} {
		t.Run(action, func(t *testing.T) {
			f := newManagerFixture()
			f.connectAgent(t, "robot-1")

			rec, err := f.manager.SendCommand("robot-1", action, nil, "admin")
			if err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}
			if rec.Status != command.StatusSent {
				t.Errorf("record Status = %q, want sent", rec.Status)
			}

			robot, _ := f.manager.Robots.Get("robot-1")
			if robot.Status != RobotStatusOnline || robot.CurrentAction != ActionIdle {
				t.Errorf("state = %q/%q, want online/idle unchanged", robot.Status, robot.CurrentAction)
			}
		})
	}
}

func TestManager_SendCommandErrors(t *testing.T) {
	f := newManagerFixture()
	f.connectAgent(t, "robot-1")

	if _, err := f.manager.SendCommand("robot-1", "moonwalk", nil, "admin"); err == nil {
		t.Error("unsupported action should be rejected")
	}

	if _, err := f.manager.SendCommand("ghost", "start", nil, "admin"); !errors.Is(err, ErrRobotNotFound) {
		t.Errorf("error = %v, want ErrRobotNotFound", err)
	}

	f.manager.Robots.SetStatus("robot-1", RobotStatusOffline, "")
	if _, err := f.manager.SendCommand("robot-1", "start", nil, "admin"); !errors.Is(err, ErrRobotOffline) {
		t.Errorf("error = %v, want ErrRobotOffline", err)
	}
}

func TestManager_SendCommandDeliveryFailure(t *testing.T) {
	f := newManagerFixture()
	// Registered robot, but no live channel.
	f.manager.RegisterAgent("robot-1", AgentInfo{})

	rec, err := f.manager.SendCommand("robot-1", "start", nil, "admin")
	if !errors.Is(err, command.ErrDeliveryFailed) {
		t.Fatalf("error = %v, want ErrDeliveryFailed", err)
	}
	if rec.Status != command.StatusFailed {
		t.Errorf("record Status = %q, want failed", rec.Status)
	}

	// Delivery failure leaves the robot's domain status untouched.
	robot, _ := f.manager.Robots.Get("robot-1")
	if robot.Status != RobotStatusOnline {
		t.Errorf("Status = %q, want online unchanged", robot.Status)
	}
}

func TestManager_ApplyHeartbeatWorkspaceMapping(t *testing.T) {
	f := newManagerFixture()
	f.manager.RegisterAgent("robot-1", AgentInfo{})

	running := []byte(`{"cpu_percent":40,"memory_percent":55,"battery_level":72,"workspace_running":true}`)
	if !f.manager.ApplyHeartbeat("robot-1", running) {
		t.Fatal("ApplyHeartbeat() = false, want true")
	}
	robot, _ := f.manager.Robots.Get("robot-1")
	if robot.CurrentAction != ActionPersonFollowing {
		t.Errorf("CurrentAction = %q, want person_following", robot.CurrentAction)
	}
	// The workspace flag never rewrites status; that stays with command
	// intent and explicit status reports.
	if robot.Status != RobotStatusOnline {
		t.Errorf("Status = %q, want online unchanged", robot.Status)
	}
	if robot.BatteryLevel != 72 {
		t.Errorf("BatteryLevel = %v, want 72", robot.BatteryLevel)
	}
	if robot.CPUUsage != 40 {
		t.Errorf("CPUUsage = %v, want 40", robot.CPUUsage)
	}

	stopped := []byte(`{"cpu_percent":10,"memory_percent":50,"workspace_running":false}`)
	f.manager.ApplyHeartbeat("robot-1", stopped)
	robot, _ = f.manager.Robots.Get("robot-1")
	if robot.CurrentAction != ActionIdle {
		t.Errorf("CurrentAction = %q, want idle", robot.CurrentAction)
	}
	// Keys absent from the payload never clobber previous readings.
	if robot.BatteryLevel != 72 {
		t.Errorf("BatteryLevel = %v, want 72 preserved", robot.BatteryLevel)
	}
}

func TestManager_ApplyHeartbeatMergesByKeyPresence(t *testing.T) {
	f := newManagerFixture()
	f.manager.RegisterAgent("robot-1", AgentInfo{})

	full := []byte(`{"cpu_percent":40,"memory_percent":55,"battery_level":80,"temperature":42}`)
	f.manager.ApplyHeartbeat("robot-1", full)

	// A reported zero is a real reading: a dead battery must not keep
	// showing its last charge.
	f.manager.ApplyHeartbeat("robot-1", []byte(`{"battery_level":0}`))
	robot, _ := f.manager.Robots.Get("robot-1")
	if robot.BatteryLevel != 0 {
		t.Errorf("BatteryLevel = %v, want 0 merged", robot.BatteryLevel)
	}
	if robot.CPUUsage != 40 {
		t.Errorf("CPUUsage = %v, want 40 preserved for the absent key", robot.CPUUsage)
	}
	if robot.MemoryUsage != 55 {
		t.Errorf("MemoryUsage = %v, want 55 preserved for the absent key", robot.MemoryUsage)
	}
	if robot.Temperature != 42 {
		t.Errorf("Temperature = %v, want 42 preserved for the absent key", robot.Temperature)
	}
}

func TestManager_HeartbeatDoesNotClobberIntentStatus(t *testing.T) {
	f := newManagerFixture()
	f.connectAgent(t, "robot-1")

	if _, err := f.manager.SendCommand("robot-1", "restart", nil, "admin"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	// A routine status report arrives before the agent acts on the
	// restart; the intent status must survive it.
	f.manager.ApplyHeartbeat("robot-1", []byte(`{"cpu_percent":20,"workspace_running":false}`))

	robot, _ := f.manager.Robots.Get("robot-1")
	if robot.Status != RobotStatusRestarting {
		t.Errorf("Status = %q, want restarting preserved", robot.Status)
	}
	if robot.CurrentAction != ActionIdle {
		t.Errorf("CurrentAction = %q, want idle from the workspace flag", robot.CurrentAction)
	}
}

func TestManager_ApplyHeartbeatUnknownAgent(t *testing.T) {
	f := newManagerFixture()

	if f.manager.ApplyHeartbeat("ghost", []byte(`{"cpu_percent":10}`)) {
		t.Error("ApplyHeartbeat() = true for unknown agent, want false")
	}
}

func TestManager_HandleAgentMessageCommandResponse(t *testing.T) {
	f := newManagerFixture()
	f.connectAgent(t, "robot-1")

	rec, err := f.manager.SendCommand("robot-1", "start", nil, "admin")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	frame, _ := json.Marshal(map[string]any{
		"type":       protocol.TypeCommandResponse,
		"agent_id":   "robot-1",
		"command_id": rec.ID,
		"data":       map[string]any{"status": "success", "message": "started"},
	})
	f.manager.HandleAgentMessage("robot-1", frame)

	got, _ := f.manager.Commands.Get(rec.ID)
	if got.Status != command.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Result != "started" {
		t.Errorf("Result = %q, want started", got.Result)
	}
}

func TestManager_HandleAgentMessageFailedResponse(t *testing.T) {
	f := newManagerFixture()
	f.connectAgent(t, "robot-1")

	rec, _ := f.manager.SendCommand("robot-1", "start", nil, "admin")

	frame, _ := json.Marshal(map[string]any{
		"type":       protocol.TypeCommandResponse,
		"agent_id":   "robot-1",
		"command_id": rec.ID,
		"data":       map[string]any{"status": "failed", "message": "motor fault"},
	})
	f.manager.HandleAgentMessage("robot-1", frame)

	got, _ := f.manager.Commands.Get(rec.ID)
	if got.Status != command.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.Error != "motor fault" {
		t.Errorf("Error = %q, want motor fault", got.Error)
	}
}

func TestManager_HandleAgentMessageLogEntry(t *testing.T) {
	f := newManagerFixture()
	f.manager.RegisterAgent("robot-1", AgentInfo{})

	frame, _ := json.Marshal(map[string]any{
		"type":     protocol.TypeLogEntry,
		"agent_id": "robot-1",
		"data":     map[string]any{"level": "WARNING", "message": "camera flicker", "source": "vision"},
	})
	f.manager.HandleAgentMessage("robot-1", frame)

	entries := f.manager.Logs.Robot("robot-1", "", 10)
	if len(entries) != 1 {
		t.Fatalf("logbook has %d entries, want 1", len(entries))
	}
	if entries[0].Level != "warning" {
		t.Errorf("Level = %q, want normalized warning", entries[0].Level)
	}
	if entries[0].Message != "camera flicker" {
		t.Errorf("Message = %q", entries[0].Message)
	}
}

func TestManager_HandleAgentMessageMalformed(t *testing.T) {
	f := newManagerFixture()
	f.manager.RegisterAgent("robot-1", AgentInfo{})

	// Nothing should panic or change state.
	f.manager.HandleAgentMessage("robot-1", []byte("not json"))
	f.manager.HandleAgentMessage("robot-1", []byte(`{"type":"telepathy"}`))

	robot, _ := f.manager.Robots.Get("robot-1")
	if robot.Status != RobotStatusOnline {
		t.Errorf("Status = %q, want online unchanged", robot.Status)
	}
}

func TestManager_AgentDisconnectedCascades(t *testing.T) {
	f := newManagerFixture()
	f.manager.RegisterAgent("robot-1", AgentInfo{})
	f.manager.Robots.SetStatus("robot-1", RobotStatusActive, ActionPersonFollowing)

	f.manager.AgentDisconnected("robot-1")

	agent, _ := f.manager.Agents.Get("robot-1")
	if agent.Status != AgentStatusOffline {
		t.Errorf("agent Status = %q, want offline", agent.Status)
	}
	robot, _ := f.manager.Robots.Get("robot-1")
	if robot.Status != RobotStatusOffline {
		t.Errorf("robot Status = %q, want offline", robot.Status)
	}
}

func TestManager_RemoveAgentKeepsRobotRecord(t *testing.T) {
	f := newManagerFixture()
	f.manager.RegisterAgent("robot-1", AgentInfo{})

	if !f.manager.RemoveAgent("robot-1") {
		t.Fatal("RemoveAgent() = false, want true")
	}
	if _, ok := f.manager.Agents.Get("robot-1"); ok {
		t.Error("agent record should be gone")
	}
	robot, ok := f.manager.Robots.Get("robot-1")
	if !ok {
		t.Fatal("robot record should survive agent removal")
	}
	if robot.Status != RobotStatusOffline {
		t.Errorf("robot Status = %q, want offline", robot.Status)
	}

	if f.manager.RemoveAgent("robot-1") {
		t.Error("RemoveAgent() = true for already-removed agent")
	}
}

func TestManager_ExhibitionLifecycle(t *testing.T) {
	f := newManagerFixture()
	f.connectAgent(t, "robot-1")
	f.connectAgent(t, "robot-2")
	f.manager.RegisterAgent("robot-3", AgentInfo{})
	f.manager.Robots.SetStatus("robot-3", RobotStatusOffline, "")

	results := f.manager.StartExhibition("admin")
	if results["robot-1"] != "dispatched" || results["robot-2"] != "dispatched" {
		t.Errorf("StartExhibition() = %v", results)
	}
	if _, ok := results["robot-3"]; ok {
		t.Error("offline robot should not receive the fleet command")
	}

	status := f.manager.ExhibitionStatus()
	if status["running"] != true {
		t.Errorf("running = %v, want true", status["running"])
	}
	if status["active_robots"] != 2 {
		t.Errorf("active_robots = %v, want 2", status["active_robots"])
	}

	f.manager.StopExhibition("admin")
	status = f.manager.ExhibitionStatus()
	if status["running"] != false {
		t.Errorf("running = %v after stop, want false", status["running"])
	}
}
