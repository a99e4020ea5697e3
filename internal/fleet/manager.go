// ABOUTME: Coordination facade between agent transport and robot state.
// ABOUTME: Routes inbound agent messages and dispatches operator commands.

package fleet

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/artbot/fleet-hub/internal/command"
	"github.com/artbot/fleet-hub/internal/logbook"
	"github.com/artbot/fleet-hub/internal/protocol"
	"github.com/artbot/fleet-hub/internal/transport"
)

// Valid command actions an operator may dispatch.
var validActions = map[string]bool{
	"start":    true,
	"stop":     true,
	"pause":    true,
	"resume":   true,
	"restart":  true,
	"reboot":   true,
	"status":   true,
	"logs":     true,
	"get_logs": true,
	"update":   true,
}

// Manager coordinates the agent and robot registries, the command
// service, the logbook, and the dashboard fan-out. All inbound agent
// traffic and all operator actions flow through it.
type Manager struct {
	Agents   *AgentRegistry
	Robots   *RobotRegistry
	Commands *command.Service
	Logs     *logbook.Logbook

	conns  *transport.Registry
	logger *slog.Logger
}

// NewManager wires the coordination facade over the given registries.
func NewManager(agents *AgentRegistry, robots *RobotRegistry, commands *command.Service,
	logs *logbook.Logbook, conns *transport.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		Agents:   agents,
		Robots:   robots,
		Commands: commands,
		Logs:     logs,
		conns:    conns,
		logger:   logger.With("component", "fleet"),
	}
}

// RegisterAgent upserts the agent record and its paired robot projection.
func (m *Manager) RegisterAgent(id string, info AgentInfo) (*Agent, *Robot) {
	agent := m.Agents.Register(id, info)
	robot := m.Robots.Register(id, RobotSeed{
		Hostname:     info.Hostname,
		IPAddress:    info.IPAddress,
		Capabilities: info.Capabilities,
	})
	m.broadcastRobot(robot)
	return agent, robot
}

// RemoveAgent deletes the agent record and cascades its robot to offline.
// The robot record itself survives for operator visibility.
func (m *Manager) RemoveAgent(id string) bool {
	if !m.Agents.Remove(id) {
		return false
	}
	m.Robots.SetStatus(id, RobotStatusOffline, "")
	if robot, ok := m.Robots.Get(id); ok {
		m.broadcastRobot(robot)
	}
	return true
}

// AgentDisconnected marks an agent and its robot offline when the duplex
// channel drops. Records are kept; the agent may reconnect.
func (m *Manager) AgentDisconnected(id string) {
	m.Agents.SetOffline(id)
	m.Robots.SetStatus(id, RobotStatusOffline, "")
	if robot, ok := m.Robots.Get(id); ok {
		m.broadcastRobot(robot)
	}
	m.logger.Info("agent disconnected", "agent_id", id)
}

// HandleAgentMessage routes one inbound frame from an agent channel.
// Malformed frames are logged and dropped without closing the channel.
func (m *Manager) HandleAgentMessage(agentID string, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		m.logger.Warn("dropping malformed agent frame", "agent_id", agentID, "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeHeartbeat, protocol.TypeRobotStatus:
		m.handleHeartbeat(agentID, env)
	case protocol.TypeLogEntry:
		m.handleLogEntry(agentID, env)
	case protocol.TypeCommandResponse:
		m.handleCommandResponse(agentID, env)
	default:
		m.logger.Warn("unhandled agent frame type", "agent_id", agentID, "type", env.Type)
	}
}

// handleHeartbeat maps a telemetry snapshot onto the robot projection and
// fans the fresh state out to dashboards.
func (m *Manager) handleHeartbeat(agentID string, env *protocol.Envelope) {
	m.ApplyHeartbeat(agentID, env.Data)
}

// ApplyHeartbeat ingests a telemetry snapshot arriving over either the
// duplex channel or the REST heartbeat endpoint. Returns false when the
// agent is unknown or the payload is malformed.
func (m *Manager) ApplyHeartbeat(agentID string, data json.RawMessage) bool {
	hb, err := protocol.DecodeHeartbeat(data)
	if err != nil {
		m.logger.Warn("dropping malformed heartbeat", "agent_id", agentID, "error", err)
		return false
	}

	var telemetry map[string]any
	_ = json.Unmarshal(data, &telemetry)
	if !m.Agents.Heartbeat(agentID, telemetry) {
		return false
	}

	// Keys absent from the payload stay nil and leave the stored robot
	// state untouched; a reported zero merges like any other reading.
	update := RobotUpdate{
		CPUUsage:         hb.CPUPercent,
		MemoryUsage:      hb.MemoryPercent,
		Temperature:      hb.Temperature,
		BatteryLevel:     hb.BatteryLevel,
		NetworkLatency:   hb.NetworkLatency,
		UptimeSeconds:    hb.UptimeSeconds,
		BaseConnected:    hb.BaseConnected,
		CameraConnected:  hb.CameraConnected,
		WorkspaceRunning: hb.WorkspaceRunning,
	}
	if hb.BaseStatus != "" {
		update.BaseStatus = &hb.BaseStatus
	}
	// workspace_running drives only the current action. Status changes
	// come from command intent or an explicit status field, so a routine
	// heartbeat never clobbers restarting/rebooting.
	if hb.WorkspaceRunning != nil {
		action := ActionIdle
		if *hb.WorkspaceRunning {
			action = ActionPersonFollowing
		}
		update.CurrentAction = &action
	}
	if hb.Status != "" {
		update.Status = &hb.Status
	}

	if !m.Robots.UpdateStatus(agentID, update) {
		return false
	}
	if robot, ok := m.Robots.Get(agentID); ok {
		m.broadcastRobot(robot)
	}
	return true
}

// handleLogEntry retains the forwarded log line and fans it out.
func (m *Manager) handleLogEntry(agentID string, env *protocol.Envelope) {
	entry, err := protocol.DecodeLogEntry(env.Data)
	if err != nil {
		m.logger.Warn("dropping malformed log entry", "agent_id", agentID, "error", err)
		return
	}
	retained := m.Logs.Append(agentID, entry.Level, entry.Message, entry.Source)

	go m.conns.Broadcast(transport.KeyDashboard, map[string]any{
		"type":      protocol.TypeLogMessage,
		"robot_id":  agentID,
		"level":     retained.Level,
		"message":   retained.Message,
		"source":    retained.Source,
		"timestamp": retained.Timestamp.Format(time.RFC3339),
	})
}

// handleCommandResponse resolves the correlated command and relays the
// outcome to dashboards.
func (m *Manager) handleCommandResponse(agentID string, env *protocol.Envelope) {
	if env.CommandID == "" {
		m.logger.Warn("command response without id", "agent_id", agentID)
		return
	}
	res, err := protocol.DecodeCommandResult(env.Data)
	if err != nil {
		m.logger.Warn("dropping malformed command response",
			"agent_id", agentID, "command_id", env.CommandID, "error", err)
		return
	}

	status := command.StatusFailed
	if res.Status == "success" || res.Status == command.StatusCompleted {
		status = command.StatusCompleted
	}
	errMsg := ""
	if status == command.StatusFailed {
		errMsg = res.Message
	}
	if !m.Commands.Resolve(env.CommandID, status, res.Message, errMsg) {
		return
	}

	go m.conns.Broadcast(transport.KeyDashboard, map[string]any{
		"type":       protocol.TypeCommandResponse,
		"robot_id":   agentID,
		"command_id": env.CommandID,
		"status":     status,
		"message":    res.Message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// SendCommand validates the target, dispatches over the duplex channel,
// and applies the intent-driven status flip so dashboards reflect the
// requested state before the agent confirms.
func (m *Manager) SendCommand(robotID, action string, parameters map[string]any, issuedBy string) (*command.Record, error) {
	if !validActions[action] {
		return nil, fmt.Errorf("unsupported action %q", action)
	}
	robot, ok := m.Robots.Get(robotID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRobotNotFound, robotID)
	}
	if robot.Status == RobotStatusOffline {
		return nil, fmt.Errorf("%w: %s", ErrRobotOffline, robotID)
	}

	rec, err := m.Commands.Dispatch(robotID, action, parameters, issuedBy)
	if err != nil {
		return rec, err
	}

	if status, act, ok := intentFor(action); ok {
		m.Robots.SetStatus(robotID, status, act)
		if fresh, ok := m.Robots.Get(robotID); ok {
			m.broadcastRobot(fresh)
		}
	}
	m.Logs.Append(robotID, "info",
		fmt.Sprintf("command %s dispatched (%s)", action, rec.ID), "hub")
	return rec, nil
}

// intentFor maps a command action to the state the operator intends the
// robot to reach.
func intentFor(action string) (status, act string, ok bool) {
	switch action {
	case "start", "resume":
		return RobotStatusActive, ActionPersonFollowing, true
	case "stop", "pause":
		return RobotStatusIdle, ActionStopped, true
	case "restart":
		return RobotStatusRestarting, ActionSystemRestart, true
	case "reboot":
		return RobotStatusRebooting, ActionSystemReboot, true
	default:
		return "", "", false
	}
}

// StartExhibition dispatches start to every online robot and returns the
// per-robot outcome.
func (m *Manager) StartExhibition(issuedBy string) map[string]string {
	return m.fleetCommand("start", issuedBy)
}

// StopExhibition dispatches stop to every online robot.
func (m *Manager) StopExhibition(issuedBy string) map[string]string {
	return m.fleetCommand("stop", issuedBy)
}

func (m *Manager) fleetCommand(action, issuedBy string) map[string]string {
	results := make(map[string]string)
	for _, robot := range m.Robots.Online() {
		if _, err := m.SendCommand(robot.ID, action, nil, issuedBy); err != nil {
			results[robot.ID] = err.Error()
			continue
		}
		results[robot.ID] = "dispatched"
	}
	m.logger.Info("fleet command issued", "action", action, "robots", len(results))
	return results
}

// ExhibitionStatus summarizes fleet participation.
func (m *Manager) ExhibitionStatus() map[string]any {
	all := m.Robots.All()
	active := 0
	online := 0
	for _, robot := range all {
		if robot.Status == RobotStatusActive {
			active++
		}
		if robot.Status != RobotStatusOffline {
			online++
		}
	}
	return map[string]any{
		"running":       active > 0,
		"total_robots":  len(all),
		"online_robots": online,
		"active_robots": active,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
}

// BroadcastAlert fans a system alert out to dashboards and retains it in
// the system log.
func (m *Manager) BroadcastAlert(alertType, message, severity string) {
	m.Logs.Append("", severity, message, "hub")
	go m.conns.Broadcast(transport.KeyDashboard, protocol.NewSystemAlert(alertType, message, severity))
}

// broadcastRobot fans a robot snapshot out to dashboards without blocking
// the caller.
func (m *Manager) broadcastRobot(robot *Robot) {
	go m.conns.Broadcast(transport.KeyDashboard, protocol.RobotUpdate{
		Type:      protocol.TypeRobotUpdate,
		RobotID:   robot.ID,
		Data:      robotPayload(robot),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func robotPayload(robot *Robot) map[string]any {
	return map[string]any{
		"id":             robot.ID,
		"name":           robot.Name,
		"location":       robot.Location,
		"status":         robot.Status,
		"current_action": robot.CurrentAction,
		"battery_level":  robot.BatteryLevel,
		"cpu_usage":      robot.CPUUsage,
		"memory_usage":   robot.MemoryUsage,
		"temperature":    robot.Temperature,
		"last_update":    robot.LastUpdate.Format(time.RFC3339),
	}
}
