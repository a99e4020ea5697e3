// ABOUTME: Wire protocol for hub/agent and hub/dashboard websocket channels.
// ABOUTME: Tagged-union envelope with a type discriminant and typed payloads.

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types sent by agents to the hub.
const (
	TypeHeartbeat       = "heartbeat"
	TypeRobotStatus     = "robot_status"
	TypeLogEntry        = "log_entry"
	TypeCommandResponse = "command_response"
)

// Message types broadcast by the hub to dashboard clients.
const (
	TypeRobotUpdate = "robot_update"
	TypeLogMessage  = "log_message"
	TypeSystemAlert = "system_alert"
)

// TypeRobotCommand is the hub-to-agent command envelope type.
const TypeRobotCommand = "robot_command"

// Envelope is the common frame for every agent-channel message. Data holds
// the type-specific payload and is decoded at the boundary; unknown types
// are rejected rather than forwarded as untyped maps.
type Envelope struct {
	Type      string          `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// CommandID correlates command_response envelopes back to the
	// dispatched command; empty for every other type.
	CommandID string `json:"command_id,omitempty"`
}

// Heartbeat is the periodic telemetry snapshot pushed by an agent. The
// field set mirrors what the hub maps onto the robot projection; extra
// fields in the raw payload are retained on the agent record as-is.
// Metrics are pointers so an absent key is distinguishable from a
// reported zero: only keys present in the payload are merged.
type Heartbeat struct {
	Status           string   `json:"status,omitempty"`
	CPUPercent       *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent    *float64 `json:"memory_percent,omitempty"`
	DiskPercent      *float64 `json:"disk_percent,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	BatteryLevel     *float64 `json:"battery_level,omitempty"`
	NetworkLatency   *float64 `json:"network_latency,omitempty"`
	UptimeSeconds    *uint64  `json:"uptime,omitempty"`
	WorkspaceRunning *bool    `json:"workspace_running,omitempty"`
	BaseConnected    *bool    `json:"create3_connected,omitempty"`
	BaseStatus       string   `json:"create3_status,omitempty"`
	CameraConnected  *bool    `json:"oak_connected,omitempty"`
}

// LogEntry is a log line forwarded by an agent.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// CommandResult is the payload of a command_response envelope.
type CommandResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// Command is the hub-to-agent command envelope.
type Command struct {
	CommandID  string         `json:"command_id"`
	RobotID    string         `json:"robot_id"`
	Type       string         `json:"type"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  string         `json:"timestamp"`
	Status     string         `json:"status"`
}

// RobotUpdate is the dashboard broadcast emitted on robot state changes.
type RobotUpdate struct {
	Type      string         `json:"type"`
	RobotID   string         `json:"robot_id"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// SystemAlert is the dashboard broadcast for system-wide alerts.
type SystemAlert struct {
	Type      string `json:"type"`
	AlertType string `json:"alert_type"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
}

// NewSystemAlert builds a system_alert broadcast with the current time.
func NewSystemAlert(alertType, message, severity string) SystemAlert {
	return SystemAlert{
		Type:      TypeSystemAlert,
		AlertType: alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Decode parses raw bytes into an Envelope, rejecting frames without a
// recognized type. Payload decoding is left to the caller since it depends
// on the envelope type.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	switch env.Type {
	case TypeHeartbeat, TypeRobotStatus, TypeLogEntry, TypeCommandResponse, TypeRobotCommand:
		return &env, nil
	case "":
		return nil, fmt.Errorf("envelope missing type")
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}

// DecodeHeartbeat parses a heartbeat payload.
func DecodeHeartbeat(data json.RawMessage) (*Heartbeat, error) {
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("decoding heartbeat: %w", err)
	}
	return &hb, nil
}

// DecodeLogEntry parses a log_entry payload.
func DecodeLogEntry(data json.RawMessage) (*LogEntry, error) {
	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding log entry: %w", err)
	}
	return &entry, nil
}

// DecodeCommandResult parses a command_response payload.
func DecodeCommandResult(data json.RawMessage) (*CommandResult, error) {
	var res CommandResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding command result: %w", err)
	}
	return &res, nil
}

// NewEnvelope frames a payload under the given type with the current time.
func NewEnvelope(msgType, agentID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}
	return &Envelope{
		Type:      msgType,
		AgentID:   agentID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}, nil
}
