// ABOUTME: Command lifecycle service: dispatch, correlation, and history.
// ABOUTME: Records advance pending -> sent -> terminal; terminal states absorb.

package command

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artbot/fleet-hub/internal/protocol"
)

// ErrDeliveryFailed indicates no live channel accepted the command.
var ErrDeliveryFailed = errors.New("command delivery failed")

// Command statuses.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// maxHistoryPerRobot bounds per-robot command retention. Oldest records
// are evicted first.
const maxHistoryPerRobot = 1000

// Record is the tracked state of one dispatched command.
type Record struct {
	ID          string         `json:"command_id"`
	RobotID     string         `json:"robot_id"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Status      string         `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	IssuedBy    string         `json:"issued_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Sender delivers a command frame to the agent's duplex channel. It
// reports whether any live connection accepted the frame.
type Sender interface {
	SendTo(key string, v any) bool
}

// AgentKeyFunc maps a robot id to its transport channel key.
type AgentKeyFunc func(robotID string) string

// Service owns command dispatch and resolution. It is safe for concurrent
// use by the HTTP layer and the websocket readers.
type Service struct {
	mu       sync.RWMutex
	history  map[string][]*Record // robot id -> oldest-first records
	pending  map[string]*Record   // command id -> non-terminal record
	sender   Sender
	agentKey AgentKeyFunc
	logger   *slog.Logger
}

// NewService creates a command service delivering over the given sender.
func NewService(sender Sender, agentKey AgentKeyFunc, logger *slog.Logger) *Service {
	return &Service{
		history:  make(map[string][]*Record),
		pending:  make(map[string]*Record),
		sender:   sender,
		agentKey: agentKey,
		logger:   logger.With("component", "commands"),
	}
}

// Dispatch creates a command record and attempts delivery. On delivery
// failure the record is marked failed immediately; there is no retry.
func (s *Service) Dispatch(robotID, action string, parameters map[string]any, issuedBy string) (*Record, error) {
	rec := &Record{
		ID:         uuid.New().String(),
		RobotID:    robotID,
		Action:     action,
		Parameters: parameters,
		Status:     StatusPending,
		IssuedBy:   issuedBy,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.append(rec)
	s.pending[rec.ID] = rec
	s.mu.Unlock()

	frame := protocol.Command{
		CommandID:  rec.ID,
		RobotID:    robotID,
		Type:       protocol.TypeRobotCommand,
		Action:     action,
		Parameters: parameters,
		Timestamp:  rec.CreatedAt.Format(time.RFC3339),
		Status:     StatusPending,
	}

	if !s.sender.SendTo(s.agentKey(robotID), frame) {
		s.mu.Lock()
		s.resolveLocked(rec, StatusFailed, "", "no live agent connection")
		s.mu.Unlock()
		s.logger.Warn("command delivery failed",
			"command_id", rec.ID, "robot_id", robotID, "action", action)
		return snapshot(rec), fmt.Errorf("%w: robot %s", ErrDeliveryFailed, robotID)
	}

	s.mu.Lock()
	// The agent may resolve the command before this lock is reacquired;
	// a terminal status is never regressed back to sent.
	if rec.Status == StatusPending {
		rec.Status = StatusSent
	}
	out := snapshot(rec)
	s.mu.Unlock()

	s.logger.Info("command dispatched",
		"command_id", rec.ID, "robot_id", robotID, "action", action, "issued_by", issuedBy)
	return out, nil
}

// Resolve applies a command response. Unknown ids are logged and ignored;
// a response for an already-terminal command is a no-op.
func (s *Service) Resolve(commandID, status, result, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pending[commandID]
	if !ok {
		s.logger.Warn("response for unknown command", "command_id", commandID)
		return false
	}

	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		s.logger.Warn("response with invalid status",
			"command_id", commandID, "status", status)
		return false
	}

	s.resolveLocked(rec, status, result, errMsg)
	s.logger.Info("command resolved",
		"command_id", commandID, "robot_id", rec.RobotID, "status", status)
	return true
}

// Cancel moves a pending or sent command to cancelled.
func (s *Service) Cancel(commandID string) bool {
	return s.Resolve(commandID, StatusCancelled, "", "")
}

// Get returns a snapshot of a single command record, searching both
// pending and historical entries.
func (s *Service) Get(commandID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.pending[commandID]; ok {
		return snapshot(rec), true
	}
	for _, recs := range s.history {
		for _, rec := range recs {
			if rec.ID == commandID {
				return snapshot(rec), true
			}
		}
	}
	return nil, false
}

// History returns up to limit records for a robot, newest first. A
// non-positive limit returns everything retained.
func (s *Service) History(robotID string, limit int) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.history[robotID]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]*Record, 0, limit)
	for i := len(recs) - 1; i >= len(recs)-limit; i-- {
		out = append(out, snapshot(recs[i]))
	}
	return out
}

// Pending returns the non-terminal commands, optionally filtered to one
// robot (empty robotID means all).
func (s *Service) Pending(robotID string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.pending))
	for _, rec := range s.pending {
		if robotID != "" && rec.RobotID != robotID {
			continue
		}
		out = append(out, snapshot(rec))
	}
	return out
}

// Stats summarizes command outcomes across all robots.
func (s *Service) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, completed, failed int
	for _, recs := range s.history {
		for _, rec := range recs {
			total++
			switch rec.Status {
			case StatusCompleted:
				completed++
			case StatusFailed:
				failed++
			}
		}
	}

	successRate := 0.0
	if done := completed + failed; done > 0 {
		successRate = float64(completed) / float64(done) * 100
	}
	return map[string]any{
		"total_commands":     total,
		"completed_commands": completed,
		"failed_commands":    failed,
		"pending_commands":   len(s.pending),
		"success_rate":       successRate,
	}
}

// append adds a record to the robot's history, evicting the oldest entry
// past the retention bound. Caller holds the write lock.
func (s *Service) append(rec *Record) {
	recs := append(s.history[rec.RobotID], rec)
	if len(recs) > maxHistoryPerRobot {
		evicted := recs[0]
		delete(s.pending, evicted.ID)
		recs = recs[1:]
	}
	s.history[rec.RobotID] = recs
}

// resolveLocked moves a record to a terminal state and drops it from the
// pending index. Caller holds the write lock.
func (s *Service) resolveLocked(rec *Record, status, result, errMsg string) {
	rec.Status = status
	rec.Result = result
	rec.Error = errMsg
	now := time.Now().UTC()
	rec.CompletedAt = &now
	delete(s.pending, rec.ID)
}

func snapshot(rec *Record) *Record {
	cp := *rec
	return &cp
}
