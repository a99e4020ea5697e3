// ABOUTME: Tracks live duplex connections grouped by logical channel key.
// ABOUTME: Supports addressed send, pruning broadcast, and key enumeration.

package transport

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// AgentKeyPrefix groups per-agent channels; the dashboard fan-out group
// uses KeyDashboard.
const (
	AgentKeyPrefix = "agent:"
	KeyDashboard   = "dashboard"
)

// AgentKey returns the channel key for an agent's duplex connection.
func AgentKey(agentID string) string {
	return AgentKeyPrefix + agentID
}

// Registry owns every live connection, grouped by channel key. Individual
// send failures are non-fatal: the dead handle is pruned and the caller
// moves on.
type Registry struct {
	mu     sync.RWMutex
	groups map[string][]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		groups: make(map[string][]*Conn),
		logger: logger.With("component", "transport"),
	}
}

// Add registers a connection under its channel key.
func (r *Registry) Add(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups[conn.Key] = append(r.groups[conn.Key], conn)
	r.logger.Info("connection registered", "channel", conn.Key, "conn_id", conn.ID)
}

// Remove drops a connection from its group and closes it. Removing an
// already-removed connection is a no-op.
func (r *Registry) Remove(conn *Conn) {
	r.mu.Lock()
	group := r.groups[conn.Key]
	for i, c := range group {
		if c.ID == conn.ID {
			r.groups[conn.Key] = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(r.groups[conn.Key]) == 0 {
		delete(r.groups, conn.Key)
	}
	r.mu.Unlock()

	conn.Close()
	r.logger.Info("connection removed", "channel", conn.Key, "conn_id", conn.ID)
}

// SendTo delivers a message to the first live connection under the key.
// Dead or saturated handles are pruned along the way. Returns false when
// nothing accepted the message.
func (r *Registry) SendTo(key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("marshaling message", "channel", key, "error", err)
		return false
	}

	for _, conn := range r.snapshot(key) {
		if err := conn.Enqueue(data); err != nil {
			r.logger.Warn("send failed, pruning connection",
				"channel", key, "conn_id", conn.ID, "error", err)
			r.Remove(conn)
			continue
		}
		return true
	}

	r.logger.Warn("no live connection for channel", "channel", key)
	return false
}

// Broadcast delivers a message to every connection in the group,
// best-effort. Failed handles are pruned without aborting delivery to the
// rest.
func (r *Registry) Broadcast(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("marshaling broadcast", "channel", key, "error", err)
		return
	}

	for _, conn := range r.snapshot(key) {
		if err := conn.Enqueue(data); err != nil {
			r.logger.Warn("broadcast send failed, pruning connection",
				"channel", key, "conn_id", conn.ID, "error", err)
			r.Remove(conn)
		}
	}
}

// snapshot copies a group under read lock so sends happen lock-free.
func (r *Registry) snapshot(key string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.groups[key]
	out := make([]*Conn, len(group))
	copy(out, group)
	return out
}

// Keys returns every channel key with at least one live handle, optionally
// filtered by prefix.
func (r *Registry) Keys(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.groups))
	for key, group := range r.groups {
		if len(group) == 0 {
			continue
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// ConnectedAgents lists the agent ids with a live duplex channel.
func (r *Registry) ConnectedAgents() []string {
	keys := r.Keys(AgentKeyPrefix)
	agents := make([]string, 0, len(keys))
	for _, key := range keys {
		agents = append(agents, strings.TrimPrefix(key, AgentKeyPrefix))
	}
	return agents
}

// Stats reports the live connection count per channel key.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]int, len(r.groups))
	for key, group := range r.groups {
		stats[key] = len(group)
	}
	return stats
}

// CloseAll tears down every connection, used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0)
	for _, group := range r.groups {
		conns = append(conns, group...)
	}
	r.groups = make(map[string][]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
