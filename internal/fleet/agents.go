// ABOUTME: Registry of transport-level agent identities and raw telemetry.
// ABOUTME: Registration is upsert; liveness downgrades status at read time.

package fleet

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAgentNotFound indicates the specified agent was never registered.
var ErrAgentNotFound = errors.New("agent not found")

// Agent statuses. Agent status only ever reflects liveness; domain state
// lives on the Robot projection.
const (
	AgentStatusOnline  = "online"
	AgentStatusOffline = "offline"
)

// Agent is the hub's record of a registered remote agent.
type Agent struct {
	ID           string         `json:"agent_id"`
	Hostname     string         `json:"hostname"`
	IPAddress    string         `json:"ip_address"`
	Status       string         `json:"status"`
	LastSeen     time.Time      `json:"last_seen"`
	RegisteredAt time.Time      `json:"registered_at"`
	SystemInfo   map[string]any `json:"system_info"`
	Capabilities []string       `json:"capabilities"`
	Telemetry    map[string]any `json:"telemetry,omitempty"`
}

// AgentInfo is the registration payload supplied by the agent.
type AgentInfo struct {
	Hostname     string
	IPAddress    string
	SystemInfo   map[string]any
	Capabilities []string
}

// AgentRegistry tracks registered agents. Devices may rejoin with the same
// id after a crash, so Register is upsert: re-registration refreshes
// fields instead of erroring.
type AgentRegistry struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	liveness *LivenessTracker
	logger   *slog.Logger
}

// NewAgentRegistry creates an empty registry backed by the given liveness
// tracker.
func NewAgentRegistry(liveness *LivenessTracker, logger *slog.Logger) *AgentRegistry {
	return &AgentRegistry{
		agents:   make(map[string]*Agent),
		liveness: liveness,
		logger:   logger.With("component", "agent-registry"),
	}
}

// Register upserts an agent record and marks it online.
func (r *AgentRegistry) Register(id string, info AgentInfo) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	agent, exists := r.agents[id]
	if !exists {
		agent = &Agent{ID: id, RegisteredAt: now}
		r.agents[id] = agent
	}
	agent.Hostname = info.Hostname
	agent.IPAddress = info.IPAddress
	agent.SystemInfo = info.SystemInfo
	agent.Capabilities = info.Capabilities
	agent.Status = AgentStatusOnline
	agent.LastSeen = now
	r.liveness.Touch(id)

	r.logger.Info("agent registered",
		"agent_id", id,
		"hostname", info.Hostname,
		"ip_address", info.IPAddress,
		"rejoined", exists,
		"total_agents", len(r.agents),
	)
	return snapshotAgent(agent)
}

// Heartbeat records activity and stores the raw telemetry blob. Returns
// false for unknown agents.
func (r *AgentRegistry) Heartbeat(id string, telemetry map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		r.logger.Warn("heartbeat from unknown agent", "agent_id", id)
		return false
	}

	agent.LastSeen = time.Now().UTC()
	agent.Status = AgentStatusOnline
	if telemetry != nil {
		agent.Telemetry = telemetry
	}
	r.liveness.Touch(id)
	return true
}

// Get returns a snapshot of the agent with liveness applied.
func (r *AgentRegistry) Get(id string) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	r.applyLiveness(agent)
	return snapshotAgent(agent), true
}

// All returns snapshots of every agent, each liveness-checked.
func (r *AgentRegistry) All() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		r.applyLiveness(agent)
		out = append(out, snapshotAgent(agent))
	}
	return out
}

// Online returns only the agents seen within the liveness window.
func (r *AgentRegistry) Online() []*Agent {
	all := r.All()
	out := make([]*Agent, 0, len(all))
	for _, agent := range all {
		if agent.Status == AgentStatusOnline {
			out = append(out, agent)
		}
	}
	return out
}

// IsLive reports whether the agent has been seen within the window.
func (r *AgentRegistry) IsLive(id string) bool {
	return r.liveness.IsLive(id)
}

// SetOffline explicitly marks an agent offline, used when its transport
// session closes.
func (r *AgentRegistry) SetOffline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return false
	}
	agent.Status = AgentStatusOffline
	r.logger.Info("agent marked offline", "agent_id", id)
	return true
}

// Remove deletes the agent record. The paired robot is handled by the
// caller (status cascade, never deletion).
func (r *AgentRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return false
	}
	delete(r.agents, id)
	r.liveness.Forget(id)
	r.logger.Info("agent removed", "agent_id", id, "ip_address", agent.IPAddress)
	return true
}

// Stats summarizes registry contents.
func (r *AgentRegistry) Stats() map[string]any {
	all := r.All()
	online := 0
	for _, agent := range all {
		if agent.Status == AgentStatusOnline {
			online++
		}
	}
	return map[string]any{
		"total_agents":   len(all),
		"online_agents":  online,
		"offline_agents": len(all) - online,
		"last_updated":   time.Now().UTC().Format(time.RFC3339),
	}
}

// applyLiveness downgrades a stale agent to offline. It never flips an
// offline agent back online; only Register and Heartbeat do that.
func (r *AgentRegistry) applyLiveness(agent *Agent) {
	if agent.Status == AgentStatusOnline && !r.liveness.IsLive(agent.ID) {
		agent.Status = AgentStatusOffline
	}
}

func snapshotAgent(a *Agent) *Agent {
	cp := *a
	return &cp
}
