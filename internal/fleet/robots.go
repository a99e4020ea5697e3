// ABOUTME: Registry of robot domain state projected from agent telemetry.
// ABOUTME: Robots are created at agent registration and never auto-deleted.

package fleet

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRobotNotFound indicates the specified robot was never registered.
var ErrRobotNotFound = errors.New("robot not found")

// ErrRobotOffline indicates the robot exists but is not currently
// reachable; callers surface this distinctly from not-found.
var ErrRobotOffline = errors.New("robot offline")

// Robot statuses.
const (
	RobotStatusOnline      = "online"
	RobotStatusOffline     = "offline"
	RobotStatusActive      = "active"
	RobotStatusIdle        = "idle"
	RobotStatusError       = "error"
	RobotStatusMaintenance = "maintenance"
	RobotStatusRestarting  = "restarting"
	RobotStatusRebooting   = "rebooting"
)

// Robot actions.
const (
	ActionIdle            = "idle"
	ActionPersonFollowing = "person_following"
	ActionNavigating      = "navigating"
	ActionCharging        = "charging"
	ActionSystemRestart   = "system_restart"
	ActionSystemReboot    = "system_reboot"
	ActionStopped         = "stopped"
)

// Robot is the operator-visible projection of an agent.
type Robot struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agent_id"`
	Name             string    `json:"name"`
	Hostname         string    `json:"hostname"`
	IPAddress        string    `json:"ip_address"`
	Location         string    `json:"location"`
	Status           string    `json:"status"`
	CurrentAction    string    `json:"current_action"`
	Capabilities     []string  `json:"capabilities"`
	BatteryLevel     float64   `json:"battery_level"`
	CPUUsage         float64   `json:"cpu_usage"`
	MemoryUsage      float64   `json:"memory_usage"`
	Temperature      float64   `json:"temperature"`
	NetworkLatency   float64   `json:"network_latency"`
	BaseConnected    bool      `json:"create3_connected"`
	BaseStatus       string    `json:"create3_status"`
	CameraConnected  bool      `json:"oak_connected"`
	WorkspaceRunning bool      `json:"workspace_running"`
	UptimeSeconds    uint64    `json:"uptime"`
	LastUpdate       time.Time `json:"last_update"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// RobotSeed carries the fields known at registration time.
type RobotSeed struct {
	Name         string
	Hostname     string
	IPAddress    string
	Location     string
	Capabilities []string
}

// RobotUpdate is a partial merge applied by heartbeats and status reports.
// Nil fields are left untouched.
type RobotUpdate struct {
	Status           *string
	CurrentAction    *string
	BatteryLevel     *float64
	CPUUsage         *float64
	MemoryUsage      *float64
	Temperature      *float64
	NetworkLatency   *float64
	BaseConnected    *bool
	BaseStatus       *string
	CameraConnected  *bool
	WorkspaceRunning *bool
	UptimeSeconds    *uint64
}

// RobotRegistry tracks the robot projections. Point lookups are O(1);
// full listing is O(n), fine for fleets bounded by tens of robots.
type RobotRegistry struct {
	mu       sync.RWMutex
	robots   map[string]*Robot
	liveness *LivenessTracker
	logger   *slog.Logger
}

// NewRobotRegistry creates an empty registry. The liveness tracker is the
// agent-side one: a robot is forced offline when its agent goes silent.
func NewRobotRegistry(liveness *LivenessTracker, logger *slog.Logger) *RobotRegistry {
	return &RobotRegistry{
		robots:   make(map[string]*Robot),
		liveness: liveness,
		logger:   logger.With("component", "robot-registry"),
	}
}

// Register (re)creates a robot with default health values. Defaults are
// refreshed by the first heartbeat.
func (r *RobotRegistry) Register(id string, seed RobotSeed) *Robot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	name := seed.Name
	if name == "" {
		name = "Robot " + id
	}
	location := seed.Location
	if location == "" {
		location = "Museum"
	}

	robot := &Robot{
		ID:            id,
		AgentID:       id,
		Name:          name,
		Hostname:      seed.Hostname,
		IPAddress:     seed.IPAddress,
		Location:      location,
		Status:        RobotStatusOnline,
		CurrentAction: ActionIdle,
		Capabilities:  seed.Capabilities,
		BatteryLevel:  100,
		Temperature:   25,
		BaseStatus:    "unknown",
		LastUpdate:    now,
		RegisteredAt:  now,
	}
	if existing, ok := r.robots[id]; ok {
		// Re-registration keeps the original creation time.
		robot.RegisteredAt = existing.RegisteredAt
	}
	r.robots[id] = robot

	r.logger.Info("robot registered", "robot_id", id, "name", name)
	return snapshotRobot(robot)
}

// UpdateStatus merges the non-nil fields and stamps last-update. Returns
// false for unknown robots.
func (r *RobotRegistry) UpdateStatus(id string, update RobotUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	robot, ok := r.robots[id]
	if !ok {
		r.logger.Warn("update for unknown robot", "robot_id", id)
		return false
	}

	if update.Status != nil {
		robot.Status = *update.Status
	}
	if update.CurrentAction != nil {
		robot.CurrentAction = *update.CurrentAction
	}
	if update.BatteryLevel != nil {
		robot.BatteryLevel = *update.BatteryLevel
	}
	if update.CPUUsage != nil {
		robot.CPUUsage = *update.CPUUsage
	}
	if update.MemoryUsage != nil {
		robot.MemoryUsage = *update.MemoryUsage
	}
	if update.Temperature != nil {
		robot.Temperature = *update.Temperature
	}
	if update.NetworkLatency != nil {
		robot.NetworkLatency = *update.NetworkLatency
	}
	if update.BaseConnected != nil {
		robot.BaseConnected = *update.BaseConnected
	}
	if update.BaseStatus != nil {
		robot.BaseStatus = *update.BaseStatus
	}
	if update.CameraConnected != nil {
		robot.CameraConnected = *update.CameraConnected
	}
	if update.WorkspaceRunning != nil {
		robot.WorkspaceRunning = *update.WorkspaceRunning
	}
	if update.UptimeSeconds != nil {
		robot.UptimeSeconds = *update.UptimeSeconds
	}
	robot.LastUpdate = time.Now().UTC()
	return true
}

// SetStatus sets the robot's status and, when non-empty, its current
// action.
func (r *RobotRegistry) SetStatus(id, status, action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	robot, ok := r.robots[id]
	if !ok {
		return false
	}
	robot.Status = status
	if action != "" {
		robot.CurrentAction = action
	}
	robot.LastUpdate = time.Now().UTC()

	r.logger.Info("robot status set", "robot_id", id, "status", status, "action", action)
	return true
}

// Get returns a snapshot with the liveness override applied: a robot whose
// agent has gone silent reads as offline regardless of its last reported
// domain status.
func (r *RobotRegistry) Get(id string) (*Robot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	robot, ok := r.robots[id]
	if !ok {
		return nil, false
	}
	r.applyLiveness(robot)
	return snapshotRobot(robot), true
}

// All returns snapshots of every robot, liveness-checked.
func (r *RobotRegistry) All() []*Robot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Robot, 0, len(r.robots))
	for _, robot := range r.robots {
		r.applyLiveness(robot)
		out = append(out, snapshotRobot(robot))
	}
	return out
}

// Online returns robots whose status is anything but offline.
func (r *RobotRegistry) Online() []*Robot {
	all := r.All()
	out := make([]*Robot, 0, len(all))
	for _, robot := range all {
		if robot.Status != RobotStatusOffline {
			out = append(out, robot)
		}
	}
	return out
}

// Active returns robots currently executing their primary task.
func (r *RobotRegistry) Active() []*Robot {
	all := r.All()
	out := make([]*Robot, 0, len(all))
	for _, robot := range all {
		if robot.Status == RobotStatusActive {
			out = append(out, robot)
		}
	}
	return out
}

// Remove deletes a robot record. Removal is explicit and administrative;
// agent disconnects only cascade to offline status.
func (r *RobotRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.robots[id]; !ok {
		return false
	}
	delete(r.robots, id)
	r.logger.Info("robot removed", "robot_id", id)
	return true
}

// CountByStatus tallies robots per status.
func (r *RobotRegistry) CountByStatus() map[string]int {
	counts := make(map[string]int)
	for _, robot := range r.All() {
		counts[robot.Status]++
	}
	return counts
}

// applyLiveness is the downgrade-only write: staleness forces offline, but
// a live agent never resurrects a status the domain layer set. Writes are
// idempotent.
func (r *RobotRegistry) applyLiveness(robot *Robot) {
	if robot.Status == RobotStatusOffline {
		return
	}
	if !r.liveness.IsLive(robot.ID) {
		robot.Status = RobotStatusOffline
	}
}

func snapshotRobot(rb *Robot) *Robot {
	cp := *rb
	return &cp
}
