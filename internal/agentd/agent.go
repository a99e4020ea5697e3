// ABOUTME: Agent daemon lifecycle: register, connect, report, execute.
// ABOUTME: One session = one websocket; sessions are retried forever.

package agentd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artbot/fleet-hub/internal/protocol"
)

// ErrRegistration indicates the initial hub registration failed.
var ErrRegistration = errors.New("registration failed")

// sendQueueSize bounds frames waiting on the single websocket writer.
const sendQueueSize = 32

// Agent is the robot-side daemon. It registers with the hub, keeps a
// duplex channel open, reports telemetry, and executes dispatched
// commands.
type Agent struct {
	cfg     *Config
	monitor *SystemMonitor
	runner  *CommandRunner
	client  *http.Client
	dial    func(ctx context.Context, url string) (*websocket.Conn, error)
	logger  *slog.Logger

	// latency of the most recent REST heartbeat round trip, milliseconds
	mu          sync.Mutex
	lastLatency float64
}

// New creates an agent daemon over the given peripheral boundary.
func New(cfg *Config, devices DeviceMonitor, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:     cfg,
		monitor: NewSystemMonitor(devices, cfg.WorkspaceService),
		runner:  NewCommandRunner(cfg.WorkspaceService, logger),
		client:  &http.Client{Timeout: 10 * time.Second},
		dial:    dialWebsocket,
		logger:  logger.With("component", "agent", "agent_id", cfg.AgentID),
	}
}

// Run registers with the hub and then loops sessions until the context is
// canceled. A failed initial registration is fatal; everything after that
// is retried.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistration, err)
	}

	for {
		if err := a.session(ctx); err != nil {
			a.logger.Warn("session ended", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.RetryDelay):
		}
		// Re-register before the next session; the hub may have dropped us.
		if err := a.register(ctx); err != nil {
			a.logger.Warn("re-registration failed", "error", err)
		}
	}
}

// register announces the agent to the hub over REST.
func (a *Agent) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	payload := map[string]any{
		"agent_id":   a.cfg.AgentID,
		"hostname":   hostname,
		"ip_address": localAddr(),
		"system_info": map[string]any{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		},
		"capabilities": []string{"heartbeat", "robot_status", "robot_command"},
	}

	if err := a.postJSON(ctx, "/api/agents/register", payload); err != nil {
		return err
	}
	a.logger.Info("registered with hub", "hub", a.cfg.HubURL)
	return nil
}

// session opens the duplex channel and runs the report loops until the
// channel drops or the context ends.
func (a *Agent) session(ctx context.Context) error {
	ws, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan []byte, sendQueueSize)
	var wg sync.WaitGroup

	// Single writer owns all socket writes. A write failure ends the
	// session; teardown must not wait for the read side to notice.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		a.writeLoop(sessionCtx, ws, send)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		a.readLoop(sessionCtx, ws, send)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(sessionCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.statusLoop(sessionCtx, send)
	}()

	<-sessionCtx.Done()
	_ = ws.Close()
	wg.Wait()
	return nil
}

// connect dials the duplex channel with bounded exponential backoff.
func (a *Agent) connect(ctx context.Context) (*websocket.Conn, error) {
	url := websocketURL(a.cfg.HubURL, "/ws/agent/"+a.cfg.AgentID)
	delay := a.cfg.RetryDelay

	var lastErr error
	for attempt := 1; attempt <= a.cfg.ConnectAttempts; attempt++ {
		ws, err := a.dial(ctx, url)
		if err == nil {
			a.logger.Info("channel connected", "attempt", attempt)
			return ws, nil
		}
		lastErr = err
		a.logger.Warn("channel connect failed",
			"attempt", attempt, "max_attempts", a.cfg.ConnectAttempts, "error", err)

		if attempt == a.cfg.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("connecting channel after %d attempts: %w", a.cfg.ConnectAttempts, lastErr)
}

// writeLoop is the only goroutine writing to the socket.
func (a *Agent) writeLoop(ctx context.Context, ws *websocket.Conn, send <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				a.logger.Warn("channel write failed", "error", err)
				return
			}
		}
	}
}

// readLoop handles inbound command frames until the channel drops.
func (a *Agent) readLoop(ctx context.Context, ws *websocket.Conn, send chan<- []byte) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			a.logger.Info("channel read ended", "error", err)
			return
		}

		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type != protocol.TypeRobotCommand {
			a.logger.Warn("dropping unexpected frame")
			continue
		}

		// Execution happens off the read loop so long commands do not
		// stall inbound traffic.
		go a.executeCommand(ctx, cmd, send)
	}
}

// executeCommand runs a dispatched command and reports its outcome.
func (a *Agent) executeCommand(ctx context.Context, cmd protocol.Command, send chan<- []byte) {
	result := a.runner.Execute(ctx, cmd.Action)

	env, err := protocol.NewEnvelope(protocol.TypeCommandResponse, a.cfg.AgentID, result)
	if err != nil {
		a.logger.Error("encoding command response", "error", err)
		return
	}
	env.CommandID = cmd.CommandID

	data, err := json.Marshal(env)
	if err != nil {
		a.logger.Error("encoding command response", "error", err)
		return
	}
	select {
	case send <- data:
	case <-ctx.Done():
	}
}

// heartbeatLoop posts REST heartbeats on the configured interval and
// records the round-trip latency for the next status report.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	a.sendHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat(ctx)
		}
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
	hb := a.monitor.Snapshot(ctx)
	lat := a.latency()
	hb.NetworkLatency = &lat

	started := time.Now()
	err := a.postJSON(ctx, "/api/agents/"+a.cfg.AgentID+"/heartbeat", hb)
	if err != nil {
		a.logger.Warn("heartbeat failed", "error", err)
		return
	}
	a.setLatency(PingLatency(time.Since(started)))
}

// statusLoop pushes status snapshots over the duplex channel.
func (a *Agent) statusLoop(ctx context.Context, send chan<- []byte) {
	ticker := time.NewTicker(a.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := a.monitor.Snapshot(ctx)
			lat := a.latency()
			hb.NetworkLatency = &lat

			env, err := protocol.NewEnvelope(protocol.TypeRobotStatus, a.cfg.AgentID, hb)
			if err != nil {
				a.logger.Error("encoding status", "error", err)
				continue
			}
			data, err := json.Marshal(env)
			if err != nil {
				a.logger.Error("encoding status", "error", err)
				continue
			}
			select {
			case send <- data:
			default:
				a.logger.Warn("status dropped, send queue full")
			}
		}
	}
}

func (a *Agent) latency() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastLatency
}

func (a *Agent) setLatency(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastLatency = ms
}

// postJSON sends a JSON payload to the hub and checks for a 2xx response.
func (a *Agent) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.HubURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub returned %s", resp.Status)
	}
	return nil
}

func dialWebsocket(ctx context.Context, url string) (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return ws, err
}

// websocketURL converts the hub's HTTP base URL into a ws/wss endpoint.
func websocketURL(base, path string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + path
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + path
	default:
		return base + path
	}
}

// localAddr returns a best-effort local IP for registration metadata. The
// UDP dial never sends a packet; it only selects the outbound interface.
func localAddr() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
