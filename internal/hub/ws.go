// ABOUTME: Websocket endpoints for agent duplex channels and dashboard fan-out.
// ABOUTME: Each connection gets a read loop here and a writer pump in transport.

package hub

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artbot/fleet-hub/internal/transport"
)

// pongWait bounds reads between pongs; the writer pump pings well inside it.
const pongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dashboards and agents connect from arbitrary origins on the local network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAgentChannel handles GET /ws/agent/{id} upgrade requests. The agent
// must have registered over REST first.
func (h *Hub) handleAgentChannel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/agent/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if _, ok := h.manager.Agents.Get(id); !ok {
		writeError(w, http.StatusNotFound, "agent not registered")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("agent channel upgrade failed", "agent_id", id, "error", err)
		return
	}

	conn := transport.NewConn(transport.AgentKey(id), ws, h.logger)
	h.conns.Add(conn)
	h.logger.Info("agent channel opened", "agent_id", id, "conn_id", conn.ID)

	go h.agentReadLoop(id, conn)
}

// agentReadLoop drains inbound frames from one agent channel until it
// closes, then cascades the disconnect.
func (h *Hub) agentReadLoop(id string, conn *transport.Conn) {
	defer func() {
		h.conns.Remove(conn)
		h.manager.AgentDisconnected(id)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("agent channel closed", "agent_id", id, "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.manager.HandleAgentMessage(id, data)
	}
}

// handleDashboardChannel handles GET /ws/dashboard upgrade requests.
// Dashboards are receive-only; inbound frames are discarded.
func (h *Hub) handleDashboardChannel(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard upgrade failed", "error", err)
		return
	}

	conn := transport.NewConn(transport.KeyDashboard, ws, h.logger)
	h.conns.Add(conn)
	h.logger.Info("dashboard connected", "conn_id", conn.ID)

	go h.dashboardReadLoop(conn)
}

// dashboardReadLoop keeps the connection's read side serviced so pings and
// close frames are processed, dropping anything the client sends.
func (h *Hub) dashboardReadLoop(conn *transport.Conn) {
	defer h.conns.Remove(conn)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
