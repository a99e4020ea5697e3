// ABOUTME: Hub orchestrator that wires registries, services, and the HTTP server
// ABOUTME: Manages agent channels, dashboard fan-out, and endpoint lifecycle

package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/artbot/fleet-hub/internal/auth"
	"github.com/artbot/fleet-hub/internal/command"
	"github.com/artbot/fleet-hub/internal/config"
	"github.com/artbot/fleet-hub/internal/fleet"
	"github.com/artbot/fleet-hub/internal/health"
	"github.com/artbot/fleet-hub/internal/logbook"
	"github.com/artbot/fleet-hub/internal/transport"
)

// Hub orchestrates the fleet-hub server components.
// It owns the HTTP server carrying the REST API, the dashboard fan-out,
// and the per-agent duplex channels.
type Hub struct {
	config     *config.Config
	manager    *fleet.Manager
	conns      *transport.Registry
	commands   *command.Service
	logs       *logbook.Logbook
	authn      *auth.Authenticator
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this hub instance
	serverID string

	startedAt time.Time
}

// New creates a new Hub instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	conns := transport.NewRegistry(logger)
	liveness := fleet.NewLivenessTracker(cfg.Agents.LivenessWindow)
	agents := fleet.NewAgentRegistry(liveness, logger)
	robots := fleet.NewRobotRegistry(liveness, logger)
	logs := logbook.New(logger)
	commands := command.NewService(conns, transport.AgentKey, logger)
	manager := fleet.NewManager(agents, robots, commands, logs, conns, logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	authn := auth.NewAuthenticator(verifier, cfg.Auth.AdminPassword, cfg.Auth.MuseumPassword)

	h := &Hub{
		config:    cfg,
		manager:   manager,
		conns:     conns,
		commands:  commands,
		logs:      logs,
		authn:     authn,
		verifier:  verifier,
		logger:    logger.With("component", "hub"),
		serverID:  generateServerID(),
		startedAt: time.Now().UTC(),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReady)

	// Agent-facing endpoints - unauthenticated, agents live on a trusted segment
	mux.HandleFunc("/api/agents/register", h.handleAgentRegister)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/ws/agent/", h.handleAgentChannel)
	mux.HandleFunc("/ws/dashboard", h.handleDashboardChannel)

	h.registerAPIRoutes(mux)

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h, nil
}

// registerAPIRoutes registers the authenticated REST surface.
func (h *Hub) registerAPIRoutes(mux *http.ServeMux) {
	authMw := auth.HTTPAuthMiddleware(h.verifier)
	adminMw := auth.RequireAdminHTTP()

	mux.Handle("/api/agents", authMw(adminMw(http.HandlerFunc(h.handleAgents))))

	// Heartbeats are agent-facing and skip auth; everything else under the
	// prefix requires a token.
	mux.Handle("/api/agents/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/heartbeat") && r.Method == http.MethodPost {
			h.handleAgentHeartbeat(w, r)
			return
		}
		authMw(http.HandlerFunc(h.handleAgentRoutes)).ServeHTTP(w, r)
	}))

	mux.Handle("/api/robots", authMw(auth.RequireCapability("robot.view")(http.HandlerFunc(h.handleRobots))))
	mux.Handle("/api/robots/", authMw(http.HandlerFunc(h.handleRobotRoutes)))
	mux.Handle("/api/system/health", authMw(auth.RequireCapability("robot.view")(http.HandlerFunc(h.handleSystemHealth))))
	mux.Handle("/api/logs", authMw(auth.RequireCapability("robot.view")(http.HandlerFunc(h.handleSystemLogs))))
	mux.Handle("/api/commands/stats", authMw(auth.RequireCapability("robot.view")(http.HandlerFunc(h.handleCommandStats))))
	mux.Handle("/api/exhibition/command", authMw(auth.RequireCapability("exhibition.start")(http.HandlerFunc(h.handleExhibitionCommand))))
	mux.Handle("/api/exhibition/status", authMw(auth.RequireCapability("robot.view")(http.HandlerFunc(h.handleExhibitionStatus))))
}

// Run starts the hub server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (h *Hub) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := h.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		h.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		h.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := h.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (h *Hub) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and closes every live channel.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down hub")

	err := h.httpServer.Shutdown(ctx)
	h.conns.CloseAll()

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the hub has at least one live agent channel.
func (h *Hub) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := h.conns.ConnectedAgents()
	if len(agents) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(agents))
}

// handleSystemHealth returns the fleet-wide health rollup.
func (h *Hub) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, health.SummarizeAt(h.manager.Robots.All(), time.Now().UTC(), h.config.Health.StaleThreshold))
}

// generateServerID creates a unique identifier for this hub instance.
func generateServerID() string {
	return fmt.Sprintf("fleet-hub-%d", time.Now().UnixNano()%1000000)
}
