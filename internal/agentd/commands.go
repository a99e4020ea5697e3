// ABOUTME: Command execution for actions dispatched by the hub.
// ABOUTME: Actions map to systemd operations on the robot workspace.

package agentd

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/artbot/fleet-hub/internal/protocol"
)

// commandTimeout bounds each local command execution.
const commandTimeout = 30 * time.Second

// CommandRunner executes hub-dispatched actions on the local system.
type CommandRunner struct {
	workspaceService string
	logger           *slog.Logger

	// run is swapped in tests to avoid invoking real processes.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandRunner creates a runner controlling the named workspace service.
func NewCommandRunner(workspaceService string, logger *slog.Logger) *CommandRunner {
	return &CommandRunner{
		workspaceService: workspaceService,
		logger:           logger.With("component", "commands"),
		run:              runCommand,
	}
}

// Execute performs the action and returns the outcome payload sent back to
// the hub. Unknown actions fail without side effects.
func (c *CommandRunner) Execute(ctx context.Context, action string) protocol.CommandResult {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	c.logger.Info("executing command", "action", action)

	var out []byte
	var err error
	switch action {
	case "start", "resume":
		out, err = c.run(ctx, "systemctl", "start", c.workspaceService)
	case "stop", "pause":
		out, err = c.run(ctx, "systemctl", "stop", c.workspaceService)
	case "restart":
		out, err = c.run(ctx, "systemctl", "restart", c.workspaceService)
	case "reboot":
		out, err = c.run(ctx, "systemctl", "reboot")
	case "status":
		return c.workspaceStatus(ctx)
	case "logs", "get_logs":
		return c.recentLogs(ctx)
	case "update":
		return protocol.CommandResult{
			Status:  "success",
			Message: "agent update not implemented yet",
		}
	default:
		return protocol.CommandResult{
			Status:  "failed",
			Message: fmt.Sprintf("unknown action %q", action),
		}
	}

	if err != nil {
		c.logger.Error("command failed", "action", action, "error", err)
		return protocol.CommandResult{
			Status:  "failed",
			Message: fmt.Sprintf("%s: %v", action, err),
		}
	}

	c.logger.Info("command completed", "action", action)
	return protocol.CommandResult{
		Status:  "success",
		Message: fmt.Sprintf("%s completed", action),
		Output:  jsonString(strings.TrimSpace(string(out))),
	}
}

// workspaceStatus reports whether the workspace service is running. A
// stopped service is a successful query, not a command failure.
func (c *CommandRunner) workspaceStatus(ctx context.Context) protocol.CommandResult {
	out, err := c.run(ctx, "systemctl", "is-active", c.workspaceService)
	running := err == nil && strings.TrimSpace(string(out)) == "active"
	state := "stopped"
	if running {
		state = "running"
	}
	return protocol.CommandResult{
		Status:  "success",
		Message: "workspace " + state,
		Output:  []byte(fmt.Sprintf(`{"running":%t}`, running)),
	}
}

// recentLogs tails the workspace service journal.
func (c *CommandRunner) recentLogs(ctx context.Context) protocol.CommandResult {
	out, err := c.run(ctx, "journalctl", "-u", c.workspaceService, "-n", "50", "--no-pager")
	if err != nil {
		c.logger.Error("command failed", "action", "logs", "error", err)
		return protocol.CommandResult{
			Status:  "failed",
			Message: fmt.Sprintf("logs: %v", err),
		}
	}
	return protocol.CommandResult{
		Status:  "success",
		Message: "logs collected",
		Output:  jsonString(strings.TrimSpace(string(out))),
	}
}

// serviceActive reports whether a systemd unit is in the active state.
func serviceActive(ctx context.Context, service string) bool {
	out, err := runCommand(ctx, "systemctl", "is-active", service)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// jsonString encodes s as a JSON string literal for the Output field.
func jsonString(s string) []byte {
	if s == "" {
		return nil
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`).Replace(s)
	return []byte(`"` + escaped + `"`)
}
