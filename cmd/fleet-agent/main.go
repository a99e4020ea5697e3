// ABOUTME: Entry point for the robot-side fleet agent daemon
// ABOUTME: Registers with the hub, reports telemetry, and executes commands

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/artbot/fleet-hub/internal/agentd"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	cfg, err := agentd.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting fleet-agent",
		"version", version,
		"agent_id", cfg.AgentID,
		"hub", cfg.HubURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	agent := agentd.New(cfg, agentd.NewStubDevices(), logger)
	if err := agent.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("fleet-agent stopped")
}

func logLevel() slog.Level {
	switch os.Getenv("FLEET_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
