// ABOUTME: Agent daemon configuration from environment variables.
// ABOUTME: A local .env file is loaded first when present.

package agentd

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for timing and identity when the environment leaves them unset.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStatusInterval    = 10 * time.Second
	DefaultRetryDelay        = 5 * time.Second
	DefaultConnectAttempts   = 5
)

// Config holds the agent daemon settings.
type Config struct {
	HubURL            string
	AgentID           string
	RobotName         string
	Location          string
	HeartbeatInterval time.Duration
	StatusInterval    time.Duration
	RetryDelay        time.Duration
	ConnectAttempts   int
	WorkspaceService  string
}

// LoadConfig reads configuration from the environment, loading a .env file
// from the working directory first when one exists.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; explicit environment still applies.
	_ = godotenv.Load()

	cfg := &Config{
		HubURL:            envOr("FLEET_HUB_URL", "http://localhost:8000"),
		AgentID:           os.Getenv("FLEET_AGENT_ID"),
		RobotName:         os.Getenv("FLEET_ROBOT_NAME"),
		Location:          envOr("FLEET_LOCATION", "Museum"),
		HeartbeatInterval: DefaultHeartbeatInterval,
		StatusInterval:    DefaultStatusInterval,
		RetryDelay:        DefaultRetryDelay,
		ConnectAttempts:   DefaultConnectAttempts,
		WorkspaceService:  envOr("FLEET_WORKSPACE_SERVICE", "robot-workspace"),
	}

	if cfg.AgentID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("determining agent id from hostname: %w", err)
		}
		cfg.AgentID = hostname
	}

	var err error
	if cfg.HeartbeatInterval, err = envDuration("FLEET_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.StatusInterval, err = envDuration("FLEET_STATUS_INTERVAL", cfg.StatusInterval); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = envDuration("FLEET_RETRY_DELAY", cfg.RetryDelay); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", key, raw, err)
	}
	return d, nil
}
