// Package config handles configuration loading for fleet-hub.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FLEET_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  heartbeat_interval: "30s"
//	  liveness_window: "2m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8000"  # API, dashboard, and agent channels
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${FLEET_JWT_SECRET}"
//	  admin_password: "${FLEET_ADMIN_PASSWORD}"
//	  museum_password: "${FLEET_MUSEUM_PASSWORD}"
//	  token_ttl: "24h"
//
// Agent timing:
//
//	agents:
//	  heartbeat_interval: "30s"
//	  liveness_window: "2m"
//
// Health assessment:
//
//	health:
//	  stale_threshold: "5m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/fleet-hub/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
