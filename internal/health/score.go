// ABOUTME: Weighted health scoring over robot telemetry snapshots.
// ABOUTME: Pure arithmetic over inputs; staleness zeroes the score outright.

package health

import (
	"time"

	"github.com/artbot/fleet-hub/internal/fleet"
)

// StaleThreshold is the telemetry age beyond which a robot's health
// cannot be assessed and reads as stale.
const StaleThreshold = 5 * time.Minute

// Component weights. They sum to 1.
const (
	weightBattery     = 0.30
	weightCPU         = 0.20
	weightMemory      = 0.20
	weightTemperature = 0.15
	weightLatency     = 0.15
)

// Health statuses ordered from best to worst.
const (
	StatusHealthy  = "healthy"
	StatusGood     = "good"
	StatusWarning  = "warning"
	StatusPoor     = "poor"
	StatusCritical = "critical"
	StatusStale    = "stale"
)

// Report is the computed health assessment for one robot.
type Report struct {
	RobotID    string             `json:"robot_id"`
	Score      float64            `json:"score"`
	Status     string             `json:"status"`
	Components map[string]float64 `json:"components"`
	Alerts     []Alert            `json:"alerts"`
	LastUpdate time.Time          `json:"last_update"`
	Stale      bool               `json:"stale"`
}

// Alert flags a single telemetry reading crossing its threshold.
type Alert struct {
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Value    float64 `json:"value,omitempty"`
}

// Evaluate scores a robot snapshot against the given reference time using
// the default staleness threshold.
func Evaluate(robot *fleet.Robot, now time.Time) *Report {
	return EvaluateAt(robot, now, StaleThreshold)
}

// EvaluateAt scores a robot snapshot with a caller-supplied staleness
// threshold. A non-positive threshold falls back to the default.
func EvaluateAt(robot *fleet.Robot, now time.Time, staleAfter time.Duration) *Report {
	if staleAfter <= 0 {
		staleAfter = StaleThreshold
	}
	if now.Sub(robot.LastUpdate) > staleAfter {
		return &Report{
			RobotID:    robot.ID,
			Score:      0,
			Status:     StatusStale,
			Components: map[string]float64{},
			Alerts: []Alert{{
				Type:     "stale_data",
				Severity: "warning",
				Message:  "no telemetry received within the staleness window",
			}},
			LastUpdate: robot.LastUpdate,
			Stale:      true,
		}
	}

	components := map[string]float64{
		"battery":     batteryScore(robot.BatteryLevel),
		"cpu":         usageScore(robot.CPUUsage),
		"memory":      usageScore(robot.MemoryUsage),
		"temperature": temperatureScore(robot.Temperature),
		"latency":     latencyScore(robot.NetworkLatency),
	}

	score := components["battery"]*weightBattery +
		components["cpu"]*weightCPU +
		components["memory"]*weightMemory +
		components["temperature"]*weightTemperature +
		components["latency"]*weightLatency

	return &Report{
		RobotID:    robot.ID,
		Score:      score,
		Status:     bucket(score),
		Components: components,
		Alerts:     alerts(robot),
		LastUpdate: robot.LastUpdate,
	}
}

// batteryScore maps charge percentage to 0-100. Above half charge scores
// full; the range down to 20% degrades gently, below 20% steeply.
func batteryScore(level float64) float64 {
	switch {
	case level > 50:
		return 100
	case level >= 20:
		return 50 + (level-20)*50/30
	default:
		return clamp(level * 50 / 20)
	}
}

// usageScore treats utilization as a direct penalty: 0% usage is a
// perfect score, 100% usage is zero.
func usageScore(percent float64) float64 {
	return clamp(100 - percent)
}

func temperatureScore(celsius float64) float64 {
	switch {
	case celsius < 50:
		return 100
	case celsius <= 70:
		return 100 - (celsius-50)*2
	default:
		return clamp(60 - (celsius-70)*3)
	}
}

func latencyScore(millis float64) float64 {
	switch {
	case millis < 50:
		return 100
	case millis <= 200:
		return 100 - (millis-50)*0.5
	default:
		return clamp(25 - (millis-200)*0.1)
	}
}

func bucket(score float64) string {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 60:
		return StatusGood
	case score >= 40:
		return StatusWarning
	case score >= 20:
		return StatusPoor
	default:
		return StatusCritical
	}
}

// alerts checks the individual readings against their alert thresholds.
func alerts(robot *fleet.Robot) []Alert {
	out := []Alert{}
	if robot.BatteryLevel < 15 {
		out = append(out, Alert{
			Type:     "critical_battery",
			Severity: "critical",
			Message:  "battery critically low",
			Value:    robot.BatteryLevel,
		})
	}
	if robot.Temperature > 70 {
		out = append(out, Alert{
			Type:     "high_temperature",
			Severity: "warning",
			Message:  "temperature above safe operating range",
			Value:    robot.Temperature,
		})
	}
	if robot.CPUUsage > 90 {
		out = append(out, Alert{
			Type:     "high_cpu",
			Severity: "warning",
			Message:  "cpu usage sustained near saturation",
			Value:    robot.CPUUsage,
		})
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
