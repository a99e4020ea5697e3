// ABOUTME: Fleet-wide health rollup aggregating per-robot reports.

package health

import (
	"time"

	"github.com/artbot/fleet-hub/internal/fleet"
)

// Overview is the system-level health summary across the fleet.
type Overview struct {
	TotalRobots   int            `json:"total_robots"`
	AverageScore  float64        `json:"average_score"`
	StatusCounts  map[string]int `json:"status_counts"`
	ActiveAlerts  []RobotAlert   `json:"active_alerts"`
	StaleRobots   []string       `json:"stale_robots"`
	GeneratedAt   time.Time      `json:"generated_at"`
	OverallStatus string         `json:"overall_status"`
}

// RobotAlert pairs an alert with the robot it fired on.
type RobotAlert struct {
	RobotID string `json:"robot_id"`
	Alert
}

// Summarize evaluates every robot and rolls the reports up into a fleet
// overview using the default staleness threshold. Stale robots count
// toward totals but not the average score.
func Summarize(robots []*fleet.Robot, now time.Time) *Overview {
	return SummarizeAt(robots, now, StaleThreshold)
}

// SummarizeAt rolls the fleet up with a caller-supplied staleness threshold.
func SummarizeAt(robots []*fleet.Robot, now time.Time, staleAfter time.Duration) *Overview {
	ov := &Overview{
		TotalRobots:  len(robots),
		StatusCounts: make(map[string]int),
		ActiveAlerts: []RobotAlert{},
		StaleRobots:  []string{},
		GeneratedAt:  now,
	}

	var sum float64
	var scored int
	for _, robot := range robots {
		report := EvaluateAt(robot, now, staleAfter)
		ov.StatusCounts[report.Status]++
		if report.Stale {
			ov.StaleRobots = append(ov.StaleRobots, robot.ID)
		} else {
			sum += report.Score
			scored++
		}
		for _, alert := range report.Alerts {
			ov.ActiveAlerts = append(ov.ActiveAlerts, RobotAlert{RobotID: robot.ID, Alert: alert})
		}
	}
	if scored > 0 {
		ov.AverageScore = sum / float64(scored)
	}
	ov.OverallStatus = overallStatus(ov)
	return ov
}

// overallStatus derives the headline fleet status: any critical alert or
// critical robot wins, then warnings, then healthy.
func overallStatus(ov *Overview) string {
	if ov.TotalRobots == 0 {
		return StatusHealthy
	}
	for _, ra := range ov.ActiveAlerts {
		if ra.Severity == "critical" {
			return StatusCritical
		}
	}
	if ov.StatusCounts[StatusCritical] > 0 {
		return StatusCritical
	}
	if ov.StatusCounts[StatusWarning] > 0 || ov.StatusCounts[StatusPoor] > 0 ||
		ov.StatusCounts[StatusStale] > 0 || len(ov.ActiveAlerts) > 0 {
		return StatusWarning
	}
	return StatusHealthy
}
