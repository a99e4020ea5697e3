// ABOUTME: In-memory bounded log retention per robot and fleet-wide.
// ABOUTME: Oldest entries are evicted first; queries return newest-first.

package logbook

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Retention bounds. Per-robot buffers stay small; the system buffer keeps
// a longer fleet-wide tail.
const (
	maxPerRobot = 1000
	maxSystem   = 5000
)

// Entry is a retained log line.
type Entry struct {
	ID        string    `json:"id"`
	RobotID   string    `json:"robot_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Logbook retains recent log entries in memory. Nothing is persisted;
// restart clears the buffers.
type Logbook struct {
	mu       sync.RWMutex
	perRobot map[string][]Entry // oldest-first
	system   []Entry            // oldest-first
	logger   *slog.Logger
}

// New creates an empty logbook.
func New(logger *slog.Logger) *Logbook {
	return &Logbook{
		perRobot: make(map[string][]Entry),
		logger:   logger.With("component", "logbook"),
	}
}

// Append records an entry under the robot (when set) and in the system
// buffer, evicting the oldest entries past retention.
func (l *Logbook) Append(robotID, level, message, source string) Entry {
	entry := Entry{
		ID:        uuid.New().String(),
		RobotID:   robotID,
		Level:     normalizeLevel(level),
		Message:   message,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if robotID != "" {
		buf := append(l.perRobot[robotID], entry)
		if len(buf) > maxPerRobot {
			buf = buf[1:]
		}
		l.perRobot[robotID] = buf
	}
	l.system = append(l.system, entry)
	if len(l.system) > maxSystem {
		l.system = l.system[1:]
	}
	return entry
}

// Robot returns up to limit entries for a robot, newest first, optionally
// filtered by level. A non-positive limit returns everything retained.
func (l *Logbook) Robot(robotID, level string, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filterNewestFirst(l.perRobot[robotID], level, limit)
}

// System returns up to limit fleet-wide entries, newest first, optionally
// filtered by level.
func (l *Logbook) System(level string, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filterNewestFirst(l.system, level, limit)
}

// Clear drops a robot's buffer. System entries are unaffected.
func (l *Logbook) Clear(robotID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.perRobot, robotID)
}

// Stats reports retention usage and per-level counts over the system
// buffer.
func (l *Logbook) Stats() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()

	levels := make(map[string]int)
	for _, entry := range l.system {
		levels[entry.Level]++
	}
	return map[string]any{
		"system_entries": len(l.system),
		"robot_buffers":  len(l.perRobot),
		"level_counts":   levels,
	}
}

func filterNewestFirst(buf []Entry, level string, limit int) []Entry {
	level = normalizeLevel(level)
	out := make([]Entry, 0, len(buf))
	for i := len(buf) - 1; i >= 0; i-- {
		if level != "" && buf[i].Level != level {
			continue
		}
		out = append(out, buf[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func normalizeLevel(level string) string {
	return strings.ToLower(strings.TrimSpace(level))
}
