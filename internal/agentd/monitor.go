// ABOUTME: System telemetry collection for the agent daemon.
// ABOUTME: Uses gopsutil for host metrics with a sysfs fallback for temperature.

package agentd

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/artbot/fleet-hub/internal/protocol"
)

// thermalZonePath is the sysfs sensor read when gopsutil reports nothing.
const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// DeviceMonitor reports the state of robot peripherals. Hardware-specific
// implementations live behind this boundary; the default build ships stubs.
type DeviceMonitor interface {
	BaseConnected() (bool, string)
	CameraConnected() bool
	BatteryLevel() float64
}

// stubDevices is the no-hardware implementation used off-robot.
type stubDevices struct{}

func (stubDevices) BaseConnected() (bool, string) { return false, "unavailable" }
func (stubDevices) CameraConnected() bool         { return false }
func (stubDevices) BatteryLevel() float64         { return 100 }

// NewStubDevices returns a DeviceMonitor that reports no peripherals and a
// full battery.
func NewStubDevices() DeviceMonitor {
	return stubDevices{}
}

// SystemMonitor samples host metrics for heartbeats and status reports.
type SystemMonitor struct {
	devices          DeviceMonitor
	workspaceService string
}

// NewSystemMonitor creates a monitor over the given peripheral boundary.
func NewSystemMonitor(devices DeviceMonitor, workspaceService string) *SystemMonitor {
	return &SystemMonitor{devices: devices, workspaceService: workspaceService}
}

// Snapshot samples the host and peripherals into a heartbeat payload.
// Metrics that cannot be read are omitted from the payload so the hub
// keeps its previous reading instead of merging a zero.
func (m *SystemMonitor) Snapshot(ctx context.Context) protocol.Heartbeat {
	var hb protocol.Heartbeat

	battery := m.devices.BatteryLevel()
	hb.BatteryLevel = &battery

	if temp, ok := readTemperature(ctx); ok {
		hb.Temperature = &temp
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		hb.CPUPercent = &percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hb.MemoryPercent = &vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		hb.DiskPercent = &du.UsedPercent
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		hb.UptimeSeconds = &uptime
	}

	baseConnected, baseStatus := m.devices.BaseConnected()
	hb.BaseConnected = &baseConnected
	hb.BaseStatus = baseStatus

	cameraConnected := m.devices.CameraConnected()
	hb.CameraConnected = &cameraConnected

	workspaceRunning := m.workspaceRunning(ctx)
	hb.WorkspaceRunning = &workspaceRunning

	return hb
}

// workspaceRunning checks whether the robot workspace service is active.
func (m *SystemMonitor) workspaceRunning(ctx context.Context) bool {
	if m.workspaceService == "" {
		return false
	}
	return serviceActive(ctx, m.workspaceService)
}

// sensorTemps lists host temperature sensors; swapped in tests.
var sensorTemps = host.SensorsTemperaturesWithContext

// readTemperature samples the host temperature, preferring a CPU sensor
// from gopsutil and falling back to the primary sysfs thermal zone.
func readTemperature(ctx context.Context) (float64, bool) {
	if sensors, err := sensorTemps(ctx); err == nil {
		for _, s := range sensors {
			if strings.Contains(s.SensorKey, "cpu") && s.Temperature > 0 {
				return s.Temperature, true
			}
		}
		for _, s := range sensors {
			if s.Temperature > 0 {
				return s.Temperature, true
			}
		}
	}
	return sysfsTemperature()
}

// sysfsTemperature reads the primary thermal zone, reported in
// millidegrees Celsius.
func sysfsTemperature() (float64, bool) {
	raw, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0, false
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, false
	}
	return milli / 1000, true
}

// PingLatency measures round-trip time to the hub, in milliseconds. The
// measurement rides on the heartbeat HTTP request; callers pass the
// observed duration.
func PingLatency(elapsed time.Duration) float64 {
	return float64(elapsed.Microseconds()) / 1000
}
