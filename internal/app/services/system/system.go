// Package system reports host health for the admin page.
package system

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/chainpulse/console/internal/apperr"
)

// Status is the admin dashboard's host snapshot.
type Status struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	Load1         float64 `json:"load1"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	Goroutines    int     `json:"goroutines"`
	GoVersion     string  `json:"go_version"`

	ProcessUptimeSeconds float64 `json:"process_uptime_seconds"`
}

// Service samples host metrics on demand.
type Service struct {
	startedAt time.Time
}

func NewService() *Service {
	return &Service{startedAt: time.Now()}
}

// Snapshot gathers the current host status. Individual probe failures leave
// their fields zero rather than failing the whole snapshot.
func (s *Service) Snapshot(ctx context.Context) (Status, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Status{}, apperr.WrapServiceError("system", "host_info", err)
	}

	out := Status{
		Hostname:             info.Hostname,
		Platform:             info.Platform,
		UptimeSeconds:        info.Uptime,
		Goroutines:           runtime.NumGoroutine(),
		GoVersion:            runtime.Version(),
		ProcessUptimeSeconds: time.Since(s.startedAt).Seconds(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		out.CPUPercent = percents[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.MemoryUsedPct = vm.UsedPercent
		out.MemoryTotalMB = vm.Total / (1024 * 1024)
	}
	return out, nil
}
