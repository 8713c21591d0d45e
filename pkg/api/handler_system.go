package api

import (
	"log/slog"
	"net/http"
	"runtime"
	"sort"

	echo "github.com/labstack/echo/v5"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gpilot-io/gpilot/pkg/version"
)

// SystemInfoResponse is returned by GET /api/v1/system/info. Host fields
// are best effort: a probe failure leaves them zero rather than failing
// the request.
type SystemInfoResponse struct {
	Version       string   `json:"version"`
	GoVersion     string   `json:"go_version"`
	NumGoroutine  int      `json:"num_goroutine"`
	NumCPU        int      `json:"num_cpu"`
	Hostname      string   `json:"hostname,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	UptimeSeconds uint64   `json:"uptime_seconds,omitempty"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemUsedPct    float64  `json:"mem_used_percent"`
	MemTotalBytes uint64   `json:"mem_total_bytes"`
	Queues        []string `json:"queues"`
	WSConnections int      `json:"ws_connections"`
}

// systemInfoHandler handles GET /api/v1/system/info.
func (s *Server) systemInfoHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	resp := SystemInfoResponse{
		Version:      version.Full(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		Queues:       []string{},
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		resp.Hostname = info.Hostname
		resp.Platform = info.Platform
		resp.UptimeSeconds = info.Uptime
	} else {
		slog.Warn("Host info probe failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemUsedPct = vm.UsedPercent
		resp.MemTotalBytes = vm.Total
	} else {
		slog.Warn("Memory probe failed", "error", err)
	}

	// Interval zero compares against the previous call, so the first
	// scrape after startup reports zero.
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		resp.CPUPercent = pcts[0]
	} else if err != nil {
		slog.Warn("CPU probe failed", "error", err)
	}

	if s.queueManager != nil {
		resp.Queues = s.queueManager.Queues()
		sort.Strings(resp.Queues)
	}
	if s.hub != nil {
		resp.WSConnections = s.hub.ActiveConnections()
	}

	return c.JSON(http.StatusOK, resp)
}
