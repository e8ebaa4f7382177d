package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/vetclinic/internal/httputil"
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	storage := "ok"
	if err := h.app.Ping(ctx); err != nil {
		h.log.WithContext(ctx).WithError(err).Warn("storage health check failed")
		status, code, storage = "degraded", http.StatusServiceUnavailable, "unreachable"
	}
	httputil.WriteJSON(w, code, map[string]any{
		"status":   status,
		"storage":  storage,
		"services": h.app.Services(),
	})
}

type hostInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	UptimeSeconds uint64  `json:"uptime_seconds,omitempty"`
	CPUs          int     `json:"cpus,omitempty"`
	MemoryTotal   uint64  `json:"memory_total_bytes,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_percent,omitempty"`
}

// info reports build and host statistics. Host probes are best effort.
func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var hi hostInfo
	if info, err := host.InfoWithContext(ctx); err == nil {
		hi.Hostname = info.Hostname
		hi.OS = info.OS
		hi.Platform = info.Platform
		hi.UptimeSeconds = info.Uptime
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		hi.CPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hi.MemoryTotal = vm.Total
		hi.MemoryUsedPct = vm.UsedPercent
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"version":        h.version,
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"services":       h.app.Services(),
		"host":           hi,
	})
}
