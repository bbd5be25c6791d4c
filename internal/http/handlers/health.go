// Package handlers provides HTTP API handlers for dowserd.
package handlers

import (
	"context"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"dowser/pkg/httpclient"
)

// BreakerReporter reports circuit state for the upstream hosts the relay
// fetcher has talked to. *httpclient.Client satisfies it.
type BreakerReporter interface {
	BreakerStats() map[string]httpclient.BreakerStats
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version      string
	startTime    time.Time
	breakers     BreakerReporter
	relayEnabled bool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithBreakers wires the relay fetcher's circuit state into the health
// output.
func (h *HealthHandler) WithBreakers(breakers BreakerReporter) *HealthHandler {
	h.breakers = breakers
	return h
}

// WithRelayEnabled records whether the relay endpoint is being served.
func (h *HealthHandler) WithRelayEnabled(enabled bool) *HealthHandler {
	h.relayEnabled = enabled
	return h
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPU           CPUInfo           `json:"cpu"`
	Memory        MemoryInfo        `json:"memory"`
	Relay         RelayHealth       `json:"relay"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo describes processor count and load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo describes system and process memory usage in megabytes.
type MemoryInfo struct {
	TotalMB        float64 `json:"total_mb"`
	UsedMB         float64 `json:"used_mb"`
	FreeMB         float64 `json:"free_mb"`
	AvailableMB    float64 `json:"available_mb"`
	ProcessRSSMB   float64 `json:"process_rss_mb"`
	ProcessPercent float64 `json:"process_percent"`
}

// RelayHealth describes the relay endpoint and its upstream circuits.
type RelayHealth struct {
	Status    string           `json:"status"`
	Upstreams []UpstreamStatus `json:"upstreams,omitempty"`
}

// UpstreamStatus is the circuit state for one upstream host.
type UpstreamStatus struct {
	Host                string `json:"host"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalRequests       int64  `json:"total_requests"`
	TotalFailures       int64  `json:"total_failures"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness endpoint.
type LivezInput struct{}

// LivezOutput is the output for the liveness endpoint.
type LivezOutput struct {
	Body LivezResponse
}

// LivezResponse is the liveness probe body.
type LivezResponse struct {
	Status string `json:"status"`
}

// ReadyzInput is the input for the readiness endpoint.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness endpoint.
type ReadyzOutput struct {
	Body ReadyzResponse
}

// ReadyzResponse is the readiness probe body.
type ReadyzResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics and upstream circuit state",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	relayHealth := h.getRelayHealth()

	status := "healthy"
	for _, up := range relayHealth.Upstreams {
		if up.State == "open" {
			status = "degraded"
			break
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPU:           h.getCPUInfo(),
			Memory:        h.getMemoryInfo(),
			Relay:         relayHealth,
			Checks: map[string]string{
				"relay": relayHealth.Status,
			},
		},
	}, nil
}

// GetLivez reports process liveness.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	return &LivezOutput{Body: LivezResponse{Status: "ok"}}, nil
}

// GetReadyz reports whether the service is ready to take traffic.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	relayStatus := "disabled"
	if h.relayEnabled {
		relayStatus = "ok"
	}

	return &ReadyzOutput{
		Body: ReadyzResponse{
			Status: "ready",
			Components: map[string]string{
				"relay": relayStatus,
			},
		},
	}, nil
}

// getRelayHealth returns the relay status and per-upstream circuit state.
func (h *HealthHandler) getRelayHealth() RelayHealth {
	health := RelayHealth{Status: "disabled"}
	if !h.relayEnabled {
		return health
	}
	health.Status = "ok"

	if h.breakers == nil {
		return health
	}

	stats := h.breakers.BreakerStats()
	if len(stats) == 0 {
		return health
	}

	hosts := make([]string, 0, len(stats))
	for host := range stats {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	health.Upstreams = make([]UpstreamStatus, 0, len(hosts))
	for _, host := range hosts {
		s := stats[host]
		health.Upstreams = append(health.Upstreams, UpstreamStatus{
			Host:                host,
			State:               s.State,
			ConsecutiveFailures: s.ConsecutiveFailures,
			TotalRequests:       s.TotalRequests,
			TotalFailures:       s.TotalFailures,
		})
	}

	return health
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15

		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.ProcessRSSMB = float64(memInfo.RSS) / 1024 / 1024
		if info.TotalMB > 0 {
			info.ProcessPercent = (info.ProcessRSSMB / info.TotalMB) * 100
		}
	}

	return info
}
