// Package handlers provides the HTTP API handlers for camgate.
package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/camgate/internal/gateway"
	"github.com/jmylchreest/camgate/internal/stream"
)

// HealthSource reports the gateway state.
type HealthSource interface {
	Snapshot() gateway.Snapshot
}

// HealthHandler handles the health endpoint.
type HealthHandler struct {
	version string
	source  HealthSource
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, source HealthSource) *HealthHandler {
	return &HealthHandler{version: version, source: source}
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health document.
type HealthResponse struct {
	Status        string            `json:"status" enum:"healthy,degraded"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Stream        StreamHealth      `json:"stream"`
	Cache         CacheHealth       `json:"cache"`
	BackedOff     []BackoffHealth   `json:"backed_off"`
	Detector      string            `json:"detector" doc:"disabled, closed, open or half-open"`
	View          UIState           `json:"view"`
	Campaign      uint64            `json:"campaign_generation"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Checks        map[string]string `json:"checks"`
}

// StreamHealth describes the main stream reader.
type StreamHealth struct {
	Streaming  bool   `json:"streaming"`
	Connection string `json:"connection"`
	LastFrame  string `json:"last_frame,omitempty"`
	Frames     uint64 `json:"frames"`
}

// CacheHealth describes the frame cache.
type CacheHealth struct {
	Frames int `json:"frames"`
}

// BackoffHealth is one channel waiting out a backoff.
type BackoffHealth struct {
	Channel          int     `json:"channel"`
	RetryAfter       string  `json:"retry_after"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// CPUInfo holds host load figures.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds host and process memory figures in MiB.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	ProcessPercentage float64 `json:"process_percentage"`
	Goroutines        int     `json:"goroutines"`
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns gateway state and host resource usage",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. The status is
// degraded while the stream reports an error or the detector circuit is open.
func (h *HealthHandler) GetHealth(_ context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	snap := h.source.Snapshot()

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        snap.Uptime.Round(time.Second).String(),
		UptimeSeconds: snap.Uptime.Seconds(),
		Stream: StreamHealth{
			Streaming:  snap.Stream.Streaming,
			Connection: snap.Stream.Connection,
			Frames:     snap.Stream.Frames,
		},
		Cache:     CacheHealth{Frames: snap.CachedFrames},
		BackedOff: make([]BackoffHealth, 0, len(snap.BackedOff)),
		Detector:  snap.Detector,
		View:      uiFromState(snap.View),
		Campaign:  snap.Generation,
		CPUInfo:   cpuInfo(),
		Memory:    memoryInfo(),
		Checks: map[string]string{
			"stream":   "ok",
			"detector": "ok",
		},
	}
	if !snap.Stream.LastFrame.IsZero() {
		resp.Stream.LastFrame = snap.Stream.LastFrame.UTC().Format(time.RFC3339Nano)
	}
	for _, e := range snap.BackedOff {
		resp.BackedOff = append(resp.BackedOff, BackoffHealth{
			Channel:          int(e.Channel),
			RetryAfter:       e.RetryAfter.UTC().Format(time.RFC3339),
			RemainingSeconds: e.Remaining.Seconds(),
		})
	}

	if len(snap.Stream.Connection) > 0 && !knownStreamState(snap.Stream.Connection) {
		resp.Checks["stream"] = snap.Stream.Connection
		resp.Status = "degraded"
	}
	if snap.Detector == "open" {
		resp.Checks["detector"] = "circuit open"
		resp.Status = "degraded"
	}

	return &HealthOutput{Body: resp}, nil
}

func knownStreamState(s string) bool {
	switch s {
	case stream.StatusStopped, stream.StatusConnecting, stream.StatusStreaming:
		return true
	}
	return false
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.Avg()
	if err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

func memoryInfo() MemoryInfo {
	const mib = 1024 * 1024
	info := MemoryInfo{Goroutines: runtime.NumGoroutine()}

	vm, err := mem.VirtualMemory()
	if err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / mib
		info.UsedMemoryMB = float64(vm.Used) / mib
		info.AvailableMemoryMB = float64(vm.Available) / mib
	}

	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return info
	}
	if pm, err := proc.MemoryInfo(); err == nil && pm != nil {
		info.ProcessMemoryMB = float64(pm.RSS) / mib
		if info.TotalMemoryMB > 0 {
			info.ProcessPercentage = info.ProcessMemoryMB / info.TotalMemoryMB * 100
		}
	}
	return info
}
