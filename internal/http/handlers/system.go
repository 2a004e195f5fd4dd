package handlers

import (
	"context"
	"runtime"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemHandler reports host resource usage. Recording and tracking are
// disk and CPU hungry, so operators watch this endpoint while jobs run.
type SystemHandler struct {
	outputsDir string
}

// NewSystemHandler creates a system handler monitoring the outputs volume.
func NewSystemHandler(outputsDir string) *SystemHandler {
	return &SystemHandler{outputsDir: outputsDir}
}

// SystemResponse is the resource usage payload.
type SystemResponse struct {
	CPUCores       int     `json:"cpu_cores"`
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
	MemoryTotal    uint64  `json:"memory_total"`
	MemoryUsed     uint64  `json:"memory_used"`
	MemoryPercent  float64 `json:"memory_percent"`
	OutputsDiskUse uint64  `json:"outputs_disk_used"`
	OutputsDiskCap uint64  `json:"outputs_disk_total"`
	Goroutines     int     `json:"goroutines"`
	GoVersion      string  `json:"go_version"`
}

// SystemOutput wraps the resource usage payload.
type SystemOutput struct {
	Body SystemResponse
}

// Register registers the system route with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystem",
		Method:      "GET",
		Path:        "/system",
		Summary:     "Host resource usage",
		Tags:        []string{"System"},
	}, h.GetSystem)
}

// GetSystem reports CPU load, memory, and outputs-volume disk usage.
// Metric collection failures degrade to zero values rather than failing
// the request.
func (h *SystemHandler) GetSystem(ctx context.Context, input *struct{}) (*SystemOutput, error) {
	resp := SystemResponse{
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1 = avg.Load1
		resp.Load5 = avg.Load5
		resp.Load15 = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryTotal = vm.Total
		resp.MemoryUsed = vm.Used
		resp.MemoryPercent = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, h.outputsDir); err == nil {
		resp.OutputsDiskUse = usage.Used
		resp.OutputsDiskCap = usage.Total
	}

	return &SystemOutput{Body: resp}, nil
}
