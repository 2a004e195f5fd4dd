package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// HealthHandler handles the liveness endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now()}
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	Version       string  `json:"version"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthOutput wraps the liveness payload.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth reports service liveness.
func (h *HealthHandler) GetHealth(ctx context.Context, input *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	return &HealthOutput{
		Body: HealthResponse{
			Status:        "healthy",
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
		},
	}, nil
}
