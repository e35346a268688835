package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/touchlink/gateway/internal/domain"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string         `json:"name"`
	Status  HealthStatus   `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus       `json:"status"`
	Timestamp  time.Time          `json:"timestamp"`
	Version    string             `json:"version"`
	Uptime     string             `json:"uptime"`
	Components []*ComponentStatus `json:"components"`
}

// StorePinger is what the telemetry store exposes to health checks.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker aggregates component checks into /health.
type HealthChecker struct {
	store          StorePinger // nil when telemetry is disabled
	node           domain.NodeInterface
	maxConnections int
	logger         *zap.Logger
	version        string
}

// NewHealthChecker creates a new health checker. store may be nil.
func NewHealthChecker(store StorePinger, node domain.NodeInterface, maxConnections int, logger *zap.Logger, version string) *HealthChecker {
	return &HealthChecker{
		store:          store,
		node:           node,
		maxConnections: maxConnections,
		logger:         logger.Named("health"),
		version:        version,
	}
}

// CheckHealth runs all component checks.
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthResponse {
	components := []*ComponentStatus{
		h.checkTelemetryStore(ctx),
		h.checkConnections(),
		h.checkMemory(),
	}

	overall := StatusHealthy
	for _, c := range components {
		if c.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
		if c.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}

	return &HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     formatUptime(time.Since(h.node.GetStartTime())),
		Components: components,
	}
}

func (h *HealthChecker) checkTelemetryStore(ctx context.Context) *ComponentStatus {
	status := &ComponentStatus{Name: "telemetry_store"}
	if h.store == nil {
		status.Status = StatusHealthy
		status.Message = "disabled"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.store.Ping(pingCtx); err != nil {
		// Telemetry is an optional consumer; the gateway still routes.
		status.Status = StatusDegraded
		status.Message = err.Error()
		h.logger.Warn("Telemetry store ping failed", zap.Error(err))
		return status
	}
	status.Status = StatusHealthy
	return status
}

func (h *HealthChecker) checkConnections() *ComponentStatus {
	count := h.node.GetConnectionCount()
	status := &ComponentStatus{
		Name:   "connections",
		Status: StatusHealthy,
		Details: map[string]any{
			"active": count,
			"max":    h.maxConnections,
		},
	}
	if h.maxConnections > 0 && count >= h.maxConnections*9/10 {
		status.Status = StatusDegraded
		status.Message = "approaching connection limit"
	}
	return status
}

func (h *HealthChecker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &ComponentStatus{
		Name:   "memory",
		Status: StatusHealthy,
		Details: map[string]any{
			"heap_alloc_mb": m.HeapAlloc / 1024 / 1024,
			"goroutines":    runtime.NumGoroutine(),
		},
	}
}

// HandleHealth serves the health check over HTTP. Unhealthy maps to 503
// so load balancers can pull the instance.
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := h.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := d - minutes*time.Minute

	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm%ds", days, hours, minutes, seconds/time.Second)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds/time.Second)
	}
	return fmt.Sprintf("%dm%ds", minutes, seconds/time.Second)
}
