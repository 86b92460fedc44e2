package services

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"time"
)

// Pinger reports whether the job store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClientCounter reports connected websocket clients
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	driver    string
	store     Pinger
	hub       ClientCounter
	timeout   time.Duration
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Uptime    float64                  `json:"uptime_seconds"`
	Runtime   map[string]any           `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// Healthy reports whether every dependency is up
func (s HealthStatus) Healthy() bool {
	return s.Status == "ok" || s.Status == "alive"
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthService creates a health service. hub may be nil when websockets
// are not served.
func NewHealthService(version, driver string, store Pinger, hub ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		driver:    driver,
		store:     store,
		hub:       hub,
		timeout:   2 * time.Second,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck pings the store. The status is "ok" or "degraded".
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Uptime:    time.Since(hs.startTime).Seconds(),
		Services: map[string]ServiceHealth{
			"store": hs.checkStore(ctx),
		},
	}
	if hs.hub != nil {
		status.Services["websocket"] = ServiceHealth{
			Status:  "up",
			Message: pluralClients(hs.hub.ClientCount()),
		}
	}

	for name, svc := range status.Services {
		if svc.Status != "up" {
			status.Status = "degraded"
			hs.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("message", svc.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status without touching dependencies
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Uptime:    time.Since(hs.startTime).Seconds(),
		Runtime: map[string]any{
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]any {
	return map[string]any{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"store":      hs.driver,
		"start_time": hs.startTime.UTC().Format(time.RFC3339),
	}
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: "down", Message: "no store configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	start := time.Now()
	if err := hs.store.Ping(ctx); err != nil {
		return ServiceHealth{Status: "down", Message: err.Error()}
	}
	return ServiceHealth{
		Status:  "up",
		Message: hs.driver,
		Latency: time.Since(start).Round(time.Microsecond).String(),
	}
}

func pluralClients(n int) string {
	if n == 1 {
		return "1 client"
	}
	return strconv.Itoa(n) + " clients"
}
