package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
)

// memoryDegradedPercent marks the host as degraded above this usage
const memoryDegradedPercent = 90.0

// Pinger is anything that can confirm the detection service answers
type Pinger interface {
	HealthCheck(ctx context.Context) error
	ServiceURL() string
}

// DetectionServiceChecker checks that the detection service answers /stats.
// The dashboard stays usable for selection while the service is down, so an
// unreachable service is reported as degraded.
type DetectionServiceChecker struct {
	pinger  Pinger
	timeout time.Duration
}

func NewDetectionServiceChecker(p Pinger) *DetectionServiceChecker {
	return &DetectionServiceChecker{pinger: p, timeout: 3 * time.Second}
}

func (c *DetectionServiceChecker) Name() string {
	return "detection_service"
}

func (c *DetectionServiceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"url": c.pinger.ServiceURL()},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.pinger.HealthCheck(ctx)
	check.Details["latency"] = time.Since(start).String()
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Detection service unreachable: %v", err)
		check.Details["error_kind"] = string(apperrors.KindOf(err))
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Detection service is reachable"
	return check
}

// StreamState reports whether the live feed is bound
type StreamState interface {
	Streaming() bool
}

// StreamChecker reports the live stream toggle. Idle is healthy.
type StreamChecker struct {
	state StreamState
}

func NewStreamChecker(s StreamState) *StreamChecker {
	return &StreamChecker{state: s}
}

func (c *StreamChecker) Name() string {
	return "stream"
}

func (c *StreamChecker) Check(ctx context.Context) Check {
	streaming := c.state.Streaming()
	msg := "Live stream idle"
	if streaming {
		msg = "Live stream bound"
	}
	return Check{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   msg,
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"streaming": streaming},
	}
}

// SystemChecker reports host memory and process goroutines
type SystemChecker struct{}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"go_version": runtime.Version(),
		},
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		check.Status = StatusHealthy
		check.Message = "Memory stats unavailable"
		check.Details["memory_error"] = err.Error()
		return check
	}

	check.Details["memory_used_percent"] = vm.UsedPercent
	check.Details["memory_available"] = vm.Available

	if vm.UsedPercent > memoryDegradedPercent {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Memory usage high: %.1f%%", vm.UsedPercent)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "System resources OK"
	return check
}
