package health

import (
	"context"
	"fmt"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/rfb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// Status represents the health status of a desktop
type Status string

const (
	StatusHealthy       Status = "healthy"
	StatusUnreachable   Status = "unreachable"
	StatusProtocolError Status = "protocol-error"
	StatusUnknown       Status = "unknown"
)

// Prober performs one RFB probe.
type Prober interface {
	Probe(ctx context.Context, t target.Target) (rfb.Result, error)
}

// CheckResult contains the results of health checks
type CheckResult struct {
	Status    Status      `json:"status"`
	Geometry  *rfb.Result `json:"geometry,omitempty"`
	Error     string      `json:"error,omitempty"`
	CheckedAt time.Time   `json:"checkedAt"`
}

// Check probes the desktop at t.
func Check(ctx context.Context, p Prober, t target.Target) CheckResult {
	result := CheckResult{CheckedAt: time.Now()}
	res, err := p.Probe(ctx, t)
	result.Status = StatusOf(err)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Geometry = &res
	return result
}

// StatusOf classifies a probe error.
func StatusOf(err error) Status {
	if err == nil {
		return StatusHealthy
	}
	if errors.IsKind(err, errors.KindProtocol) {
		return StatusProtocolError
	}
	return StatusUnreachable
}

// Age returns the time since t in human-readable format.
func Age(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return FormatDuration(time.Since(t))
}

// FormatDuration renders d with at most two units.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
