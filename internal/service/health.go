package service

import (
	"time"

	"github.com/dohr-michael/swarm/internal/scheduler"
	"github.com/dohr-michael/swarm/internal/storage"
)

// Health is the liveness report.
type Health struct {
	Status    string           `json:"status"`
	Scheduler scheduler.Status `json:"scheduler"`
	Uptime    float64          `json:"uptime"` // seconds
	Usage     *storage.Usage   `json:"usage,omitempty"`
}

// StatusSource reports scheduler counters.
type StatusSource interface {
	Status() scheduler.Status
}

// HealthService reports process health.
type HealthService struct {
	scheduler StatusSource
	costs     *storage.CostTracker
	started   time.Time
}

// NewHealthService creates a HealthService; costs may be nil.
func NewHealthService(sched StatusSource, costs *storage.CostTracker) *HealthService {
	return &HealthService{scheduler: sched, costs: costs, started: time.Now()}
}

func (h *HealthService) Health() Health {
	out := Health{
		Status:    "ok",
		Scheduler: h.scheduler.Status(),
		Uptime:    time.Since(h.started).Seconds(),
	}
	if h.costs != nil {
		u := h.costs.Usage()
		out.Usage = &u
	}
	return out
}
