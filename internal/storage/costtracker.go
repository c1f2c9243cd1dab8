package storage

import (
	"log/slog"
	"sync"

	"github.com/dohr-michael/swarm/internal/events"
)

// Usage is the accumulated spend reported by completed tasks.
type Usage struct {
	CompletedTasks int     `json:"completedTasks"`
	BilledTasks    int     `json:"billedTasks"`
	TotalCost      float64 `json:"totalCost"`
}

// CostTracker subscribes to task completion events and accumulates the cost
// reported by the executors since the process started.
type CostTracker struct {
	mu          sync.Mutex
	usage       Usage
	unsubscribe func()
}

// NewCostTracker creates a CostTracker listening on bus.
func NewCostTracker(bus *events.Bus) *CostTracker {
	ct := &CostTracker{}
	ct.unsubscribe = bus.Subscribe(ct.handleEvent, events.EventTaskCompleted)
	return ct
}

// Close unsubscribes the tracker from the event bus.
func (ct *CostTracker) Close() {
	if ct.unsubscribe != nil {
		ct.unsubscribe()
	}
}

func (ct *CostTracker) handleEvent(e events.Event) {
	payload, ok := events.ExtractPayload[events.TaskCompletedPayload](e)
	if !ok {
		slog.Debug("cost tracker: undecodable payload", "task_id", e.TaskID)
		return
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.usage.CompletedTasks++
	if payload.Cost != nil {
		ct.usage.BilledTasks++
		ct.usage.TotalCost += *payload.Cost
	}
}

// Usage returns a snapshot of the accumulated usage.
func (ct *CostTracker) Usage() Usage {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.usage
}
