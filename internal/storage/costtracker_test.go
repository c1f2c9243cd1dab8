package storage

import (
	"testing"

	"github.com/dohr-michael/swarm/internal/events"
)

func TestCostTracker_Accumulation(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	ct := NewCostTracker(bus)
	defer ct.Close()

	c1, c2 := 0.25, 0.5
	bus.Publish(events.NewTypedEvent(events.SourceService, "a", events.TaskCompletedPayload{Valid: true, Cost: &c1}))
	bus.Publish(events.NewTypedEvent(events.SourceService, "b", events.TaskCompletedPayload{Valid: true, Cost: &c2}))
	bus.Publish(events.NewTypedEvent(events.SourceService, "c", events.TaskCompletedPayload{Valid: true}))
	bus.Publish(events.NewTypedEvent(events.SourceService, "d", events.TaskFailedPayload{Code: "TIMEOUT"}))

	waitFor(t, func() bool { return ct.Usage().CompletedTasks == 3 })

	u := ct.Usage()
	if u.BilledTasks != 2 {
		t.Errorf("billed tasks: got %d, want 2", u.BilledTasks)
	}
	if u.TotalCost != 0.75 {
		t.Errorf("total cost: got %v, want 0.75", u.TotalCost)
	}
}

func TestCostTracker_Close(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	ct := NewCostTracker(bus)
	ct.Close()

	c := 1.0
	bus.Publish(events.NewTypedEvent(events.SourceService, "a", events.TaskCompletedPayload{Cost: &c}))
	// A second subscriber observes delivery; the closed tracker must not.
	seen := make(chan struct{}, 1)
	unsub := bus.Subscribe(func(events.Event) { seen <- struct{}{} }, events.EventTaskCompleted)
	defer unsub()
	bus.Publish(events.NewTypedEvent(events.SourceService, "b", events.TaskCompletedPayload{Cost: &c}))
	<-seen

	if got := ct.Usage().CompletedTasks; got != 0 {
		t.Errorf("closed tracker counted %d tasks", got)
	}
}
