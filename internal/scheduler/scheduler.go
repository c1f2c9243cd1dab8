// Package scheduler runs queued execution units with bounded concurrency in
// strict FIFO order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dohr-michael/swarm/internal/executor"
)

// CodeSchedulerError tags results synthesized when an executor panics.
const CodeSchedulerError = "SCHEDULER_ERROR"

var (
	ErrClosed    = errors.New("scheduler is closed")
	ErrDuplicate = errors.New("task already scheduled")
)

// CompletionFunc receives the settled result of a unit.
type CompletionFunc func(taskID string, res executor.Result)

// Unit pairs a task with its resolved parameters, the executor chosen for it
// and its completion callback.
type Unit struct {
	TaskID     string
	Params     executor.Params
	Executor   executor.Executor
	OnComplete CompletionFunc
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running        int `json:"running"`
	Queued         int `json:"queued"`
	MaxConcurrency int `json:"maxConcurrency"`
}

type runningUnit struct {
	unit       *Unit
	cancel     context.CancelFunc
	cancelOnce sync.Once
}

// Scheduler owns the FIFO queue and the running set. Both are guarded by mu,
// which keeps len(running) <= maxConcurrency across concurrent callers.
type Scheduler struct {
	mu      sync.Mutex
	queue   []*Unit
	running map[string]*runningUnit
	max     int
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler running at most maxConcurrency units at once.
func New(maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		running: make(map[string]*runningUnit),
		max:     maxConcurrency,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue starts u immediately when a slot is free, otherwise appends it to
// the queue.
func (s *Scheduler) Enqueue(u *Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.scheduledLocked(u.TaskID) {
		return fmt.Errorf("%w: %s", ErrDuplicate, u.TaskID)
	}

	if len(s.running) < s.max {
		s.runLocked(u)
		return nil
	}
	s.queue = append(s.queue, u)
	slog.Debug("unit queued", "task_id", u.TaskID, "position", len(s.queue))
	return nil
}

func (s *Scheduler) scheduledLocked(taskID string) bool {
	if _, ok := s.running[taskID]; ok {
		return true
	}
	for _, q := range s.queue {
		if q.TaskID == taskID {
			return true
		}
	}
	return false
}

// runLocked moves u into the running set and executes it in its own
// goroutine. Caller holds mu.
func (s *Scheduler) runLocked(u *Unit) {
	ctx, cancel := context.WithCancel(s.ctx)
	r := &runningUnit{unit: u, cancel: cancel}
	s.running[u.TaskID] = r

	s.wg.Add(1)
	go s.execute(ctx, r)
}

func (s *Scheduler) execute(ctx context.Context, r *runningUnit) {
	defer s.wg.Done()

	res := safeExecute(ctx, r.unit)
	r.cancel()

	s.mu.Lock()
	s.releaseLocked(r)
	s.mu.Unlock()

	s.complete(r.unit, res)

	s.mu.Lock()
	s.drainLocked()
	s.mu.Unlock()
}

// releaseLocked removes r from the running set unless a cancel already did.
func (s *Scheduler) releaseLocked(r *runningUnit) {
	if cur, ok := s.running[r.unit.TaskID]; ok && cur == r {
		delete(s.running, r.unit.TaskID)
	}
}

// safeExecute converts an executor panic into a failed result.
func safeExecute(ctx context.Context, u *Unit) (res executor.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("executor panic: %v", rec)
			slog.Error("executor panicked", "task_id", u.TaskID, "panic", rec)
			res = executor.Failure(CodeSchedulerError, msg, msg, 0)
		}
	}()
	return u.Executor.Execute(ctx, u.Params)
}

func (s *Scheduler) complete(u *Unit, res executor.Result) {
	if u.OnComplete == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("completion callback panicked", "task_id", u.TaskID, "panic", rec)
		}
	}()
	u.OnComplete(u.TaskID, res)
}

// drainLocked starts queued units, oldest first, while slots are free.
// Caller holds mu.
func (s *Scheduler) drainLocked() {
	if s.closed {
		return
	}
	for len(s.running) < s.max && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.runLocked(next)
	}
}

// Cancel removes a queued unit without invoking its executor, or cancels a
// running one and frees its slot. It reports false when the task is neither
// queued nor running.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) bool {
	s.mu.Lock()
	for i, q := range s.queue {
		if q.TaskID == taskID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.mu.Unlock()
			slog.Debug("queued unit cancelled", "task_id", taskID)
			return true
		}
	}
	r, ok := s.running[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	r.cancelOnce.Do(func() {
		if err := r.unit.Executor.Cancel(ctx, taskID); err != nil {
			slog.Warn("executor cancel failed", "task_id", taskID, "error", err)
		}
		r.cancel()
	})

	s.mu.Lock()
	s.releaseLocked(r)
	s.drainLocked()
	s.mu.Unlock()
	return true
}

// Status reports the running and queued counts.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: len(s.running), Queued: len(s.queue), MaxConcurrency: s.max}
}

// Close drops queued units, cancels running ones and waits for them to
// settle. Completion callbacks still fire for running units.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	slog.Info("scheduler stopped", "dropped", dropped)
}
