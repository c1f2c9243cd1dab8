// Package retention purges the workspaces and logs of old settled tasks on a
// cron schedule. Task records are never removed.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cron "github.com/netresearch/go-cron"

	"github.com/dohr-michael/swarm/internal/tasks"
)

// Purger is the slice of the task service the sweeper needs.
type Purger interface {
	ListTasks(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error)
	PurgeTask(ctx context.Context, id string) (*tasks.Task, error)
}

// ParseSchedule parses a standard 5-field cron expression or a descriptor
// such as @hourly.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return schedule, nil
}

// Sweeper runs Sweep at every activation of its schedule.
type Sweeper struct {
	purger   Purger
	spec     string
	schedule cron.Schedule
	maxAge   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a sweeper that purges tasks settled more than maxAge ago.
func New(p Purger, spec string, maxAge time.Duration) (*Sweeper, error) {
	if maxAge <= 0 {
		return nil, errors.New("retention max age must be positive")
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		purger:   p,
		spec:     spec,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}, nil
}

// Next returns the next activation after t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Sweep purges every settled task older than the max age that still holds a
// workspace. It returns how many were purged; failures on single tasks do
// not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	list, err := s.purger.ListTasks(ctx, tasks.ListFilter{})
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	var (
		purged int
		errs   []error
	)
	for _, t := range list {
		if !t.Status.Terminal() || t.WorkspacePath == "" {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.After(cutoff) {
			continue
		}
		if _, err := s.purger.PurgeTask(ctx, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", t.ID, err))
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

// Start launches the schedule loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.done)
	slog.Info("retention sweeper started", "schedule", s.spec, "max_age", s.maxAge)
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		n, err := s.Sweep(ctx)
		if err != nil {
			slog.Warn("retention sweep", "purged", n, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("retention sweep", "purged", n)
		}
	}
}
