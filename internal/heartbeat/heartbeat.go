// Package heartbeat records the liveness of a running swarm server in a file
// so local commands can find it without a network round-trip.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dohr-michael/swarm/internal/scheduler"
)

// FileName is the heartbeat file written under the swarm home.
const FileName = "heartbeat.json"

// Liveness of the server that owns a heartbeat file.
type Liveness string

const (
	Alive Liveness = "alive"
	Stale Liveness = "stale"
	Dead  Liveness = "dead"
)

// Heartbeat is the content of the heartbeat file.
type Heartbeat struct {
	PID       int              `json:"pid"`
	Addr      string           `json:"addr"`
	StartedAt time.Time        `json:"started_at"`
	Timestamp time.Time        `json:"timestamp"`
	Scheduler scheduler.Status `json:"scheduler"`
}

// Uptime is the server uptime at the time of the last beat.
func (h Heartbeat) Uptime() time.Duration {
	return h.Timestamp.Sub(h.StartedAt).Truncate(time.Second)
}

// StatusFunc reports the scheduler counters stored in each beat.
type StatusFunc func() scheduler.Status

// Writer rewrites the heartbeat file on a fixed interval.
type Writer struct {
	path     string
	addr     string
	status   StatusFunc
	interval time.Duration
	started  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a writer for the server listening on addr. A zero
// interval defaults to 30s.
func NewWriter(path, addr string, status StatusFunc, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Writer{path: path, addr: addr, status: status, interval: interval}
}

// Start writes the first beat synchronously then keeps beating in the
// background until Stop.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	w.started = time.Now()
	w.done = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.beat()
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.beat()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and removes the file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil

	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove heartbeat", "path", w.path, "error", err)
	}
}

func (w *Writer) beat() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		Addr:      w.addr,
		StartedAt: w.started,
		Timestamp: time.Now(),
	}
	if w.status != nil {
		hb.Scheduler = w.status()
	}
	if err := write(w.path, hb); err != nil {
		slog.Warn("write heartbeat", "path", w.path, "error", err)
	}
}

func write(path string, hb Heartbeat) error {
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Check reads the file at path. A missing file is Dead with no error; a beat
// older than maxAge is Stale.
func Check(path string, maxAge time.Duration) (Liveness, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Dead, nil, nil
		}
		return Dead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return Dead, nil, fmt.Errorf("decode heartbeat: %w", err)
	}
	if time.Since(hb.Timestamp) > maxAge {
		return Stale, &hb, nil
	}
	return Alive, &hb, nil
}
