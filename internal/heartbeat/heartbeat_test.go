package heartbeat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/swarm/internal/scheduler"
)

func TestWriterStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	w := NewWriter(path, "127.0.0.1:3030", func() scheduler.Status {
		return scheduler.Status{Running: 2, Queued: 1, MaxConcurrency: 3}
	}, time.Hour)

	w.Start()
	w.Start() // second start is a no-op

	got, hb, err := Check(path, time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got != Alive {
		t.Fatalf("liveness = %s, want alive", got)
	}
	if hb.PID != os.Getpid() || hb.Addr != "127.0.0.1:3030" {
		t.Errorf("heartbeat = %+v", hb)
	}
	if hb.Scheduler.Running != 2 || hb.Scheduler.Queued != 1 {
		t.Errorf("scheduler = %+v", hb.Scheduler)
	}

	w.Stop()
	w.Stop()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("heartbeat file still present: %v", err)
	}
}

func TestCheckStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	now := time.Now()
	if err := write(path, Heartbeat{PID: 1, StartedAt: now.Add(-2 * time.Hour), Timestamp: now.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	got, hb, err := Check(path, 30*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got != Stale {
		t.Errorf("liveness = %s, want stale", got)
	}
	if hb.Uptime() != time.Hour {
		t.Errorf("uptime = %s, want 1h", hb.Uptime())
	}
}

func TestCheckMissing(t *testing.T) {
	got, hb, err := Check(filepath.Join(t.TempDir(), "nope.json"), time.Minute)
	if err != nil || got != Dead || hb != nil {
		t.Errorf("Check = %s, %v, %v", got, hb, err)
	}
}

func TestCheckCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, _, err := Check(path, time.Minute); err == nil || got != Dead {
		t.Errorf("Check = %s, %v; want dead with error", got, err)
	}
}
