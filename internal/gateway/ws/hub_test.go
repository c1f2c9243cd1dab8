package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/swarm/internal/events"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return f
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newHubServer(t *testing.T) (*Hub, *events.Bus, *httptest.Server) {
	t.Helper()
	bus := events.NewBus(16)
	hub := NewHub(bus)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		bus.Close()
	})
	return hub, bus, srv
}

func TestHubForwardsEvents(t *testing.T) {
	hub, bus, srv := newHubServer(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	bus.Publish(events.NewTypedEvent(events.SourceService, "t1", events.TaskCreatedPayload{Mode: "process"}))

	f := readFrame(t, conn)
	if f.Type != FrameTypeEvent || f.Event != string(events.EventTaskCreated) || f.TaskID != "t1" {
		t.Errorf("frame = %+v", f)
	}
}

func TestHubTaskFilter(t *testing.T) {
	hub, bus, srv := newHubServer(t)
	conn := dial(t, srv, "?task_id=t2")
	waitClients(t, hub, 1)

	bus.Publish(events.NewTypedEvent(events.SourceService, "t1", events.TaskRunningPayload{Mode: "sdk"}))
	bus.Publish(events.NewTypedEvent(events.SourceService, "t2", events.TaskRunningPayload{Mode: "sdk"}))

	if f := readFrame(t, conn); f.TaskID != "t2" {
		t.Errorf("filtered client got task %q", f.TaskID)
	}
}

func TestHubRequests(t *testing.T) {
	hub, _, srv := newHubServer(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"req","id":"1","method":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.ID != "1" || f.OK == nil || !*f.OK {
		t.Errorf("ping reply = %+v", f)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"req","id":"2","method":"explode"}`)); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.ID != "2" || f.OK == nil || *f.OK || !strings.Contains(f.Error, "explode") {
		t.Errorf("unknown method reply = %+v", f)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"req","id":"3","method":"subscribe","params":{"task_ids":["a","b"]}}`)); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.ID != "3" || f.OK == nil || !*f.OK {
		t.Errorf("subscribe reply = %+v", f)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, _, srv := newHubServer(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)
	conn.Close(websocket.StatusNormalClosure, "bye")
	waitClients(t, hub, 0)
}
