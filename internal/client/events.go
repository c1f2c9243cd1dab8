package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/dohr-michael/swarm/internal/events"
	wsprotocol "github.com/dohr-michael/swarm/internal/gateway/ws"
)

// EventStream receives lifecycle events over the server's websocket.
type EventStream struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// WatchEvents connects to the event websocket. With taskIDs, only events of
// those tasks are delivered: a single id is filtered from the first event,
// several are applied by a subscribe request once connected.
func (c *Client) WatchEvents(ctx context.Context, taskIDs ...string) (*EventStream, error) {
	u, err := url.Parse(c.baseURL + "/api/ws")
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	if len(taskIDs) == 1 {
		u.RawQuery = url.Values{"task_id": taskIDs}.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s := &EventStream{conn: conn, ctx: streamCtx, cancel: cancel}

	if len(taskIDs) > 1 {
		if err := s.subscribe(taskIDs); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *EventStream) subscribe(taskIDs []string) error {
	seq := atomic.AddUint64(&s.reqSeq, 1)
	params, err := json.Marshal(wsprotocol.SubscribeParams{TaskIDs: taskIDs})
	if err != nil {
		return err
	}
	data, err := wsprotocol.MarshalFrame(wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(wsprotocol.MethodSubscribe),
		Params: params,
	})
	if err != nil {
		return err
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// Next blocks until the next event. Response frames are skipped.
func (s *EventStream) Next() (events.Event, error) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return events.Event{}, err
		}
		frame, err := wsprotocol.UnmarshalFrame(data)
		if err != nil {
			return events.Event{}, err
		}
		if frame.Type != wsprotocol.FrameTypeEvent {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return events.Event{}, fmt.Errorf("decode event: %w", err)
		}
		return e, nil
	}
}

// Close gracefully closes the connection.
func (s *EventStream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
