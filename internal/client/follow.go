package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dohr-michael/swarm/internal/gateway"
	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
)

// FollowTaskLogs streams the transcript of a task, calling fn for every
// chunk, and returns the final status once the server reports it. For a
// task already settled fn receives the whole transcript once.
func (c *Client) FollowTaskLogs(ctx context.Context, id string, fn func(chunk string)) (tasks.Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/logs", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the request timeout of the default client.
	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return "", fmt.Errorf("follow logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", decodeError(resp)
	}

	// Settled tasks are answered with the one-shot JSON body.
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		var logs service.TaskLogs
		if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
			return "", fmt.Errorf("decode task logs: %w", err)
		}
		if logs.Logs != "" {
			fn(logs.Logs)
		}
		return logs.Status, nil
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev gateway.LogEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", fmt.Errorf("decode log event: %w", err)
		}
		switch ev.Type {
		case "log":
			fn(ev.Content)
		case "done":
			return ev.Status, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read log stream: %w", err)
	}
	return "", errors.New("log stream ended before the task settled")
}
