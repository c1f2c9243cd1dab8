// Package client is a typed HTTP client for the swarm server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dohr-michael/swarm/internal/profiles"
	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("swarm: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("swarm: %s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to one swarm server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL (e.g. http://localhost:3030).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var env struct {
		Error struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if json.Unmarshal(data, &env) == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// CreateTask submits a task.
func (c *Client) CreateTask(ctx context.Context, in service.CreateTaskInput) (*tasks.Task, error) {
	var t tasks.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	var t tasks.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListTasks(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []*tasks.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CancelTask cancels a task and returns its record after the call.
func (c *Client) CancelTask(ctx context.Context, id string) (*tasks.Task, error) {
	if err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil); err != nil {
		return nil, err
	}
	return c.GetTask(ctx, id)
}

// PurgeTask removes the workspace and logs of a settled task.
func (c *Client) PurgeTask(ctx context.Context, id string) (*tasks.Task, error) {
	var t tasks.Task
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/purge", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) GetTaskLogs(ctx context.Context, id string) (*service.TaskLogs, error) {
	var logs service.TaskLogs
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/logs", nil, &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

// WaitTask polls until the task settles or ctx is done.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (*tasks.Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) CreateProfile(ctx context.Context, in service.CreateProfileInput) (*profiles.Profile, error) {
	var p profiles.Profile
	if err := c.do(ctx, http.MethodPost, "/mcp-profiles", in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetProfile(ctx context.Context, id string) (*profiles.Profile, error) {
	var p profiles.Profile
	if err := c.do(ctx, http.MethodGet, "/mcp-profiles/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListProfiles(ctx context.Context) ([]*profiles.Profile, error) {
	var list []*profiles.Profile
	if err := c.do(ctx, http.MethodGet, "/mcp-profiles", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/mcp-profiles/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Health(ctx context.Context) (*service.Health, error) {
	var h service.Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
