package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dohr-michael/swarm/internal/knowledge"
)

func (c *Client) ListKnowledge(ctx context.Context, filter knowledge.ListFilter) ([]*knowledge.Entry, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Tag != "" {
		q.Set("tag", filter.Tag)
	}
	if filter.Sort != "" {
		q.Set("sort", string(filter.Sort))
	}
	path := "/knowledge"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []*knowledge.Entry
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) GetKnowledge(ctx context.Context, id string) (*knowledge.Entry, error) {
	var e knowledge.Entry
	if err := c.do(ctx, http.MethodGet, "/knowledge/"+url.PathEscape(id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// KnowledgePrompt returns the prompt template of an entry.
func (c *Client) KnowledgePrompt(ctx context.Context, id string) (string, error) {
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := c.do(ctx, http.MethodGet, "/knowledge/"+url.PathEscape(id)+"/prompt", nil, &out); err != nil {
		return "", err
	}
	return out.Prompt, nil
}

func (c *Client) RateKnowledge(ctx context.Context, id string, score int) (*knowledge.Rating, error) {
	var r knowledge.Rating
	body := map[string]int{"score": score}
	if err := c.do(ctx, http.MethodPost, "/knowledge/"+url.PathEscape(id)+"/rate", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) UpdateKnowledge(ctx context.Context, id string, in knowledge.UpdateInput) (*knowledge.Entry, error) {
	var e knowledge.Entry
	if err := c.do(ctx, http.MethodPatch, "/knowledge/"+url.PathEscape(id), in, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) DeleteKnowledge(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/knowledge/"+url.PathEscape(id), nil, nil)
}
