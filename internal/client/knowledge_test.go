package client

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/dohr-michael/swarm/internal/knowledge"
)

func TestKnowledge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/knowledge", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.RawQuery; got != "sort=rating&status=active&tag=go" {
			t.Errorf("query = %q", got)
		}
		writeJSON(w, http.StatusOK, []knowledge.Entry{{ID: "a", Title: "A"}})
	})
	mux.HandleFunc("GET /api/knowledge/{id}/prompt", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"prompt": "do " + r.PathValue("id")})
	})
	mux.HandleFunc("POST /api/knowledge/{id}/rate", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Score int }
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, knowledge.Rating{Average: float64(body.Score), Count: 1})
	})
	mux.HandleFunc("PATCH /api/knowledge/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in knowledge.UpdateInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Status == nil || *in.Status != knowledge.StatusDeprecated {
			t.Errorf("update = %+v", in)
		}
		writeJSON(w, http.StatusOK, knowledge.Entry{ID: r.PathValue("id"), Status: *in.Status})
	})
	mux.HandleFunc("DELETE /api/knowledge/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "Knowledge entry not found"}})
	})
	c := newServer(t, mux)
	ctx := context.Background()

	list, err := c.ListKnowledge(ctx, knowledge.ListFilter{Status: knowledge.StatusActive, Tag: "go", Sort: knowledge.SortRating})
	if err != nil || len(list) != 1 || list[0].ID != "a" {
		t.Fatalf("ListKnowledge = %+v, %v", list, err)
	}
	prompt, err := c.KnowledgePrompt(ctx, "a")
	if err != nil || prompt != "do a" {
		t.Errorf("KnowledgePrompt = %q, %v", prompt, err)
	}
	r, err := c.RateKnowledge(ctx, "a", 3)
	if err != nil || r.Average != 3 {
		t.Errorf("RateKnowledge = %+v, %v", r, err)
	}
	deprecated := knowledge.StatusDeprecated
	e, err := c.UpdateKnowledge(ctx, "a", knowledge.UpdateInput{Status: &deprecated})
	if err != nil || e.Status != knowledge.StatusDeprecated {
		t.Errorf("UpdateKnowledge = %+v, %v", e, err)
	}
	if err := c.DeleteKnowledge(ctx, "a"); !IsNotFound(err) {
		t.Errorf("DeleteKnowledge = %v, want not found", err)
	}
}
