package gateway

import (
	"net/http"
	"testing"

	"github.com/dohr-michael/swarm/internal/knowledge"
)

func TestKnowledgeRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/knowledge", `{"title":"Fix Flaky Tests","description":"retry less","promptTemplate":"Find the race"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	e := decode[knowledge.Entry](t, w)
	if e.ID != "fix-flaky-tests" || e.Status != knowledge.StatusActive {
		t.Errorf("created = %+v", e)
	}

	if w := env.do(t, http.MethodPost, "/knowledge", `{"title":"fix flaky tests","description":"d","promptTemplate":"p"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate: %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/knowledge", `{"title":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid: %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/knowledge/fix-flaky-tests/rate", `{"score":4}`)
	if r := decode[knowledge.Rating](t, w); r.Count != 1 || r.Average != 4 {
		t.Errorf("rate = %+v", r)
	}
	if w := env.do(t, http.MethodPost, "/knowledge/fix-flaky-tests/rate", `{"score":9}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad score: %d", w.Code)
	}

	w = env.do(t, http.MethodPatch, "/knowledge/fix-flaky-tests", `{"status":"draft"}`)
	if got := decode[knowledge.Entry](t, w); got.Status != knowledge.StatusDraft {
		t.Errorf("patch = %+v", got)
	}

	w = env.do(t, http.MethodGet, "/knowledge?status=draft", "")
	if list := decode[[]knowledge.Entry](t, w); len(list) != 1 {
		t.Errorf("list draft = %d", len(list))
	}
	w = env.do(t, http.MethodGet, "/knowledge?status=active", "")
	if list := decode[[]knowledge.Entry](t, w); len(list) != 0 {
		t.Errorf("list active = %d", len(list))
	}

	w = env.do(t, http.MethodGet, "/knowledge/fix-flaky-tests/prompt", "")
	if got := decode[map[string]string](t, w); got["prompt"] != "Find the race" {
		t.Errorf("prompt = %v", got)
	}

	w = env.do(t, http.MethodPost, "/knowledge/sync", "")
	if got := decode[map[string]int](t, w); got["synced"] != 1 {
		t.Errorf("sync = %v", got)
	}

	if w := env.do(t, http.MethodDelete, "/knowledge/fix-flaky-tests", ""); w.Code != http.StatusOK {
		t.Errorf("delete: %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/knowledge/fix-flaky-tests", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", w.Code)
	}
	if body := decode[errorEnvelope](t, w); body.Error.Code != CodeNotFound || body.Error.Message != "Knowledge entry not found" {
		t.Errorf("error = %+v", body.Error)
	}
}
