package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/swarm/internal/knowledge"
)

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.opts.Knowledge.List(knowledge.ListFilter{
		Status:   knowledge.Status(q.Get("status")),
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Sort:     knowledge.Sort(q.Get("sort")),
	}))
}

func (s *Server) handleCreateKnowledge(w http.ResponseWriter, r *http.Request) {
	var in knowledge.CreateInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.opts.Knowledge.Create(in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleSyncKnowledge(w http.ResponseWriter, r *http.Request) {
	n, err := s.opts.Knowledge.Sync()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": n})
}

func (s *Server) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	e, err := s.opts.Knowledge.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateKnowledge(w http.ResponseWriter, r *http.Request) {
	var in knowledge.UpdateInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.opts.Knowledge.Update(chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Knowledge.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleKnowledgePrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.opts.Knowledge.Prompt(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleRateKnowledge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Score int `json:"score"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	rating, err := s.opts.Knowledge.Rate(chi.URLParam(r, "id"), body.Score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}
