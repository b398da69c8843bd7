package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createSessionRequest struct {
	Query    string `json:"query"`
	Project  string `json:"project,omitempty"`
	MaxSteps int    `json:"maxSteps,omitempty"`
}

// handleQuickQuery runs a whole retrieval session in one call and
// returns the synthesized answer.
func (s *Server) handleQuickQuery(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.deps.Memory.CreateSession(r.Context(), req.Query, req.Project, req.MaxSteps)
	if err != nil {
		writeError(w, err)
		return
	}
	final, err := s.deps.Memory.Run(r.Context(), sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.deps.Memory.CreateSession(r.Context(), req.Query, req.Project, req.MaxSteps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Memory.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Memory.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStepSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	done, err := s.deps.Memory.Step(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.deps.Memory.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"done": done, "session": sess})
}

func (s *Server) handleRunSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Memory.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionMemory(w http.ResponseWriter, r *http.Request) {
	data, err := s.deps.Memory.Memory(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Memory.SessionStats(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
