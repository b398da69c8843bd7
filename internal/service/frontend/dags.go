package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/planner"
)

// createDAGRequest accepts either a fully-formed graph or a brief for
// the planner to expand.
type createDAGRequest struct {
	Brief   string `json:"brief,omitempty"`
	Context string `json:"context,omitempty"`

	Name     string       `json:"name,omitempty"`
	Project  string       `json:"project,omitempty"`
	Approval string       `json:"approval,omitempty"`
	Nodes    []*core.Node `json:"nodes,omitempty"`
	Edges    []core.Edge  `json:"edges,omitempty"`

	Execute bool `json:"execute,omitempty"`
}

func (s *Server) handleCreateDAG(w http.ResponseWriter, r *http.Request) {
	var req createDAGRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var d *core.DAG
	if req.Brief != "" {
		plan, err := s.deps.Planner.PlanBrief(r.Context(), planner.Input{
			Project: req.Project,
			Brief:   req.Brief,
			Context: req.Context,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		d = plan.ToDAG(req.Project)
	} else {
		d = &core.DAG{
			Name:      req.Name,
			Project:   req.Project,
			CreatedBy: "manual",
			Approval:  core.ApprovalMode(req.Approval),
			Nodes:     req.Nodes,
			Edges:     req.Edges,
		}
	}

	if err := s.deps.Executor.Create(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	if req.Execute {
		if err := s.deps.Executor.Execute(r.Context(), d.ID); err != nil {
			writeError(w, err)
			return
		}
	}
	// Respond with a store snapshot; the executor may already be
	// mutating the record we handed it.
	created, err := s.deps.Executor.Get(d.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDAGs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Executor.List())
}

func (s *Server) handleGetDAG(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Executor.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDAG(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Executor.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecuteDAG(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Executor.Execute(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.deps.Executor.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type insertNodeRequest struct {
	Node  *core.Node  `json:"node"`
	Edges []core.Edge `json:"edges,omitempty"`
}

func (s *Server) handleInsertNode(w http.ResponseWriter, r *http.Request) {
	var req insertNodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Node == nil {
		writeError(w, core.Validation("node is required"))
		return
	}
	if err := s.deps.Executor.InsertNode(r.Context(), chi.URLParam(r, "id"), req.Node, req.Edges); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req.Node)
}

func (s *Server) handleApproveGate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Executor.ApproveGate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "nid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
