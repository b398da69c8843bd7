package frontend

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/overseer-dev/overseer/internal/core"
)

type createTaskRequest struct {
	Owner    string   `json:"owner"`
	Project  string   `json:"project,omitempty"`
	Title    string   `json:"title"`
	Briefing string   `json:"briefing"`
	Role     string   `json:"role,omitempty"`
	Model    string   `json:"model,omitempty"`
	Agent    string   `json:"agent,omitempty"`
	DeviceID string   `json:"deviceId,omitempty"`
	Allow    []string `json:"allow,omitempty"`
	Deny     []string `json:"deny,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Briefing == "" {
		writeError(w, core.Validation("briefing is required"))
		return
	}
	agent := core.AgentKind(req.Agent)
	if agent == "" {
		agent = core.AgentLocalClaude
	}
	allow, deny := req.Allow, req.Deny
	deviceID := req.DeviceID
	if req.Role != "" {
		if role, ok := s.deps.Roles.Get(req.Role); ok {
			if len(allow) == 0 && len(deny) == 0 {
				allow, deny = role.Allow, role.Deny
			}
			if deviceID == "" {
				deviceID = role.DefaultDevice
			}
		}
	}
	if agent == core.AgentRemoteDevice && deviceID == "" {
		writeError(w, core.Validation("deviceId is required for remote-device tasks"))
		return
	}
	task := &core.Task{
		ID:        core.NewID(),
		Owner:     req.Owner,
		Project:   req.Project,
		Title:     req.Title,
		Briefing:  req.Briefing,
		Role:      req.Role,
		Model:     req.Model,
		Agent:     agent,
		DeviceID:  deviceID,
		Allow:     allow,
		Deny:      deny,
		Status:    core.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Tasks.Create(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Runner.Start(r.Context(), task)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tasks.List(r.URL.Query().Get("owner")))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllTasks(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tasks.DeleteAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	s.reviewTask(w, r, core.TaskCompleted)
}

func (s *Server) handleRejectTask(w http.ResponseWriter, r *http.Request) {
	s.reviewTask(w, r, core.TaskRejected)
}

func (s *Server) reviewTask(w http.ResponseWriter, r *http.Request, verdict core.TaskStatus) {
	id := chi.URLParam(r, "id")
	var conflict error
	task, err := s.deps.Tasks.Update(r.Context(), id, func(t *core.Task) {
		if t.Status != core.TaskReviewing {
			conflict = core.Conflict("task %s is not under review", id)
			return
		}
		t.Status = verdict
		now := time.Now().UTC()
		t.CompletedAt = &now
	})
	if err == nil {
		err = conflict
	}
	if err != nil {
		writeError(w, err)
		return
	}
	payload := map[string]any{"taskId": task.ID, "status": string(task.Status)}
	s.deps.Broadcaster.Broadcast(core.NewEvent(core.EventTaskUpdated, payload))
	if verdict == core.TaskCompleted {
		s.deps.Broadcaster.Broadcast(core.NewEvent(core.EventTaskCompleted, payload))
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTaskDiff(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": task.ID, "diff": task.Diff})
}
