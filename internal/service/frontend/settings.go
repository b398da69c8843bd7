package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/persistence/filesettings"
)

func (s *Server) handleListConfig(w http.ResponseWriter, _ *http.Request) {
	views, err := s.deps.ConfigStore.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type setConfigRequest struct {
	Value       string `json:"value"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Masked      bool   `json:"masked,omitempty"`
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req setConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.deps.ConfigStore.Set(r.Context(), key, req.Value, req.Category, req.Description, req.Masked); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ConfigStore.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRoles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Roles.List())
}

type setRoleRequest struct {
	DisplayName   string `json:"displayName,omitempty"`
	DefaultModel  string `json:"defaultModel,omitempty"`
	DefaultDevice string `json:"defaultDevice,omitempty"`
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Roles.Get(id); !ok {
		writeError(w, core.NotFound("role", id))
		return
	}
	var req setRoleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.deps.Settings.SetRole(r.Context(), id, filesettings.RoleSettings{
		DisplayName:   req.DisplayName,
		DefaultModel:  req.DefaultModel,
		DefaultDevice: req.DefaultDevice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	role, _ := s.deps.Roles.Get(id)
	writeJSON(w, http.StatusOK, role)
}
