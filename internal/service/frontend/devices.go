package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/device"
)

type createDeviceRequest struct {
	Name string   `json:"name"`
	Type string   `json:"type,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, core.Validation("device name is required"))
		return
	}
	created, err := s.deps.Devices.Create(r.Context(), req.Name, req.Type, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Devices.List())
}

func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	var req device.ConnectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dev, err := s.deps.Devices.Connect(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

type heartbeatRequest struct {
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	dev, err := s.deps.Devices.Heartbeat(r.Context(), chi.URLParam(r, "id"), req.Capabilities)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDeviceTunnel(w http.ResponseWriter, r *http.Request) {
	dev, err := s.deps.Devices.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if dev.Tunnel == nil {
		writeError(w, core.NotFound("device tunnel", dev.ID))
		return
	}
	writeJSON(w, http.StatusOK, dev.Tunnel)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Devices.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollDeviceTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.PendingForDevice(chi.URLParam(r, "deviceID")))
}

func (s *Server) handlePickDeviceTask(w http.ResponseWriter, r *http.Request) {
	dt, err := s.deps.Queue.Pick(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dt)
}

type chunkRequest struct {
	Chunk string `json:"chunk"`
}

func (s *Server) handleChunkDeviceTask(w http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Queue.AppendChunk(r.Context(), chi.URLParam(r, "id"), req.Chunk); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type completeRequest struct {
	Output string `json:"output,omitempty"`
}

func (s *Server) handleCompleteDeviceTask(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	dt, err := s.deps.Queue.Complete(r.Context(), chi.URLParam(r, "id"), req.Output)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dt)
}

type failRequest struct {
	Error string `json:"error,omitempty"`
}

func (s *Server) handleFailDeviceTask(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	dt, err := s.deps.Queue.Fail(r.Context(), chi.URLParam(r, "id"), req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dt)
}
