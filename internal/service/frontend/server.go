// Package frontend exposes the orchestrator over HTTP: REST resources
// for tasks, DAGs, devices, retrieval sessions and configuration, plus a
// websocket event stream.
package frontend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/overseer-dev/overseer/internal/cmn/config"
	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/dagexec"
	"github.com/overseer-dev/overseer/internal/device"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/hgmem"
	"github.com/overseer-dev/overseer/internal/persistence/fileconfig"
	"github.com/overseer-dev/overseer/internal/persistence/filesettings"
	"github.com/overseer-dev/overseer/internal/persistence/filetask"
	"github.com/overseer-dev/overseer/internal/planner"
	"github.com/overseer-dev/overseer/internal/roles"
	"github.com/overseer-dev/overseer/internal/runtime"
)

// Deps collects the services the HTTP layer fronts.
type Deps struct {
	Config      *config.Config
	Tasks       *filetask.Store
	Runner      *runtime.Runner
	Executor    *dagexec.Executor
	Planner     *planner.Planner
	Devices     *device.Registry
	Queue       *device.Queue
	Memory      *hgmem.Engine
	ConfigStore *fileconfig.Store
	Settings    *filesettings.Store
	Roles       *roles.Registry
	Broadcaster *events.Broadcaster
}

// Server is the HTTP frontend.
type Server struct {
	deps       Deps
	httpServer *http.Server
}

// NewServer creates a server over the given dependencies.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler builds the full router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel: slog.LevelDebug,
		JSON:     s.deps.Config.LogFormat == "json",
		Concise:  true,
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RedirectSlashes)

	r.Get("/health", s.handleHealth)
	r.Get("/events", s.handleEvents)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Delete("/", s.handleDeleteAllTasks)
		r.Get("/{id}", s.handleGetTask)
		r.Delete("/{id}", s.handleDeleteTask)
		r.Post("/{id}/approve", s.handleApproveTask)
		r.Post("/{id}/reject", s.handleRejectTask)
		r.Post("/{id}/cancel", s.handleCancelTask)
		r.Get("/{id}/diff", s.handleTaskDiff)
	})

	r.Route("/dags", func(r chi.Router) {
		r.Get("/", s.handleListDAGs)
		r.Post("/", s.handleCreateDAG)
		r.Get("/{id}", s.handleGetDAG)
		r.Delete("/{id}", s.handleDeleteDAG)
		r.Post("/{id}/execute", s.handleExecuteDAG)
		r.Post("/{id}/nodes", s.handleInsertNode)
		r.Post("/{id}/nodes/{nid}/approve", s.handleApproveGate)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Post("/", s.handleCreateDevice)
		r.Post("/connect", s.handleConnectDevice)
		r.Post("/{id}/heartbeat", s.handleHeartbeat)
		r.Get("/{id}/tunnel", s.handleDeviceTunnel)
		r.Delete("/{id}", s.handleDeleteDevice)
	})

	r.Route("/device-tasks", func(r chi.Router) {
		r.Get("/{deviceID}", s.handlePollDeviceTasks)
		r.Post("/{id}/pick", s.handlePickDeviceTask)
		r.Post("/{id}/chunk", s.handleChunkDeviceTask)
		r.Post("/{id}/complete", s.handleCompleteDeviceTask)
		r.Post("/{id}/fail", s.handleFailDeviceTask)
	})

	r.Route("/hgmem", func(r chi.Router) {
		r.Post("/", s.handleQuickQuery)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Post("/{id}/step", s.handleStepSession)
			r.Post("/{id}/run", s.handleRunSession)
			r.Get("/{id}/memory", s.handleSessionMemory)
			r.Get("/{id}/stats", s.handleSessionStats)
		})
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", s.handleListConfig)
		r.Put("/{key}", s.handleSetConfig)
		r.Delete("/{key}", s.handleDeleteConfig)
	})

	r.Route("/roles", func(r chi.Router) {
		r.Get("/", s.handleListRoles)
		r.Put("/{id}", s.handleSetRole)
	})

	return r
}

// Serve runs the HTTP server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.deps.Config.Addr()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", tag.Path(addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info(shutdownCtx, "Shutting down HTTP server")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
