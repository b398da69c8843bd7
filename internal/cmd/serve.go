// Package cmd wires the orchestrator's subcommands: construction of the
// stores, services and HTTP frontend lives here so main stays minimal.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	chromem "github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/overseer-dev/overseer/internal/cmn/config"
	"github.com/overseer-dev/overseer/internal/cmn/crypto"
	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/dagexec"
	"github.com/overseer-dev/overseer/internal/device"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/hgmem"
	"github.com/overseer-dev/overseer/internal/knowledge"
	"github.com/overseer-dev/overseer/internal/llm"
	"github.com/overseer-dev/overseer/internal/persistence/fileconfig"
	"github.com/overseer-dev/overseer/internal/persistence/filedag"
	"github.com/overseer-dev/overseer/internal/persistence/filedevice"
	"github.com/overseer-dev/overseer/internal/persistence/filequeue"
	"github.com/overseer-dev/overseer/internal/persistence/filesession"
	"github.com/overseer-dev/overseer/internal/persistence/filesettings"
	"github.com/overseer-dev/overseer/internal/persistence/filetask"
	"github.com/overseer-dev/overseer/internal/planner"
	"github.com/overseer-dev/overseer/internal/roles"
	"github.com/overseer-dev/overseer/internal/runtime"
	"github.com/overseer-dev/overseer/internal/service/frontend"
)

// Serve returns the command that runs the orchestrator server.
func Serve() *cobra.Command {
	var (
		cfgFile string
		host    string
		port    int
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Start the orchestrator server",
		Long: `Start the orchestrator: the HTTP API, the task runner, the DAG
executor, the device registry and the working-memory engine.

State is persisted as JSON files under the data directory, so a restart
resumes interrupted DAGs and keeps device-queued tasks alive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "host address to bind to")
	cmd.Flags().IntVar(&port, "port", 4200, "port to listen on")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for persisted state")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	lg := logger.NewLogger(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithFormat(cfg.LogFormat),
	)
	ctx = logger.WithLogger(ctx, lg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}

	broadcaster := events.NewBroadcaster()

	tasks := filetask.New(ctx, cfg.StateFile("tasks.json"))
	dags := filedag.New(ctx, cfg.StateFile("dags.json"))
	queueStore := filequeue.New(ctx, cfg.StateFile("device-tasks.json"))
	settings := filesettings.New(ctx, cfg.StateFile("settings.json"))
	sessions := filesession.New(ctx, cfg.StateFile("hgmem-sessions.json"))

	enc, err := crypto.NewEncryptor(cfg.MasterSecret)
	if err != nil {
		return err
	}
	configStore := fileconfig.New(ctx, cfg.StateFile("config.json"), enc)

	reg := roles.NewRegistry(settings)
	queue := device.NewQueue(queueStore, broadcaster)
	devices := device.NewRegistry(filedevice.New(ctx, cfg.StateFile("devices.json")), queue, broadcaster)

	adapter := knowledgeAdapter(ctx, cfg)

	runner := runtime.New(tasks, queue, reg, adapter, broadcaster, runtime.Config{
		ProjectsRoot:      cfg.ProjectsRoot,
		TaskTimeout:       cfg.TaskTimeout,
		DeviceWaitTimeout: cfg.DeviceWaitTimeout,
	})
	executor := dagexec.New(dags, tasks, runner, reg, broadcaster)

	client := llm.NewHTTPClient(llm.Config{BaseURL: cfg.ProviderBaseURL, APIKey: cfg.ProviderAPIKey})
	plan := planner.New(client, reg, cfg.PlannerModel)
	memory := hgmem.New(sessions, adapter, client, cfg.MemoryModel, broadcaster)

	// Restart recovery. Tasks still waiting on a device queue survive;
	// everything else that was in flight is failed, then running DAGs are
	// re-advanced so their downstream work is not stranded.
	keepAlive := queueStore.PendingTaskIDs()
	tasks.RecoverInterrupted(ctx, keepAlive)
	dags.RecoverInterrupted(ctx)
	executor.RecoverRunning(ctx)
	logger.Info(ctx, "Restart recovery complete", tag.Count(len(keepAlive)))

	server := frontend.NewServer(frontend.Deps{
		Config:      cfg,
		Tasks:       tasks,
		Runner:      runner,
		Executor:    executor,
		Planner:     plan,
		Devices:     devices,
		Queue:       queue,
		Memory:      memory,
		ConfigStore: configStore,
		Settings:    settings,
		Roles:       reg,
		Broadcaster: broadcaster,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		devices.RunHealthSweep(ctx)
		return nil
	})
	g.Go(func() error {
		return server.Serve(ctx)
	})
	return g.Wait()
}

// knowledgeAdapter opens the document store when an embedding-capable
// provider is configured, and degrades to an empty adapter otherwise.
func knowledgeAdapter(ctx context.Context, cfg *config.Config) knowledge.Adapter {
	if cfg.EmbeddingModel == "" {
		return knowledge.Empty{}
	}
	return knowledge.NewStore(ctx, knowledge.Config{
		PersistPath: cfg.StateFile("knowledge"),
		Embedding: chromem.NewEmbeddingFuncOpenAICompat(
			cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.EmbeddingModel, nil),
	})
}
