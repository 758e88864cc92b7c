package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/parley-ai/parley/api"
	"github.com/parley-ai/parley/config"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/engine"
	"github.com/parley-ai/parley/generation"
	genanthropic "github.com/parley-ai/parley/generation/anthropic"
	genopenai "github.com/parley-ai/parley/generation/openai"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/session"
	"github.com/parley-ai/parley/store"
	"github.com/parley-ai/parley/task"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "parley",
		Short:        "Conversational agent runtime",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	base := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Output:    os.Stdout,
		Component: "parley",
	})
	broadcaster := logging.NewBroadcaster(base)
	logger := logging.Logger(broadcaster)

	var sessions core.SessionStore
	if cfg.DBPath != "" {
		sqliteStore, err := session.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		sessions = sqliteStore
	} else {
		sessions = session.NewInMemoryStore()
	}

	registry := store.NewInMemory()
	if cfg.Definitions != "" {
		defs, err := config.LoadDefinitions(cfg.Definitions)
		if err != nil {
			return err
		}
		if err := defs.Apply(registry); err != nil {
			return err
		}
	}
	tools := store.NewToolRegistry(logger)

	var generator generation.SchematicGenerator
	switch cfg.Provider {
	case "anthropic":
		generator = genanthropic.NewGenerator(func(o *genanthropic.Options) {
			if cfg.ModelName != "" {
				o.Model = anthropic.Model(cfg.ModelName)
			}
		})
	case "openai":
		generator = genopenai.NewGenerator(func(o *genopenai.Options) {
			if cfg.ModelName != "" {
				o.Model = cfg.ModelName
			}
		})
	default:
		generator = generation.NewMockGenerator().Default(
			func(string, generation.Hints) (any, error) {
				return map[string]any{"message": "This is a mock deployment.", "adheres_to_guidelines": true}, nil
			})
	}

	eng := engine.New(func(o *engine.Options) {
		o.SessionStore = sessions
		o.AgentStore = registry
		o.CustomerStore = registry
		o.GuidelineStore = registry
		o.JourneyStore = registry
		o.GlossaryStore = registry
		o.VariableStore = registry
		o.CapabilityStore = registry
		o.CannedResponseStore = registry
		o.Associations = registry
		o.NodeAssociations = registry
		o.InspectionStore = registry
		o.ToolService = tools
		o.Generator = generator
		o.Logger = logger
	})

	tasks := task.NewService(logger)
	server := api.NewServer(func(o *api.Options) {
		o.SessionStore = sessions
		o.Engine = eng
		o.Tasks = tasks
		o.Logger = logger
		o.Broadcaster = broadcaster
		o.Registry = registry
		o.DefaultTimeout = cfg.RequestTimeout
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening port=%s provider=%s", cfg.Port, cfg.Provider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-shutdownCtx.Done():
	}

	logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tasks.Shutdown(drainCtx); err != nil {
		logger.Warn("task shutdown: %v", err)
	}
	return httpServer.Shutdown(drainCtx)
}
