package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"audioseg/api"
	"audioseg/config"
	"audioseg/logger"
	"audioseg/pipeline"
	"audioseg/storage"
	"audioseg/task"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP server exposing the streaming /api/v1/process endpoint and the polled /api/v1/tasks endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newTaskStore(ctx context.Context, cfg *config.Config) (task.Store, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("Using in-memory task store")
		return task.NewMemoryStore(), func() {}, nil
	}
	client, err := task.ConnectRedis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using Redis task store", logger.String("addr", cfg.RedisAddr))
	return task.NewRedisStore(client, cfg.RedisPrefix, cfg.TaskRetention), func() { client.Close() }, nil
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	minioClient, err := storage.NewMinio(ctx, cfg)
	if err != nil {
		return err
	}
	var objects pipeline.ObjectStorage
	if minioClient != nil {
		objects = minioClient
		logger.Info("Object storage enabled", logger.String("endpoint", cfg.MinioEndpoint), logger.String("bucket", cfg.MinioBucket))
	}

	orchestrator, err := pipeline.NewFromConfig(cfg, objects)
	if err != nil {
		return err
	}

	store, closeStore, err := newTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	taskManager, err := task.NewManager(cfg, store, orchestrator)
	if err != nil {
		return err
	}

	router := api.SetupRouter(taskManager, orchestrator, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	taskManager.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Restore default behavior on the interrupt signal.
	stop()
	logger.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.Err(err))
		return err
	}

	logger.Info("Server exiting")
	return nil
}
