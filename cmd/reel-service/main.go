// main package for the reel-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/reel-service/internal/app"
	"github.com/book-expert/reel-service/internal/config"
	"github.com/book-expert/reel-service/internal/httpapi"
	"github.com/book-expert/reel-service/internal/objectstore"
	"github.com/book-expert/reel-service/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "reel-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig() (*config.Config, error) {
	bootstrapLog, err := logger.New(os.TempDir(), "reel-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to load .env file: %v", envErr)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	return cfg, nil
}

func connect(cfg *config.Config, log *logger.Logger) (*nats.Conn, *objectstore.NatsStore, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("reel-service"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to open artifact bucket: %w", err)
	}

	log.Info("Connected to NATS at %s, artifact bucket %s", natsConnection.ConnectedUrl(), cfg.NATS.ArtifactBucket)

	return natsConnection, store, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	credentials := config.EnvCredentials{}

	_, credErr := credentials.Credentials(context.Background())
	if credErr != nil {
		finalLog.Warn("Synthesis will fail until credentials are provided: %v", credErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsConnection, store, err := connect(cfg, finalLog)
	if err != nil {
		finalLog.Error("%v", err)

		return err
	}
	defer natsConnection.Close()

	built, err := app.Build(cfg, credentials, store, finalLog)
	if err != nil {
		finalLog.Error("Failed to build job service: %v", err)

		return fmt.Errorf("failed to build job service: %w", err)
	}

	defer func() {
		closeErr := built.Close()
		if closeErr != nil {
			finalLog.Error("%v", closeErr)
		}
	}()

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, cfg.NATS.JobRequestSubject, cfg.NATS.ManifestSubject, built.Service, finalLog,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	finalLog.System("Reel-Service successfully initialized. Listening for jobs on subject: %s", cfg.NATS.JobRequestSubject)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return natsWorker.Run(groupCtx)
	})

	if cfg.HTTP.Addr != "" {
		api := httpapi.New(built.Service, store, historyReader(built), finalLog)

		group.Go(func() error {
			return api.Run(groupCtx, cfg.HTTP.Addr)
		})
	}

	err = group.Wait()
	if err != nil {
		finalLog.Error("Service stopped with error: %v", err)

		return err
	}

	finalLog.System("Reel-Service stopped.")

	return nil
}

// historyReader avoids handing the API a typed nil when history is disabled.
func historyReader(built *app.App) httpapi.HistoryReader {
	if built.History == nil {
		return nil
	}

	return built.History
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
