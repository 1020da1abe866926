package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-batch/internal/batch"
	"github.com/kozaktomas/face-batch/internal/config"
	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/imagecheck"
	"github.com/kozaktomas/face-batch/internal/jobs"
	"github.com/kozaktomas/face-batch/internal/logging"
	"github.com/kozaktomas/face-batch/internal/metrics"
	"github.com/kozaktomas/face-batch/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the batch comparison server",
	Long: `Start the Face Batch HTTP server.
The server accepts synchronous batches and chunked jobs and forwards every
image to the face recognition service configured by RECOGNIZER_URL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// applyServeFlags lets explicit flags win over the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = mustGetString(cmd, "host")
	}
}

// buildProcessor wires the recognizer client, registry and metrics together.
func buildProcessor(cfg *config.Config, logger *slog.Logger) (*batch.ChunkProcessor, error) {
	recognizer, err := facematch.NewClient(facematch.ClientConfig{
		BaseURL:     cfg.Recognizer.URL,
		Timeout:     cfg.Recognizer.Timeout,
		CacheSize:   cfg.Recognizer.CacheSize,
		MaxImageDim: cfg.Recognizer.MaxImageDim,
	})
	if err != nil {
		return nil, fmt.Errorf("creating recognizer client: %w", err)
	}

	orchestrator := batch.NewOrchestrator(recognizer, batch.Options{
		Threshold:   cfg.Batch.SimilarityThreshold,
		Concurrency: cfg.Batch.Concurrency,
		Limits: imagecheck.Limits{
			MinSize:     cfg.Batch.MinImageSize,
			MaxSize:     cfg.Batch.MaxImageSize,
			AllowedMIME: cfg.Batch.AllowedMIMETypes,
		},
		Logger: logger,
	})

	registry := jobs.NewRegistry(
		jobs.WithRetention(cfg.Batch.JobRetention),
		jobs.WithSweepInterval(cfg.Batch.SweepInterval),
		jobs.WithLogger(logger),
	)

	return batch.NewChunkProcessor(orchestrator, registry, batch.ProcessorOptions{
		MaxTargetsPerChunk: cfg.Batch.MaxTargetsPerChunk,
		Metrics:            metrics.NewMetrics(),
		Logger:             logger,
	}), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	processor, err := buildProcessor(cfg, logger)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, processor, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("face-batch ready",
		slog.String("addr", cfg.Server.Addr()),
		slog.String("recognizer", cfg.Recognizer.URL),
		slog.Float64("threshold", cfg.Batch.SimilarityThreshold),
		slog.Int("concurrency", cfg.Batch.Concurrency))

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
