package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recanalyzer/recanalyzer/internal/codec"
	internalhttp "github.com/recanalyzer/recanalyzer/internal/http"
	"github.com/recanalyzer/recanalyzer/internal/http/handlers"
	"github.com/recanalyzer/recanalyzer/internal/its"
	"github.com/recanalyzer/recanalyzer/internal/maintenance"
	"github.com/recanalyzer/recanalyzer/internal/repository"
	"github.com/recanalyzer/recanalyzer/internal/service/analyze"
	"github.com/recanalyzer/recanalyzer/internal/service/record"
	"github.com/recanalyzer/recanalyzer/internal/service/track"
	"github.com/recanalyzer/recanalyzer/internal/supervisor"
	"github.com/recanalyzer/recanalyzer/internal/version"
	"github.com/recanalyzer/recanalyzer/internal/vision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recanalyzer server",
	Long: `Start the recanalyzer HTTP server and API.

The server provides:
- REST API for streams, tasks, and outputs
- JPEG previews of recorded videos
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	// Repositories. The task catalog is recovered before anything can
	// submit: tasks left PENDING or STARTED by a previous run are swept
	// to FAILED.
	taskRepo, err := repository.NewJSONTaskRepository(cfg.Storage.StateDir, logger)
	if err != nil {
		return fmt.Errorf("initializing task repository: %w", err)
	}
	if err := taskRepo.Recover(); err != nil {
		return fmt.Errorf("recovering task registry: %w", err)
	}
	outputRepo, err := repository.NewJSONOutputRepository(cfg.Storage.StateDir, cfg.Storage.OutputDir, logger)
	if err != nil {
		return fmt.Errorf("initializing output repository: %w", err)
	}
	streamRepo, err := repository.NewJSONStreamRepository(cfg.Storage.StateDir)
	if err != nil {
		return fmt.Errorf("initializing stream repository: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(taskRepo, logger)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	// Stream resolution against the national traffic directory.
	resolverOpts := []its.Option{
		its.WithLogger(logger),
		its.WithPlaylistValidation(cfg.ITS.ValidatePlaylist),
		its.WithCacheTTL(cfg.ITS.CacheTTL),
		its.WithHTTPClient(&http.Client{Timeout: cfg.ITS.Timeout}),
	}
	if cfg.ITS.Endpoint != "" {
		resolverOpts = append(resolverOpts, its.WithEndpoint(cfg.ITS.Endpoint))
	}
	resolver := its.NewClient(cfg.ITS.APIKey, resolverOpts...)

	prober := codec.NewProber(cfg.FFmpeg.ProbePath)
	previewer := codec.NewPreviewer(cfg.FFmpeg.BinaryPath, prober)
	detector := vision.NewHTTPDetector(cfg.Detector.Endpoint)

	recordService := record.New(taskRepo, outputRepo, streamRepo, resolver, sup,
		cfg.Storage.OutputDir, cfg.FFmpeg.BinaryPath, logger)
	trackService := track.New(taskRepo, outputRepo, sup, prober, detector,
		cfg.Storage.OutputDir, cfg.FFmpeg.BinaryPath, logger)
	analyzeService := analyze.New(taskRepo, outputRepo, sup, prober,
		cfg.Storage.OutputDir, cfg.FFmpeg.BinaryPath, logger)

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	handlers.NewHealthHandler(version.Version).Register(server.API())
	handlers.NewSystemHandler(cfg.Storage.OutputDir).Register(server.API())
	handlers.NewStreamHandler(streamRepo).Register(server.API())
	handlers.NewTaskHandler(recordService, trackService, analyzeService).
		Register(server.API(), server.Router())
	handlers.NewOutputHandler(outputRepo, previewer).
		Register(server.API(), server.Router())

	var sweeper *maintenance.Sweeper
	if cfg.Maintenance.Enabled {
		sweeper = maintenance.NewSweeper(outputRepo, cfg.Storage.OutputDir, cfg.Maintenance.Grace, logger)
		if err := sweeper.Start(cfg.Maintenance.Cron); err != nil {
			return fmt.Errorf("starting artifact sweeper: %w", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting recanalyzer server",
		slog.String("address", cfg.Server.Address()),
		slog.String("state_dir", cfg.Storage.StateDir),
		slog.String("output_dir", cfg.Storage.OutputDir),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	// Running tasks get their cancel flags set and a bounded window to
	// reach a terminal state before the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("supervisor shutdown incomplete", slog.String("error", err.Error()))
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}

	return serveErr
}
