package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/photosync/mediaindex/internal/config"
	"github.com/photosync/mediaindex/internal/handlers"
	"github.com/photosync/mediaindex/internal/observability"
	"github.com/photosync/mediaindex/internal/repository"
	"github.com/photosync/mediaindex/internal/services"
	"github.com/photosync/mediaindex/internal/workers"
)

const (
	serviceName    = "mediaindex"
	serviceVersion = "1.0.0"
)

const usage = `usage: mediaindex <command> [flags]

commands:
  serve              run the HTTP ingestion API
  findmedia [dir...] crawl the storage root (or the given subdirectories) and index every file
  watch [dir]        index files as they appear below the storage root
  sweep [dir]        report files no record points at and interrupted writes
`

// app is everything a command needs, built once from configuration
type app struct {
	cfg        *config.Config
	store      *repository.Store
	collection *services.CollectionService
	scanner    *services.FileScannerService
	telemetry  *observability.Telemetry
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	debug := fs.Bool("debug", false, "log at DEBUG and log every SQL statement")
	fs.Parse(args)
	if *debug {
		observability.GetLogger().SetLevel(observability.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, *debug)
	if err != nil {
		observability.Errorf("Failed to start: %v", err)
		os.Exit(1)
	}
	defer a.close()

	switch command {
	case "serve":
		err = a.serve(ctx)
	case "findmedia":
		_, err = a.scanner.Scan(ctx, fs.Args()...)
	case "watch":
		err = a.scanner.Watch(ctx, fs.Arg(0))
	case "sweep":
		err = a.sweep(ctx, fs.Arg(0))
	default:
		fmt.Fprint(os.Stderr, usage)
		a.close()
		os.Exit(2)
	}

	if err != nil {
		observability.Errorf("%s failed: %v", command, err)
		a.close()
		os.Exit(1)
	}
}

func setup(ctx context.Context, debug bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	telemetry, err := observability.Initialize(ctx, observability.NewConfig(serviceName, serviceVersion))
	if err != nil {
		observability.Warnf("Failed to initialize telemetry: %v", err)
	}

	store, err := repository.Open(ctx, repository.Options{
		DatabaseURL:    cfg.DatabaseURL,
		DatabasePath:   cfg.DatabasePath,
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		MinIdleConns:   cfg.Database.MinIdleConns,
		AcquireTimeout: cfg.Database.AcquireTimeout(),
		LogQueries:     debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	storage, err := services.NewMediaStorageService(cfg.Storage.Root, cfg.Storage.MaxFileSizeMB)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	backend := services.NewFFmpegBackend(cfg.Video.FFmpegPath, cfg.Video.FFprobePath)
	if err := backend.Available(); err != nil {
		observability.Warnf("ffmpeg/ffprobe not available, video ingestion will fail: %v", err)
	}

	collection := services.NewCollectionService(
		store,
		storage,
		services.NewEXIFService(),
		services.NewThumbnailService(cfg.Thumbnail.Size, cfg.Thumbnail.ImageQuality),
		services.NewVideoService(backend, cfg.Thumbnail.Size, cfg.Thumbnail.MaxWidth, cfg.Thumbnail.VideoQuality),
		workers.NewPool(cfg.Workers.Decode),
		cfg.DefaultStory,
	)
	if metrics, err := observability.NewIngestMetrics(); err != nil {
		observability.Warnf("Failed to create ingest metrics: %v", err)
	} else {
		collection.SetMetrics(metrics)
	}

	observability.WithFields(map[string]interface{}{
		"root":     cfg.Storage.Root,
		"dialect":  store.Dialect(),
		"workers":  cfg.Workers.Decode,
		"maxMB":    cfg.Storage.MaxFileSizeMB,
		"fallback": cfg.DefaultStory,
	}).Info("collection ready")

	return &app{
		cfg:        cfg,
		store:      store,
		collection: collection,
		scanner:    services.NewFileScannerService(collection),
		telemetry:  telemetry,
	}, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			observability.Warnf("Telemetry shutdown: %v", err)
		}
		a.telemetry = nil
	}
}

func (a *app) serve(ctx context.Context) error {
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		observability.Warnf("Failed to create HTTP metrics: %v", err)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		ServiceName: serviceName,
		Media:       handlers.NewMediaHandler(a.collection, a.cfg.Storage.MaxFileSizeMB),
		Scanner:     handlers.NewScannerHandler(a.scanner),
		Health:      handlers.NewHealthHandler(a.store),
		Metrics:     httpMetrics,
	})

	srv := &http.Server{
		Addr:         a.cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for uploads
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.WithField("addr", a.cfg.ServerAddress).Info("mediaindex starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	observability.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	observability.Info("Server stopped")
	return nil
}

func (a *app) sweep(ctx context.Context, dir string) error {
	report, err := a.scanner.OrphanSweep(ctx, dir)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}
	return err
}
