// Studyd is an event-driven study pipeline: documents go in, knowledge
// snapshots and quizzes come out.
//
// The binary runs everything in one process: the HTTP API, the ingestion
// worker, the knowledge indexer, and the quiz generator, connected by a
// durable bus. With the default in-memory bus it is fully self-contained;
// with the jetstream provider multiple instances share the work.
//
// Usage:
//
//	# Start with defaults (memory bus, local SQLite, in-memory blobs)
//	studyd
//
//	# Configure via file and environment
//	studyd -config /etc/studyd/config.yaml
//	STUDYD_SERVER_PORT=9090 STUDYD_BUS_PROVIDER=jetstream studyd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/bus"
	"github.com/fyrsmithlabs/studyd/internal/config"
	"github.com/fyrsmithlabs/studyd/internal/httpapi"
	"github.com/fyrsmithlabs/studyd/internal/ingest"
	"github.com/fyrsmithlabs/studyd/internal/knowledge"
	"github.com/fyrsmithlabs/studyd/internal/pipeline"
	"github.com/fyrsmithlabs/studyd/internal/quiz"
	"github.com/fyrsmithlabs/studyd/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  studyd           Start the studyd server\n")
			fmt.Fprintf(os.Stderr, "  studyd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("studyd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts studyd and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Opens the record store and blob store
//  4. Connects the bus (memory, external JetStream, or embedded server)
//  5. Subscribes the three workers
//  6. Starts the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting studyd",
		zap.String("service", cfg.Observability.ServiceName),
		zap.Int("port", cfg.Server.Port),
		zap.String("bus", cfg.Bus.Provider),
		zap.String("blobs", cfg.Storage.Blob.Provider))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	if err := startWorkers(ctx, cfg, deps, logger); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	grader, err := quiz.NewGrader(deps.store, logger)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(deps.store, deps.blobs, deps.bus, grader, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Observability.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store  *store.Store
	blobs  store.BlobStore
	bus    bus.Bus
	embeds *natsserver.Server
	logger *zap.Logger
}

// Close releases dependencies in reverse initialization order.
func (d *dependencies) Close() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.embeds != nil {
		d.embeds.Shutdown()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	s, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.store = s

	blobs, err := initBlobs(ctx, cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.blobs = blobs

	b, embedded, err := initBus(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.bus = b
	deps.embeds = embedded

	return deps, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	s, err := store.Open(cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Storage.Path, err)
	}
	logger.Info("Store opened", zap.String("path", cfg.Storage.Path))
	return s, nil
}

func initBlobs(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.BlobStore, error) {
	switch cfg.Storage.Blob.Provider {
	case "minio":
		blobs, err := store.NewMinioBlobStore(ctx, store.MinioConfig{
			Endpoint:  cfg.Storage.Blob.Endpoint,
			AccessKey: cfg.Storage.Blob.AccessKey,
			SecretKey: cfg.Storage.Blob.SecretKey.Value(),
			Bucket:    cfg.Storage.Blob.Bucket,
			Region:    cfg.Storage.Blob.Region,
			UseSSL:    cfg.Storage.Blob.UseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect blob store: %w", err)
		}
		logger.Info("Blob store connected",
			zap.String("endpoint", cfg.Storage.Blob.Endpoint),
			zap.String("bucket", cfg.Storage.Blob.Bucket))
		return blobs, nil
	default:
		logger.Info("Using in-memory blob store")
		return store.NewMemoryBlobStore(), nil
	}
}

func initBus(cfg *config.Config, logger *zap.Logger) (bus.Bus, *natsserver.Server, error) {
	retry := bus.RetryPolicy{
		Base:   cfg.Bus.RetryBase.Duration(),
		Cap:    cfg.Bus.RetryCap.Duration(),
		MaxAge: cfg.Bus.MaxAge.Duration(),
	}

	if cfg.Bus.Provider == "memory" {
		logger.Info("Using in-memory bus")
		return bus.NewMemory(bus.MemoryConfig{Retry: retry}, logger), nil, nil
	}

	url := cfg.Bus.URL
	var embedded *natsserver.Server
	if cfg.Bus.Embedded {
		srv, err := startEmbeddedNATS(cfg)
		if err != nil {
			return nil, nil, err
		}
		embedded = srv
		url = srv.ClientURL()
		logger.Info("Embedded NATS server started", zap.String("url", url))
	}

	js, err := bus.NewJetStream(bus.JetStreamConfig{
		URL:     url,
		Stream:  cfg.Bus.Stream,
		Retry:   retry,
		AckWait: cfg.Pipeline.HandlerTimeout.Duration() + 10*time.Second,
	}, logger)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("failed to connect bus at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", url), zap.String("stream", cfg.Bus.Stream))
	return js, embedded, nil
}

func startEmbeddedNATS(cfg *config.Config) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  cfg.Bus.StoreDir,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server did not become ready")
	}
	return srv, nil
}

// startWorkers subscribes the three pipeline workers, each with its own
// dispatcher sharing the store-backed idempotency keys.
func startWorkers(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) error {
	pipelineCfg := &pipeline.Config{
		HandlerTimeout:      cfg.Pipeline.HandlerTimeout.Duration(),
		NotReadyMaxAttempts: cfg.Pipeline.NotReadyMaxAttempts,
	}
	newDispatcher := func() (*pipeline.Dispatcher, error) {
		return pipeline.NewDispatcher(pipelineCfg, deps.store, logger)
	}

	d, err := newDispatcher()
	if err != nil {
		return err
	}
	ingestWorker, err := ingest.NewWorker(deps.store, deps.blobs, deps.bus, d, logger)
	if err != nil {
		return err
	}
	if err := ingestWorker.Run(ctx); err != nil {
		return fmt.Errorf("failed to start ingestion worker: %w", err)
	}

	if d, err = newDispatcher(); err != nil {
		return err
	}
	indexer, err := knowledge.NewIndexer(deps.store, deps.bus, d, logger)
	if err != nil {
		return err
	}
	if err := indexer.Run(ctx); err != nil {
		return fmt.Errorf("failed to start knowledge indexer: %w", err)
	}

	if d, err = newDispatcher(); err != nil {
		return err
	}
	generator, err := quiz.NewGenerator(deps.store, deps.bus, d, logger)
	if err != nil {
		return err
	}
	if err := generator.Run(ctx); err != nil {
		return fmt.Errorf("failed to start quiz generator: %w", err)
	}

	logger.Info("Workers started",
		zap.Strings("consumers", []string{"ingest", "knowledge", "quizgen"}))
	return nil
}
