// Package main wires together the research service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/api"
	"github.com/Eli-Gooding/research-v1-sub000/internal/clock/system"
	"github.com/Eli-Gooding/research-v1-sub000/internal/compiler"
	"github.com/Eli-Gooding/research-v1-sub000/internal/completion"
	openaiclient "github.com/Eli-Gooding/research-v1-sub000/internal/completion/openai"
	"github.com/Eli-Gooding/research-v1-sub000/internal/config"
	"github.com/Eli-Gooding/research-v1-sub000/internal/detector"
	eventspubsub "github.com/Eli-Gooding/research-v1-sub000/internal/events/pubsub"
	"github.com/Eli-Gooding/research-v1-sub000/internal/extractor"
	collyfetcher "github.com/Eli-Gooding/research-v1-sub000/internal/fetcher/colly"
	headlessfetcher "github.com/Eli-Gooding/research-v1-sub000/internal/fetcher/headless"
	"github.com/Eli-Gooding/research-v1-sub000/internal/id/uuid"
	"github.com/Eli-Gooding/research-v1-sub000/internal/logging"
	"github.com/Eli-Gooding/research-v1-sub000/internal/orchestrator"
	"github.com/Eli-Gooding/research-v1-sub000/internal/progress"
	"github.com/Eli-Gooding/research-v1-sub000/internal/progress/sinks"
	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
	gcsstorage "github.com/Eli-Gooding/research-v1-sub000/internal/storage/gcs"
	localstorage "github.com/Eli-Gooding/research-v1-sub000/internal/storage/local"
	memorystorage "github.com/Eli-Gooding/research-v1-sub000/internal/storage/memory"
	postgresstorage "github.com/Eli-Gooding/research-v1-sub000/internal/storage/postgres"
	"github.com/Eli-Gooding/research-v1-sub000/internal/task"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	jobStore, closeJobStore, err := newJobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	defer closeJobStore()

	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	prices := research.Prices{
		PromptPer1K:     cfg.Research.PromptPer1K,
		CompletionPer1K: cfg.Research.CompletionPer1K,
	}
	completer, err := newCompleter(cfg, prices, logger)
	if err != nil {
		return fmt.Errorf("init completer: %w", err)
	}

	ext := newExtractor(cfg, logger)
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	registry := prometheus.NewRegistry()
	hub, stopHub, err := newProgressHub(ctx, cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("init progress hub: %w", err)
	}
	defer stopHub()

	manager := task.New(jobStore, blobStore, ext, completer, clock, idGen, task.Config{
		Model:       cfg.Research.Model,
		MaxTokens:   cfg.Research.MaxTokens,
		Temperature: cfg.Research.Temperature,
		BlobPrefix:  cfg.Storage.Prefix,
		Categories:  cfg.Research.Categories,
		Prices:      prices,
	}, logger)
	manager.SetEvents(hub)

	comp := compiler.New(manager, blobStore, logger)
	orch := orchestrator.New(manager, blobStore, comp, orchestrator.Config{
		MaxParallel: cfg.Research.MaxParallel,
	}, logger)
	manager.SetAnalyzer(orch)

	apiServer := api.NewServer(manager, blobStore, registry, api.Config{
		Auth: api.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			APIKey:  cfg.Auth.APIKey,
		},
		RequestTimeout: cfg.ServerTimeout(),
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("manager shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func newJobStore(ctx context.Context, cfg config.Config) (research.JobStore, func(), error) {
	switch cfg.Storage.JobStore {
	case "postgres":
		store, err := postgresstorage.NewJobStore(ctx, postgresstorage.JobStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: int32(cfg.DB.MaxConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return memorystorage.NewJobStore(), func() {}, nil
	}
}

func newBlobStore(ctx context.Context, cfg config.Config) (research.BlobStore, error) {
	switch cfg.Storage.BlobStore {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func newCompleter(cfg config.Config, prices research.Prices, logger *zap.Logger) (research.Completer, error) {
	client, err := openaiclient.New(openaiclient.Config{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.Research.Model,
		Timeout: time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return completion.NewCostLogger(client, prices, logger), nil
}

func newExtractor(cfg config.Config, logger *zap.Logger) *extractor.Extractor {
	probe := collyfetcher.New(collyfetcher.Config{
		Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	})
	var headless research.Fetcher
	var detect research.RenderDetector
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       1,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			detect = detector.NewHeuristic(0)
		}
	}
	return extractor.New(probe, headless, detect, extractor.Config{
		MaxAttempts:  cfg.Fetch.MaxAttempts,
		BaseDelay:    time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		UserAgents:   cfg.Fetch.UserAgents,
		MaxLinks:     cfg.Fetch.MaxLinks,
		MaxImages:    cfg.Fetch.MaxImages,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, logger)
}

func newProgressHub(ctx context.Context, cfg config.Config, registry *prometheus.Registry, logger *zap.Logger) (*progress.Hub, func(), error) {
	sinkList := []progress.Sink{sinks.NewLogSink(logger)}

	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, nil, fmt.Errorf("prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)

	var (
		pubsubClient *gpubsub.Client
		publisher    *eventspubsub.Publisher
	)
	if cfg.PubSub.Enabled {
		pubsubClient, err = gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher = eventspubsub.New(pubsubClient.Topic(cfg.PubSub.TopicName))
		sinkList = append(sinkList, sinks.NewPubSubSink(publisher))
	}

	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         logger,
	}, sinkList...)

	stop := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
		if publisher != nil {
			publisher.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}
	}
	return hub, stop, nil
}
