// Package main wires together the leadforge service binary.
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

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/api"
	"github.com/maximeroux/leadforge/internal/clock/system"
	"github.com/maximeroux/leadforge/internal/config"
	"github.com/maximeroux/leadforge/internal/id/uuid"
	"github.com/maximeroux/leadforge/internal/ingest"
	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/logging"
	"github.com/maximeroux/leadforge/internal/metrics"
	"github.com/maximeroux/leadforge/internal/notify"
	"github.com/maximeroux/leadforge/internal/notify/sinks"
	memorypublisher "github.com/maximeroux/leadforge/internal/publisher/memory"
	pubsubpublisher "github.com/maximeroux/leadforge/internal/publisher/pubsub"
	"github.com/maximeroux/leadforge/internal/scraper"
	"github.com/maximeroux/leadforge/internal/session"
	"github.com/maximeroux/leadforge/internal/storage/gcs"
	"github.com/maximeroux/leadforge/internal/storage/local"
	"github.com/maximeroux/leadforge/internal/storage/memory"
	"github.com/maximeroux/leadforge/internal/storage/postgres"
	"github.com/maximeroux/leadforge/internal/verify"
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.NewGenerator()

	var (
		sessionStore lead.SessionStore
		leadStore    lead.LeadStore
		profileStore lead.ProfileStore
	)
	if cfg.Database.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		sessionStore, err = postgres.NewSessionStore(pool)
		if err != nil {
			logger.Fatal("session store init failed", zap.Error(err))
		}
		leadStore, err = postgres.NewLeadStore(pool)
		if err != nil {
			logger.Fatal("lead store init failed", zap.Error(err))
		}
		profileStore, err = postgres.NewProfileStore(pool)
		if err != nil {
			logger.Fatal("profile store init failed", zap.Error(err))
		}
	} else {
		logger.Warn("database.dsn is empty, using in-memory stores")
		leadMem := memory.NewLeadStore()
		sessionStore = memory.NewSessionStore(leadMem)
		leadStore = leadMem
		profileStore = memory.NewProfileStore()
	}

	var blobs lead.BlobStore
	switch {
	case cfg.Storage.GCSBucket != "":
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Fatal("storage client init failed", zap.Error(err))
		}
		defer storageClient.Close() //nolint:errcheck // best-effort close
		blobs, err = gcs.New(storageClient, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("blob store init failed", zap.Error(err))
		}
	case cfg.Storage.LocalDir != "":
		blobs, err = local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Fatal("blob store init failed", zap.Error(err))
		}
	default:
		blobs = memory.NewBlobStore()
	}

	var publisher lead.Publisher
	if cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		pub := pubsubpublisher.New(pubsubClient)
		defer pub.Close()
		publisher = pub
	} else {
		publisher = memorypublisher.New()
	}

	hubSinks := []notify.Sink{sinks.NewLogSink(logger.Named("changes"))}
	if cfg.PubSub.ProjectID != "" {
		hubSinks = append(hubSinks,
			sinks.NewPublisherSink(publisher, cfg.Notify.ChangeTopic, logger.Named("publisher")))
	}
	hub := notify.NewHub(notify.Config{Logger: logger.Named("hub")}, hubSinks...)

	watcher := notify.NewWatcher(sessionStore, hub, notify.WatcherConfig{
		PollInterval: cfg.PollInterval(),
		TickInterval: cfg.TickInterval(),
		Clock:        clock,
		Logger:       logger.Named("watcher"),
	})

	var dispatcher session.Dispatcher
	if cfg.Worker.BaseURL != "" {
		dispatcher = scraper.NewClient(scraper.Config{
			BaseURL:   cfg.Worker.BaseURL,
			AuthToken: cfg.Worker.AuthToken,
			Timeout:   cfg.WorkerTimeout(),
		}, clock, logger.Named("scraper"))
	} else {
		logger.Warn("worker.base_url is empty, sessions will not be dispatched")
	}

	engine := session.NewEngine(session.Config{
		Sessions:   sessionStore,
		Ingestor:   ingest.New(leadStore, idGen, clock, logger.Named("ingest")),
		Profiles:   profileStore,
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Notifier:   hub,
		Clock:      clock,
		IDs:        idGen,
		Logger:     logger.Named("engine"),
	})

	verifier := verify.NewService(leadStore, verify.Heuristic{}, clock, logger.Named("verify"))

	apiCfg := api.Config{RequestTimeout: cfg.RequestTimeout()}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
		apiCfg.WebhookToken = cfg.Auth.WebhookToken
	}
	apiServer := api.NewServer(engine, leadStore, profileStore, watcher, verifier, apiCfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
